package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config"
)

func settingsView(path string, exists bool, s config.Settings) map[string]any {
	return map[string]any{
		"path":          path,
		"exists":        exists,
		"instance":      s.Instance,
		"secretBackend": s.SecretBackend,
		"logLevel":      s.LogLevel,
		"logFormat":     s.LogFormat,
		"exportFormat":  s.ExportFormat,
	}
}

func (a *app) settingsPath() string {
	home := config.ExpandPath(strings.TrimSpace(a.home))
	if home == "" {
		home = config.GetHome()
	}
	return config.SettingsPath(home)
}

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update installation settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings (file plus environment overrides)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			path := a.settingsPath()
			settings, exists, err := config.LoadSettings(path)
			if err != nil {
				return out.Error("Failed to load settings", err)
			}
			if out.jsonMode {
				return out.Print(settingsView(path, exists, settings))
			}
			source := path
			if !exists {
				source += " (not created yet, defaults)"
			}
			rows := [][]string{
				{"instance", settings.Instance},
				{"secret_backend", settings.SecretBackend},
				{"log_level", settings.LogLevel},
				{"log_format", settings.LogFormat},
				{"export_format", settings.ExportFormat},
			}
			fmt.Fprintf(out.out, "Settings: %s\n", source)
			return out.Table([]string{"KEY", "VALUE"}, rows, nil, nil)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update settings.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			flags := cmd.Flags()
			path := a.settingsPath()

			settings, _, err := config.ReadSettingsFile(path)
			if err != nil {
				return out.Error("Failed to load settings", err)
			}
			changed := false
			if flags.Changed("default-instance") {
				value, _ := flags.GetString("default-instance")
				settings.Instance = strings.TrimSpace(value)
				changed = true
			}
			for flag, field := range map[string]*string{
				"secret-backend": &settings.SecretBackend,
				"level":          &settings.LogLevel,
				"format":         &settings.LogFormat,
				"export-format":  &settings.ExportFormat,
			} {
				if flags.Changed(flag) {
					value, _ := flags.GetString(flag)
					*field = strings.ToLower(strings.TrimSpace(value))
					changed = true
				}
			}
			if !changed {
				return out.Error("Nothing to update; pass at least one flag", nil)
			}
			if err := settings.Validate(); err != nil {
				return out.Error("Invalid settings", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return out.Error("Failed to save settings", err)
			}
			if err := settings.Save(path); err != nil {
				return out.Error("Failed to save settings", err)
			}
			return out.Success(fmt.Sprintf("Saved %s", path), settingsView(path, true, settings))
		},
	}
	setCmd.Flags().String("default-instance", "", "Instance used when --instance is not given")
	setCmd.Flags().String("secret-backend", "", "Secret backend: auto, file or keychain")
	setCmd.Flags().String("level", "", "Log level: debug, info, warn or error")
	setCmd.Flags().String("format", "", "Console log format: console or json")
	setCmd.Flags().String("export-format", "", "Default export format: json or yaml")

	configCmd.AddCommand(showCmd, setCmd)
	return configCmd
}
