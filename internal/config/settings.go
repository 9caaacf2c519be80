package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Secret backend modes.
const (
	SecretBackendAuto     = "auto"     // keychain when reachable, encrypted file always
	SecretBackendFile     = "file"     // encrypted file only
	SecretBackendKeychain = "keychain" // keychain forced on, encrypted file always
)

// Environment overrides applied after the settings file is read.
const (
	SecretBackendEnv = "ARRDECK_SECRET_BACKEND"
	LogLevelEnv      = "ARRDECK_LOG_LEVEL"
)

// Settings holds installation-level options read from settings.toml.
type Settings struct {
	Instance      string `toml:"instance"`
	SecretBackend string `toml:"secret_backend"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	ExportFormat  string `toml:"export_format"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		Instance:      DefaultInstance,
		SecretBackend: SecretBackendAuto,
		LogLevel:      "warn",
		LogFormat:     "console",
		ExportFormat:  "json",
	}
}

// LoadSettings reads path (missing file means defaults), applies environment
// overrides and validates the result. The boolean reports whether the file
// existed.
func LoadSettings(path string) (Settings, bool, error) {
	settings, exists, err := ReadSettingsFile(path)
	if err != nil {
		return Settings{}, exists, err
	}

	if v := strings.TrimSpace(os.Getenv(SecretBackendEnv)); v != "" {
		settings.SecretBackend = v
	}
	if v := strings.TrimSpace(os.Getenv(LogLevelEnv)); v != "" {
		settings.LogLevel = v
	}

	settings.normalize()
	if err := settings.Validate(); err != nil {
		return Settings{}, exists, err
	}
	return settings, exists, nil
}

// ReadSettingsFile reads path without environment overrides or validation,
// for callers that rewrite the file.
func ReadSettingsFile(path string) (Settings, bool, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, false, nil
	}

	file, err := os.Open(ExpandPath(path))
	switch {
	case err == nil:
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&settings); err != nil {
			return Settings{}, true, fmt.Errorf("parse settings: %w", err)
		}
		settings.normalize()
		return settings, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return settings, false, nil
	default:
		return Settings{}, false, fmt.Errorf("open settings: %w", err)
	}
}

func (s *Settings) normalize() {
	defaults := DefaultSettings()
	s.Instance = strings.TrimSpace(s.Instance)
	if s.Instance == "" {
		s.Instance = defaults.Instance
	}
	s.SecretBackend = strings.ToLower(strings.TrimSpace(s.SecretBackend))
	if s.SecretBackend == "" {
		s.SecretBackend = defaults.SecretBackend
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	if s.LogLevel == "" {
		s.LogLevel = defaults.LogLevel
	}
	s.LogFormat = strings.ToLower(strings.TrimSpace(s.LogFormat))
	if s.LogFormat == "" {
		s.LogFormat = defaults.LogFormat
	}
	s.ExportFormat = strings.ToLower(strings.TrimSpace(s.ExportFormat))
	if s.ExportFormat == "" {
		s.ExportFormat = defaults.ExportFormat
	}
}

// Validate checks enumerated settings.
func (s Settings) Validate() error {
	switch s.SecretBackend {
	case SecretBackendAuto, SecretBackendFile, SecretBackendKeychain:
	default:
		return fmt.Errorf("secret_backend must be auto, file or keychain (got %q)", s.SecretBackend)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error (got %q)", s.LogLevel)
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json (got %q)", s.LogFormat)
	}
	switch s.ExportFormat {
	case "json", "yaml":
	default:
		return fmt.Errorf("export_format must be json or yaml (got %q)", s.ExportFormat)
	}
	if strings.ContainsAny(s.Instance, `/\`) {
		return fmt.Errorf("instance %q must not contain path separators", s.Instance)
	}
	return nil
}

// Save writes settings to path as TOML.
func (s Settings) Save(path string) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
