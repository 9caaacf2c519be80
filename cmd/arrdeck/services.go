package main

import (
	"context"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/sanitize"
	"github.com/arrdeck/arrdeck/internal/services"
)

const displayHostWidth = 48

type configurationView struct {
	ID                 string            `json:"id"`
	ProfileID          string            `json:"profileId"`
	ServiceType        string            `json:"serviceType"`
	IsEnabled          bool              `json:"isEnabled"`
	Host               string            `json:"host"`
	AuthenticationType string            `json:"authenticationType"`
	Headers            map[string]string `json:"headers"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

func newConfigurationView(cfg services.Configuration) configurationView {
	headers := cfg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return configurationView{
		ID:                 cfg.ID,
		ProfileID:          cfg.ProfileID,
		ServiceType:        string(cfg.Type),
		IsEnabled:          cfg.IsEnabled,
		Host:               cfg.Host,
		AuthenticationType: string(cfg.AuthType),
		Headers:            headers,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
}

var configurationHeaders = []string{"ID", "TYPE", "ENABLED", "HOST", "AUTH", "STATUS"}

func configurationRows(ctx context.Context, s *store.Store, configs []services.Configuration) [][]string {
	rows := make([][]string, 0, len(configs))
	for _, cfg := range configs {
		rows = append(rows, []string{
			cfg.ID,
			string(cfg.Type),
			yesNo(cfg.IsEnabled),
			sanitize.Display(cfg.Host, displayHostWidth),
			string(cfg.AuthType),
			configurationStatus(ctx, s, cfg),
		})
	}
	return rows
}

func configurationStatus(ctx context.Context, s *store.Store, cfg services.Configuration) string {
	if err := s.Vault().ValidateConfiguration(ctx, cfg); err != nil {
		return sanitize.Display(err.Error(), displayHostWidth)
	}
	return "ok"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// parseHeaders turns repeated NAME=VALUE flags into a header map keyed by
// canonical header names, so --header on update replaces an existing entry.
func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, raw := range values {
		name, value, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, store.ValidationError{Field: "headers", Message: fmt.Sprintf("expected NAME=VALUE, got %q", raw)}
		}
		headers[textproto.CanonicalMIMEHeaderKey(name)] = value
	}
	return headers, nil
}

// secretFlags collects the credential inputs shared by attach and the
// secret commands.
type secretFlags struct {
	prompt    bool
	username  string
	mac       string
	broadcast string
}

func (f *secretFlags) register(cmd *cobra.Command, withPrompt bool) {
	if withPrompt {
		cmd.Flags().BoolVar(&f.prompt, "with-secrets", false, "Prompt for the API key or password (read from stdin when not a terminal)")
	}
	cmd.Flags().StringVar(&f.username, "username", "", "Username for username/password services")
	cmd.Flags().StringVar(&f.mac, "mac", "", "MAC address for wakeOnLAN")
	cmd.Flags().StringVar(&f.broadcast, "broadcast", "", "Broadcast address for wakeOnLAN (default "+store.DefaultBroadcastAddress+")")
}

// collect builds the Secrets for auth, prompting when requested.
func (f *secretFlags) collect(a *app, auth services.AuthType) (*store.Secrets, error) {
	sec := &store.Secrets{
		Username:         f.username,
		MACAddress:       f.mac,
		BroadcastAddress: f.broadcast,
	}
	if f.prompt {
		switch auth {
		case services.AuthAPIKey:
			key, err := a.readSecret("API key")
			if err != nil {
				return nil, err
			}
			sec.APIKey = key
		case services.AuthUsernamePassword:
			if sec.Username == "" {
				username, err := a.readSecret("Username")
				if err != nil {
					return nil, err
				}
				sec.Username = username
			}
			password, err := a.readSecret("Password")
			if err != nil {
				return nil, err
			}
			sec.Password = password
		}
	}
	if *sec == (store.Secrets{}) {
		return nil, nil
	}
	return sec, nil
}

func newServiceCmd(a *app) *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:     "service",
		Aliases: []string{"services"},
		Short:   "Manage service configurations",
	}

	var listProfile string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the services of a profile (default: the active profile)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, true, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := profileOrActive(ctx, s, listProfile)
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				views := make([]configurationView, 0, len(p.Configurations))
				for _, cfg := range p.Configurations {
					views = append(views, newConfigurationView(cfg))
				}
				return out.Table(configurationHeaders, configurationRows(ctx, s, p.Configurations), nil, views)
			})
		},
	}
	listCmd.Flags().StringVar(&listProfile, "profile", "", "Profile ID or name")

	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "List supported service types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			descriptors := services.Descriptors()
			rows := make([][]string, 0, len(descriptors))
			data := make([]map[string]any, 0, len(descriptors))
			for _, d := range descriptors {
				port := ""
				if d.DefaultPort > 0 {
					port = strconv.Itoa(d.DefaultPort)
				}
				rows = append(rows, []string{string(d.Type), d.DisplayName, string(d.Auth), yesNo(d.HostRequired), port})
				data = append(data, map[string]any{
					"serviceType":        d.Type,
					"displayName":        d.DisplayName,
					"authenticationType": d.Auth,
					"hostRequired":       d.HostRequired,
					"defaultPort":        d.DefaultPort,
				})
			}
			return out.Table(
				[]string{"TYPE", "NAME", "AUTH", "HOST", "PORT"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				data,
			)
		},
	}

	var (
		attachProfile  string
		attachHost     string
		attachDisabled bool
		attachHeaders  []string
		attachSecrets  secretFlags
	)
	attachCmd := &cobra.Command{
		Use:   "attach TYPE",
		Short: "Add a service configuration to a profile",
		Long: `Add a service configuration to a profile (default: the active profile).

Credentials can be stored in the same step: --with-secrets prompts for the API
key or password, --username supplies the user name and --mac/--broadcast the
wakeOnLAN target. Run "arrdeck service types" for the supported types.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			serviceType := services.Type(args[0])
			descriptor, ok := services.Lookup(serviceType)
			if !ok {
				return out.Error("Failed to attach service", store.ValidationError{
					Field:   "serviceType",
					Message: fmt.Sprintf("unknown service type %q", args[0]),
				})
			}
			headers, err := parseHeaders(attachHeaders)
			if err != nil {
				return out.Error("Failed to attach service", err)
			}
			secrets, err := attachSecrets.collect(a, descriptor.Auth)
			if err != nil {
				return out.Error("Failed to read secrets", err)
			}
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := profileOrActive(ctx, s, attachProfile)
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				cfg, err := s.Attach(ctx, p.ID, services.Configuration{
					Type:      serviceType,
					IsEnabled: !attachDisabled,
					Host:      attachHost,
					Headers:   headers,
				}, secrets)
				if err != nil {
					return out.Error("Failed to attach service", err)
				}
				return out.Success(
					fmt.Sprintf("Attached %s (%s) to %s", descriptor.DisplayName, cfg.ID, sanitize.Display(p.Name, displayNameWidth)),
					map[string]any{"configuration": newConfigurationView(cfg), "secretsStored": secrets != nil},
				)
			})
		},
	}
	attachCmd.Flags().StringVar(&attachProfile, "profile", "", "Profile ID or name")
	attachCmd.Flags().StringVar(&attachHost, "host", "", "Base URL, e.g. http://nas.local:7878")
	attachCmd.Flags().BoolVar(&attachDisabled, "disabled", false, "Store the configuration disabled")
	attachCmd.Flags().StringArrayVar(&attachHeaders, "header", nil, "Extra request header NAME=VALUE (repeatable)")
	attachSecrets.register(attachCmd, true)

	var (
		updateHost         string
		updateEnable       bool
		updateDisable      bool
		updateHeaders      []string
		updateClearHeaders bool
	)
	updateCmd := &cobra.Command{
		Use:   "update CONFIG_ID",
		Short: "Change host, headers or enabled state of a service configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			if updateEnable && updateDisable {
				return out.Error("Failed to update service", fmt.Errorf("--enable and --disable are mutually exclusive"))
			}
			headers, err := parseHeaders(updateHeaders)
			if err != nil {
				return out.Error("Failed to update service", err)
			}
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				cfg, err := s.Configuration(ctx, args[0])
				if err != nil {
					return out.Error("Failed to load service", err)
				}
				if cmd.Flags().Changed("host") {
					cfg.Host = updateHost
				}
				switch {
				case updateEnable:
					cfg.IsEnabled = true
				case updateDisable:
					cfg.IsEnabled = false
				}
				if updateClearHeaders {
					cfg.Headers = map[string]string{}
				}
				if len(headers) > 0 {
					if cfg.Headers == nil {
						cfg.Headers = map[string]string{}
					}
					for k, v := range headers {
						cfg.Headers[k] = v
					}
				}
				updated, err := s.UpdateConfiguration(ctx, cfg)
				if err != nil {
					return out.Error("Failed to update service", err)
				}
				return out.Success(fmt.Sprintf("Updated %s (%s)", updated.Type, updated.ID),
					map[string]any{"configuration": newConfigurationView(updated)})
			})
		},
	}
	updateCmd.Flags().StringVar(&updateHost, "host", "", "New base URL")
	updateCmd.Flags().BoolVar(&updateEnable, "enable", false, "Enable the configuration")
	updateCmd.Flags().BoolVar(&updateDisable, "disable", false, "Disable the configuration")
	updateCmd.Flags().StringArrayVar(&updateHeaders, "header", nil, "Set request header NAME=VALUE (repeatable)")
	updateCmd.Flags().BoolVar(&updateClearHeaders, "clear-headers", false, "Remove all headers before applying --header")

	detachCmd := &cobra.Command{
		Use:   "detach CONFIG_ID",
		Short: "Remove a service configuration and its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				if err := s.Detach(ctx, args[0]); err != nil {
					return out.Error("Failed to detach service", err)
				}
				return out.Success(fmt.Sprintf("Detached %s", args[0]), map[string]any{"id": args[0]})
			})
		},
	}

	serviceCmd.AddCommand(listCmd, typesCmd, attachCmd, updateCmd, detachCmd)
	return serviceCmd
}
