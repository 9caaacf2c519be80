package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/sanitize"
	"github.com/arrdeck/arrdeck/internal/services"
)

func newSecretCmd(a *app) *cobra.Command {
	secretCmd := &cobra.Command{
		Use:     "secret",
		Aliases: []string{"secrets"},
		Short:   "Manage stored service credentials",
		Long: `Manage the credentials kept in the encrypted vault. Secret values are read
from a hidden prompt on a terminal, or one per line from stdin otherwise, and
are never printed.`,
	}

	setAPIKeyCmd := &cobra.Command{
		Use:   "set-api-key CONFIG_ID",
		Short: "Store the API key of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			key, err := a.readSecret("API key")
			if err != nil {
				return out.Error("Failed to read API key", err)
			}
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				if err := s.Vault().SetAPIKey(ctx, args[0], key); err != nil {
					return out.Error("Failed to store API key", err)
				}
				return out.Success(fmt.Sprintf("Stored API key for %s", args[0]), map[string]any{"id": args[0]})
			})
		},
	}

	var username string
	setCredentialsCmd := &cobra.Command{
		Use:   "set-credentials CONFIG_ID",
		Short: "Store the username and password of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			user := username
			if user == "" {
				var err error
				if user, err = a.readSecret("Username"); err != nil {
					return out.Error("Failed to read username", err)
				}
			}
			password, err := a.readSecret("Password")
			if err != nil {
				return out.Error("Failed to read password", err)
			}
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				if err := s.Vault().SetCredentials(ctx, args[0], user, password); err != nil {
					return out.Error("Failed to store credentials", err)
				}
				return out.Success(fmt.Sprintf("Stored credentials for %s", args[0]), map[string]any{"id": args[0]})
			})
		},
	}
	setCredentialsCmd.Flags().StringVar(&username, "username", "", "Username (prompted when omitted)")

	var mac, broadcast string
	setWOLCmd := &cobra.Command{
		Use:   "set-wol CONFIG_ID",
		Short: "Store the Wake-on-LAN target of a wakeOnLAN service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				if err := s.Vault().SetWakeOnLAN(ctx, args[0], mac, broadcast); err != nil {
					return out.Error("Failed to store Wake-on-LAN target", err)
				}
				target, _, err := s.Vault().WakeOnLAN(ctx, args[0])
				if err != nil {
					return out.Error("Failed to read Wake-on-LAN target", err)
				}
				return out.Success(
					fmt.Sprintf("Stored Wake-on-LAN target %s via %s", target.MACAddress, target.BroadcastAddress),
					map[string]any{"id": args[0], "macAddress": target.MACAddress, "broadcastAddress": target.BroadcastAddress},
				)
			})
		},
	}
	setWOLCmd.Flags().StringVar(&mac, "mac", "", "MAC address, e.g. 00:11:22:33:44:55")
	setWOLCmd.Flags().StringVar(&broadcast, "broadcast", "", "Broadcast address (default "+store.DefaultBroadcastAddress+")")
	_ = setWOLCmd.MarkFlagRequired("mac")

	var clearAll, confirmed bool
	clearCmd := &cobra.Command{
		Use:   "clear [CONFIG_ID]",
		Short: "Delete the stored credentials of a service, or of every service with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			switch {
			case clearAll && len(args) > 0:
				return out.Error("Failed to clear secrets", fmt.Errorf("--all does not take a CONFIG_ID"))
			case clearAll && !confirmed:
				return out.Error("Refusing to clear every stored credential without --yes", nil)
			case !clearAll && len(args) == 0:
				return out.Error("Failed to clear secrets", fmt.Errorf("CONFIG_ID or --all is required"))
			}
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				if clearAll {
					if err := s.Vault().DeleteAll(ctx); err != nil {
						return out.Error("Failed to clear secrets", err)
					}
					return out.Success("Cleared all stored credentials", nil)
				}
				if _, err := s.Configuration(ctx, args[0]); err != nil {
					return out.Error("Failed to load service", err)
				}
				if err := s.Vault().DeleteSecrets(ctx, args[0]); err != nil {
					return out.Error("Failed to clear secrets", err)
				}
				return out.Success(fmt.Sprintf("Cleared credentials for %s", args[0]), map[string]any{"id": args[0]})
			})
		},
	}
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "Delete every stored credential")
	clearCmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm --all")

	var checkProfile string
	checkCmd := &cobra.Command{
		Use:   "check [CONFIG_ID]",
		Short: "Check that services are valid and have their credentials stored",
		Long: `Check one service configuration, or every configuration of a profile
(default: the active profile). The command fails when any checked service is
invalid or misses a required credential.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, true, func(ctx context.Context, _ *environment, s *store.Store) error {
				var configs []services.Configuration
				if len(args) == 1 {
					cfg, err := s.Configuration(ctx, args[0])
					if err != nil {
						return out.Error("Failed to load service", err)
					}
					configs = append(configs, cfg)
				} else {
					p, err := profileOrActive(ctx, s, checkProfile)
					if err != nil {
						return out.Error("Failed to load profile", err)
					}
					configs = p.Configurations
				}

				var (
					rows   [][]string
					failed int
				)
				results := make([]map[string]any, 0, len(configs))
				for _, cfg := range configs {
					status := "ok"
					if err := s.Vault().ValidateConfiguration(ctx, cfg); err != nil {
						if !store.IsValidation(err) {
							return out.Error("Failed to check service", err)
						}
						status = err.Error()
						failed++
					}
					rows = append(rows, []string{cfg.ID, string(cfg.Type), sanitize.Display(status, displayHostWidth)})
					results = append(results, map[string]any{
						"id":          cfg.ID,
						"serviceType": cfg.Type,
						"valid":       status == "ok",
						"status":      status,
					})
				}
				if err := out.Table([]string{"ID", "TYPE", "STATUS"}, rows, nil, results); err != nil {
					return err
				}
				if failed > 0 {
					return out.Error(fmt.Sprintf("%d of %d services failed the check", failed, len(rows)),
						store.ValidationError{Message: "incomplete configuration"})
				}
				return nil
			})
		},
	}
	checkCmd.Flags().StringVar(&checkProfile, "profile", "", "Profile ID or name")

	secretCmd.AddCommand(setAPIKeyCmd, setCredentialsCmd, setWOLCmd, clearCmd, checkCmd)
	return secretCmd
}
