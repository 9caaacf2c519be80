package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/sanitize"
)

const displayNameWidth = 40

type profileView struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	IsEnabled      bool                `json:"isEnabled"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Configurations []configurationView `json:"serviceConfigurations"`
}

func newProfileView(p store.Profile) profileView {
	view := profileView{
		ID:             p.ID,
		Name:           p.Name,
		IsEnabled:      p.IsEnabled,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		Configurations: make([]configurationView, 0, len(p.Configurations)),
	}
	for _, cfg := range p.Configurations {
		view.Configurations = append(view.Configurations, newConfigurationView(cfg))
	}
	return view
}

func profileRows(profiles []store.Profile) [][]string {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		active := ""
		if p.IsEnabled {
			active = "*"
		}
		rows = append(rows, []string{
			active,
			sanitize.Display(p.Name, displayNameWidth),
			p.ID,
			strconv.Itoa(len(p.Configurations)),
			p.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

// resolveProfile accepts a profile id or a name.
func resolveProfile(ctx context.Context, s *store.Store, ref string) (store.Profile, error) {
	p, err := s.Profile(ctx, ref)
	if err == nil || !store.IsNotFound(err) {
		return p, err
	}
	return s.ProfileByName(ctx, ref)
}

// profileOrActive resolves ref, or the active profile when ref is empty.
func profileOrActive(ctx context.Context, s *store.Store, ref string) (store.Profile, error) {
	if ref == "" {
		return s.EnabledProfile(ctx)
	}
	return resolveProfile(ctx, s, ref)
}

func newProfileCmd(a *app) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, true, func(ctx context.Context, _ *environment, s *store.Store) error {
				profiles, err := s.Profiles(ctx)
				if err != nil {
					return out.Error("Failed to list profiles", err)
				}
				views := make([]profileView, 0, len(profiles))
				for _, p := range profiles {
					views = append(views, newProfileView(p))
				}
				return out.Table(
					[]string{"ACTIVE", "NAME", "ID", "SERVICES", "UPDATED"},
					profileRows(profiles),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					views,
				)
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [ID|NAME]",
		Short: "Show a profile and its services (default: the active profile)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return a.withStore(cmd, true, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := profileOrActive(ctx, s, ref)
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				if out.jsonMode {
					return out.Print(newProfileView(p))
				}
				state := "inactive"
				if p.IsEnabled {
					state = "active"
				}
				fmt.Fprintf(out.out, "Profile %s (%s)\n", sanitize.Display(p.Name, displayNameWidth), state)
				fmt.Fprintf(out.out, "  ID:      %s\n", p.ID)
				fmt.Fprintf(out.out, "  Created: %s\n", p.CreatedAt.Local().Format(time.RFC3339))
				fmt.Fprintf(out.out, "  Updated: %s\n", p.UpdatedAt.Local().Format(time.RFC3339))
				return out.Table(configurationHeaders, configurationRows(ctx, s, p.Configurations), nil, nil)
			})
		},
	}

	var activate bool
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := s.CreateProfile(ctx, args[0])
				if err != nil {
					return out.Error("Failed to create profile", err)
				}
				if activate && !p.IsEnabled {
					if p, err = s.SwitchTo(ctx, p.ID); err != nil {
						return out.Error("Profile created but activation failed", err)
					}
				}
				return out.Success(fmt.Sprintf("Created profile %s (%s)", sanitize.Display(p.Name, displayNameWidth), p.ID),
					map[string]any{"profile": newProfileView(p)})
			})
		},
	}
	createCmd.Flags().BoolVar(&activate, "switch", false, "Make the new profile active")

	renameCmd := &cobra.Command{
		Use:   "rename ID|NAME NEW_NAME",
		Short: "Rename a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := resolveProfile(ctx, s, args[0])
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				renamed, err := s.RenameProfile(ctx, p.ID, args[1])
				if err != nil {
					return out.Error("Failed to rename profile", err)
				}
				return out.Success(fmt.Sprintf("Renamed profile to %s", sanitize.Display(renamed.Name, displayNameWidth)),
					map[string]any{"profile": newProfileView(renamed)})
			})
		},
	}

	var successor string
	deleteCmd := &cobra.Command{
		Use:   "delete ID|NAME",
		Short: "Delete a profile, its services and their credentials",
		Long: `Delete a profile together with its service configurations and their stored
credentials. Deleting the active profile activates another one first: the
profile named by --switch-to, or else the oldest remaining profile. The last
remaining profile cannot be deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := resolveProfile(ctx, s, args[0])
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				successorID := ""
				if successor != "" {
					next, err := resolveProfile(ctx, s, successor)
					if err != nil {
						return out.Error("Failed to load successor profile", err)
					}
					successorID = next.ID
				}
				if err := s.DeleteProfileSwitchingTo(ctx, p.ID, successorID); err != nil {
					return out.Error("Failed to delete profile", err)
				}
				active, err := s.EnabledProfile(ctx)
				if err != nil {
					return out.Error("Profile deleted but the active profile could not be read", err)
				}
				return out.Success(
					fmt.Sprintf("Deleted profile %s; active profile is %s",
						sanitize.Display(p.Name, displayNameWidth), sanitize.Display(active.Name, displayNameWidth)),
					map[string]any{"deleted": p.ID, "active": newProfileView(active)},
				)
			})
		},
	}
	deleteCmd.Flags().StringVar(&successor, "switch-to", "", "Profile to activate when deleting the active one")

	switchCmd := &cobra.Command{
		Use:   "switch ID|NAME",
		Short: "Make a profile the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, false, func(ctx context.Context, _ *environment, s *store.Store) error {
				p, err := resolveProfile(ctx, s, args[0])
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				active, err := s.SwitchTo(ctx, p.ID)
				if err != nil {
					return out.Error("Failed to switch profile", err)
				}
				return out.Success(fmt.Sprintf("Active profile: %s", sanitize.Display(active.Name, displayNameWidth)),
					map[string]any{"profile": newProfileView(active)})
			})
		},
	}

	profileCmd.AddCommand(listCmd, showCmd, createCmd, renameCmd, deleteCmd, switchCmd)
	return profileCmd
}
