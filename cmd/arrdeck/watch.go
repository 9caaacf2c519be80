package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/sanitize"
)

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a line whenever profiles, services or the active profile change",
		Long: `Watch the instance store for changes made by any arrdeck process and print
one line per change until interrupted. The store is opened read-only, so
watch can run next to a writer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, true, func(ctx context.Context, env *environment, s *store.Store) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				events, err := s.Watch(ctx, interval)
				if err != nil {
					return out.Error("Failed to watch store", err)
				}
				if !out.jsonMode {
					fmt.Fprintf(out.errOut, "Watching %s (Ctrl+C to stop)\n", s.DBPath())
				}
				for ev := range events {
					active := ""
					if p, err := s.EnabledProfile(ctx); err == nil {
						active = p.Name
					}
					if out.jsonMode {
						if err := out.Print(map[string]any{
							"time":                  time.Now().UTC().Format(time.RFC3339),
							"profilesChanged":       ev.ProfilesChanged,
							"configurationsChanged": ev.ConfigurationsChanged,
							"activeProfileChanged":  ev.ActiveProfileChanged,
							"activeProfile":         active,
						}); err != nil {
							return err
						}
						continue
					}
					var changed []string
					if ev.ProfilesChanged {
						changed = append(changed, "profiles")
					}
					if ev.ConfigurationsChanged {
						changed = append(changed, "services")
					}
					if ev.ActiveProfileChanged {
						changed = append(changed, "active profile")
					}
					fmt.Fprintf(out.out, "%s  changed: %s  active: %s\n",
						time.Now().Format("15:04:05"), strings.Join(changed, ", "), sanitize.Display(active, displayNameWidth))
				}
				return nil
			})
		},
	}
	watchCmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval (minimum 500ms)")
	return watchCmd
}
