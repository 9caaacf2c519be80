package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/version"
)

// Exit codes by error kind, so scripts can tell bad input from I/O trouble.
const (
	exitFailure    = 1
	exitValidation = 2
	exitNotFound   = 3
	exitData       = 4
	exitStorage    = 5
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arrdeck",
		Short: "arrdeck - profiles and credentials for your *arr services",
		Long: `arrdeck keeps named profiles of media-service connections (Radarr, Sonarr,
Lidarr, SABnzbd, NZBGet, Tautulli, Overseerr, Wake-on-LAN) and stores their
credentials in a separate encrypted vault.

Exactly one profile is active at a time. Profiles can be exported and
imported; exported documents never contain credentials.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.FormatVersion(version.String())
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&a.home, "home", "", "arrdeck home directory (default $ARRDECK_HOME or ~/.arrdeck)")
	rootCmd.PersistentFlags().StringVar(&a.instance, "instance", "", "instance name (default from settings)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newProfileCmd(a),
		newServiceCmd(a),
		newSecretCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

func main() {
	a := newApp(os.Stdin, os.Stderr)
	if err := newRootCmd(a).Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case store.IsValidation(err):
		return exitValidation
	case store.IsNotFound(err):
		return exitNotFound
	case store.IsData(err):
		return exitData
	case store.IsStorage(err):
		return exitStorage
	}
	return exitFailure
}
