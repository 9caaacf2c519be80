package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arrdeck/arrdeck/internal/config/store"
	"github.com/arrdeck/arrdeck/internal/sanitize"
	"github.com/arrdeck/arrdeck/internal/transfer"
)

// exportFileName builds the default document name for a profile slug.
func exportFileName(slug string, doc *transfer.Document, format transfer.Format) string {
	return fmt.Sprintf("arrdeck-%s-%s.%s", sanitize.FileSlug(slug), doc.ExportDate.UTC().Format("20060102-150405"), format)
}

func newExportCmd(a *app) *cobra.Command {
	var (
		profileRef string
		formatName string
		output     string
		save       bool
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export profiles to a JSON or YAML document without credentials",
		Long: `Export every profile, or one profile with --profile, to a versioned document.
Stored credentials and credential-bearing headers are never written.

The document goes to stdout unless -o names a file or directory, or --save
writes it to the instance exports directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			return a.withStore(cmd, true, func(ctx context.Context, env *environment, s *store.Store) error {
				name := formatName
				if name == "" {
					name = env.settings.ExportFormat
				}
				format, err := transfer.ParseFormat(name)
				if err != nil {
					return out.Error("Invalid export format", err)
				}

				engine := transfer.NewEngine(s, transfer.WithLogger(env.logger))
				var (
					doc  *transfer.Document
					slug = "all"
				)
				if profileRef != "" {
					p, err := resolveProfile(ctx, s, profileRef)
					if err != nil {
						return out.Error("Failed to load profile", err)
					}
					slug = p.Name
					doc, err = engine.ExportProfile(ctx, p.ID)
					if err != nil {
						return out.Error("Export failed", err)
					}
				} else {
					doc, err = engine.ExportAll(ctx)
					if err != nil {
						return out.Error("Export failed", err)
					}
				}

				var buf bytes.Buffer
				if err := transfer.Encode(&buf, doc, format); err != nil {
					return out.Error("Export failed", err)
				}

				target := output
				if save {
					if err := os.MkdirAll(env.paths.Exports, 0o755); err != nil {
						return out.Error("Export failed", err)
					}
					target = env.paths.Exports
				}
				if target == "" || target == "-" {
					_, err := cmd.OutOrStdout().Write(buf.Bytes())
					return err
				}
				if info, err := os.Stat(target); err == nil && info.IsDir() {
					target = filepath.Join(target, exportFileName(slug, doc, format))
				}
				if err := os.WriteFile(target, buf.Bytes(), 0o600); err != nil {
					return out.Error("Failed to write export", err)
				}
				return out.Success(fmt.Sprintf("Exported %d profile(s) to %s", len(doc.Profiles), target),
					map[string]any{"path": target, "profiles": len(doc.Profiles), "format": string(format)})
			})
		},
	}
	exportCmd.Flags().StringVar(&profileRef, "profile", "", "Export only this profile (ID or name)")
	exportCmd.Flags().StringVar(&formatName, "format", "", "Document format: json or yaml (default from settings)")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file or directory (default stdout)")
	exportCmd.Flags().BoolVar(&save, "save", false, "Write into the instance exports directory")
	return exportCmd
}

func newImportCmd(a *app) *cobra.Command {
	var overwrite, dryRun bool
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import profiles from an exported document (use - for stdin)",
		Long: `Import profiles from a JSON or YAML document produced by "arrdeck export".

Profiles whose name already exists are skipped unless --overwrite is given, in
which case their services are replaced. Imported profiles are never made
active and arrive without credentials. --dry-run validates the document and
lists conflicts without changing anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = a.readAll()
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return out.Error("Failed to read document", err)
			}

			return a.withStore(cmd, dryRun, func(ctx context.Context, env *environment, s *store.Store) error {
				engine := transfer.NewEngine(s, transfer.WithLogger(env.logger))

				report, err := engine.ValidateImport(ctx, data)
				if err != nil {
					return out.Error("Invalid import document", err)
				}
				if dryRun {
					if out.jsonMode {
						return out.Print(report)
					}
					fmt.Fprintf(out.out, "Document version %d exported %s (%s), %d profile(s)\n",
						report.Version, report.ExportDate.Local().Format("2006-01-02 15:04"), report.Format, report.ProfileCount)
					for _, name := range report.Names {
						fmt.Fprintf(out.out, "  %s\n", sanitize.Display(name, displayNameWidth))
					}
					if len(report.Conflicts) > 0 {
						action := "skipped"
						if overwrite {
							action = "overwritten"
						}
						fmt.Fprintf(out.out, "Existing profiles that would be %s: %s\n", action, displayNames(report.Conflicts))
					}
					return nil
				}

				applied, err := engine.ImportAll(ctx, data, overwrite)
				if err != nil {
					return out.Error("Import failed", err)
				}
				skipped := []string{}
				if !overwrite {
					skipped = report.Conflicts
				}
				views := make([]profileView, 0, len(applied))
				for _, p := range applied {
					views = append(views, newProfileView(p))
				}
				message := fmt.Sprintf("Imported %d profile(s)", len(applied))
				if len(skipped) > 0 {
					message += fmt.Sprintf(", skipped existing: %s", displayNames(skipped))
				}
				return out.Success(message, map[string]any{"profiles": views, "skipped": skipped})
			})
		},
	}
	importCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace profiles whose name already exists")
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only")
	return importCmd
}

func displayNames(names []string) string {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		cleaned = append(cleaned, sanitize.Display(n, displayNameWidth))
	}
	return strings.Join(cleaned, ", ")
}
