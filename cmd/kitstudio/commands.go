package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kitstudio/internal/export"
	"kitstudio/internal/ingest"
	"kitstudio/internal/pipeline"
)

func (c *cli) importCmd() *cobra.Command {
	var kitID string
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Upload and classify audio files or zip archives into the library",
		Long: `Reads each path, expands zip archives, uploads the audio to object storage
and classifies it into the library. With --kit, every uploaded sound is also
added to the kit and given a creative name.

The batch report is printed as JSON. A rate-limited batch keeps what was
already uploaded and exits non-zero.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]ingest.File, 0, len(args))
			for _, p := range args {
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				files = append(files, ingest.File{Name: filepath.Base(p), Data: data})
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				if kitID != "" {
					if _, _, err := a.service.GetKit(cmd.Context(), kitID); err != nil {
						return err
					}
				}
				report, runErr := a.uploader.Run(cmd.Context(), files)
				out := struct {
					pipeline.Report
					Renamed []pipeline.Rename `json:"renamed,omitempty"`
				}{Report: report}
				if runErr == nil && kitID != "" {
					for _, s := range report.Uploaded {
						r, err := a.assembler.AddToKit(cmd.Context(), kitID, s.ID)
						if err != nil && !errors.Is(err, pipeline.ErrRateLimited) {
							runErr = err
							break
						}
						out.Renamed = append(out.Renamed, r)
					}
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&kitID, "kit", "", "add uploaded sounds to this kit")
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <kit-id>",
		Short: "Regenerate the creative name of every sound in a kit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				report, err := a.assembler.RenameAll(cmd.Context(), args[0])
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <kit-id>",
		Short: "Write a kit as a zip archive with one folder per category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				kit, _, err := a.service.GetKit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				path := output
				if path == "" {
					path = export.ArchiveName(kit.Name)
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				report, err := a.exporter.Export(cmd.Context(), kit.ID, f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(path)
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d files, %d failed)\n", path, len(report.Files), len(report.Failed))
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (defaults to the kit name)")
	return cmd
}

func (c *cli) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current application document as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				return printJSON(cmd.OutOrStdout(), a.service.Snapshot())
			})
		},
	}
}
