package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"charfs/internal/seed"
)

func newSeedCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Load characters and records from a YAML seed file",
		Long: `Load a YAML seed document. The characters list is loaded through the
character devices; every other top-level list becomes entities of that
type. Loading the same file twice converges.

Examples:
  charfs seed party.yaml --dry-run
  charfs seed party.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			doc, err := seed.ParseFile(args[0])
			if err != nil {
				return err
			}

			report, err := seed.NewLoader(s.store, s.set).Load(ctx, doc, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verb := "Loaded"
			if report.DryRun {
				verb = "Would load"
			}
			fmt.Fprintf(out, "%s %d characters\n", verb, report.Characters)
			types := make([]string, 0, len(report.Records))
			for typ := range report.Records {
				types = append(types, typ)
			}
			sort.Strings(types)
			for _, typ := range types {
				fmt.Fprintf(out, "%s %d %s\n", verb, report.Records[typ], typ)
			}
			if len(report.Existing) > 0 {
				fmt.Fprintf(out, "%s %d existing entities\n", labelStyle.Render("Updated"), len(report.Existing))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and report without writing")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every entity as a YAML seed document",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, _ []string) error {
			data, err := seed.Export(ctx, s.store)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			logger.Info("Exported to %s", output)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
