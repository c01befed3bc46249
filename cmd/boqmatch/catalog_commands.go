package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"boqmatch/internal/ingest"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the price catalog",
	}
	catalogCmd.AddCommand(newCatalogImportCommand(ctx))
	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	catalogCmd.AddCommand(newCatalogDeactivateCommand(ctx))
	return catalogCmd
}

func newCatalogImportCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import catalog entries from a CSV, XLSX or XLS file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open catalog file: %w", err)
			}
			defer file.Close()

			entries, err := ingest.ReadCatalog(file, filepath.Base(path))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "Parsed %d catalog entries from %s\n", len(entries), path)
				return nil
			}

			resp, err := ctx.client().UpsertCatalog(cmd.Context(), entries)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(out, "Imported %d entries; catalog version %s\n", resp.Count, resp.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse the file without uploading it")
	return cmd
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var includeInactive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Catalog(cmd.Context(), includeInactive)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Entries) == 0 {
				fmt.Fprintln(out, "Catalog is empty")
				return nil
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, entry := range resp.Entries {
				rows = append(rows, []string{
					entry.ID,
					entry.Code,
					truncate(entry.Description, 60),
					entry.Unit,
					strconv.FormatFloat(entry.Rate, 'f', 2, 64),
					entry.Category,
					yesNo(entry.Active),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Code", "Description", "Unit", "Rate", "Category", "Active"},
				rows,
				4,
			))
			fmt.Fprintf(out, "Version %s\n", resp.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeInactive, "all", false, "Include deactivated entries")
	return cmd
}

func newCatalogDeactivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <entry-id>",
		Short: "Retire a catalog entry from matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().DeactivateCatalogEntry(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s; catalog version %s\n", args[0], resp.Version)
			return nil
		},
	}
}
