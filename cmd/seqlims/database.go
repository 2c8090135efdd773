package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/ui"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management",
	Long:  `Manage the seqlims relational database.`,
	Example: `  seqlims db info
  seqlims db migrate
  seqlims db migrate-paths`,
}

var dbInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database statistics",
	Long:  `Display the database backend and the number of rows in each entity table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runDBInfo)
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables",
	Long:  `Create every table and index that does not exist yet. Existing data is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening the database applies the schema
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			printSuccess("Schema is up to date (%s)", app.DB.Driver())
			return nil
		})
	},
}

var dbMigratePathsCmd = &cobra.Command{
	Use:   "migrate-paths",
	Short: "Rewrite absolute file paths as base-relative paths",
	Long: `Rewrite absolute stored file paths so that they are relative to the
base directory of their file class. Nothing is changed when any absolute
path lies outside its base directory; the offending paths are reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runDBMigratePaths)
	},
}

var dbInfoFormat string

func init() {
	dbCmd.AddCommand(dbInfoCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbMigratePathsCmd)

	dbInfoCmd.Flags().StringVarP(&dbInfoFormat, "format", "f", "table", "Output format (table|json)")
}

func runDBInfo(ctx context.Context, app *cli.App) error {
	if err := validateFormat(dbInfoFormat, "table", "json"); err != nil {
		return err
	}
	info, err := app.DB.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}
	if dbInfoFormat == "json" {
		return writeJSON(os.Stdout, info)
	}

	printHeading("Database Information")
	fmt.Printf("%s %s\n", colorize(colorBold, "Driver:"), info.Driver)
	if info.Path != "" {
		fmt.Printf("%s %s\n", colorize(colorBold, "Path:"), info.Path)
		if fileInfo, err := os.Stat(info.Path); err == nil {
			fmt.Printf("%s %s\n", colorize(colorBold, "Size:"), ui.Bytes(fileInfo.Size()))
			fmt.Printf("%s %s\n", colorize(colorBold, "Modified:"), ui.Ago(fileInfo.ModTime()))
		}
	}

	tables := make([]string, 0, len(info.Counts))
	for table := range info.Counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	fmt.Println()
	t := ui.NewTable(os.Stdout, "Table", "Rows")
	for _, table := range tables {
		t.Append(table, ui.Count(info.Counts[table]))
	}
	t.Render()
	return nil
}

func runDBMigratePaths(ctx context.Context, app *cli.App) error {
	cfg := app.Config.Storage
	if app.Config.Storage.Blob.Driver == "s3" {
		return fmt.Errorf("path migration only applies to the filesystem blob driver")
	}

	var result *database.PathMigrationResult
	err := ui.ShowSpinner("Rewriting file paths", func() error {
		var err error
		result, err = app.DB.MigrateAbsoluteToRelativePaths(ctx, database.BaseDirectories{
			SequenceFiles:  cfg.SequenceFileDir,
			ReferenceFiles: cfg.ReferenceFileDir,
			OutputFiles:    cfg.OutputFileDir,
		})
		return err
	})
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(result.Rewritten))
	for table := range result.Rewritten {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	t := ui.NewTable(os.Stdout, "Table", "Rewritten")
	for _, table := range tables {
		t.Append(table, result.Rewritten[table])
	}
	t.Render()
	return nil
}
