package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/service"
	"github.com/nishad/seqlims/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search projects and samples",
	Long: `Search projects and samples in the full-text index.

The query supports field qualifiers such as organism:salmonella and
strain:"LT2", boolean AND/OR/NOT and quoted phrases.`,
	Example: `  seqlims search "enterica"
  seqlims search outbreak --types sample --organism "Salmonella enterica"
  seqlims search --fuzzy salmonela --highlight
  seqlims search rebuild
  seqlims search stats`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) > 0 {
			query = args[0]
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runSearch(ctx, app, query)
		})
	},
}

var searchRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search index from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runSearchRebuild)
	},
}

var searchStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show search index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runSearchStats)
	},
}

var searchTaxonomyCmd = &cobra.Command{
	Use:   "taxonomy <term>",
	Short: "Look up organism names in the taxonomy tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runSearchTaxonomy(ctx, app, args[0])
		})
	},
}

var (
	searchTypes           []string
	searchOrganism        string
	searchStrain          string
	searchCollectedBy     string
	searchLocation        string
	searchIsolationSource string
	searchLimit           int
	searchOffset          int
	searchFormat          string
	searchFuzzy           bool
	searchHighlight       bool
)

func init() {
	searchCmd.AddCommand(searchRebuildCmd)
	searchCmd.AddCommand(searchStatsCmd)
	searchCmd.AddCommand(searchTaxonomyCmd)

	// Filters
	searchCmd.Flags().StringSliceVarP(&searchTypes, "types", "t", nil, "Document types to search (project,sample)")
	searchCmd.Flags().StringVarP(&searchOrganism, "organism", "o", "", "Filter by organism")
	searchCmd.Flags().StringVar(&searchStrain, "strain", "", "Filter by strain")
	searchCmd.Flags().StringVar(&searchCollectedBy, "collected-by", "", "Filter by collector")
	searchCmd.Flags().StringVar(&searchLocation, "location", "", "Filter by geographic location")
	searchCmd.Flags().StringVar(&searchIsolationSource, "isolation-source", "", "Filter by isolation source")

	// Output control
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 20, "Maximum results to return")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Number of results to skip")
	searchCmd.Flags().StringVarP(&searchFormat, "format", "f", "table", "Output format (table|json)")

	// Search modes
	searchCmd.Flags().BoolVar(&searchFuzzy, "fuzzy", false, "Enable fuzzy search for typo tolerance")
	searchCmd.Flags().BoolVar(&searchHighlight, "highlight", false, "Highlight matching terms in results")

	cli.SetupGroupedHelp(searchCmd,
		cli.FlagGroup{Title: "FILTER OPTIONS", Names: []string{"types", "organism", "strain", "collected-by", "location", "isolation-source"}},
		cli.FlagGroup{Title: "OUTPUT OPTIONS", Names: []string{"format", "limit", "offset"}},
		cli.FlagGroup{Title: "SEARCH MODES", Names: []string{"fuzzy", "highlight"}},
	)
}

func runSearch(ctx context.Context, app *cli.App, query string) error {
	if err := validateFormat(searchFormat, "table", "json"); err != nil {
		return err
	}

	req := &service.SearchRequest{
		Query:     query,
		Types:     searchTypes,
		Limit:     searchLimit,
		Offset:    searchOffset,
		Fuzzy:     searchFuzzy,
		Highlight: searchHighlight,
		Filters:   map[string]string{},
	}
	for field, value := range map[string]string{
		"organism":                 searchOrganism,
		"strain":                   searchStrain,
		"collected_by":             searchCollectedBy,
		"geographic_location_name": searchLocation,
		"isolation_source":         searchIsolationSource,
	} {
		if value != "" {
			req.Filters[field] = value
		}
	}

	resp, err := app.Services.Search.Search(ctx, req)
	if err != nil {
		return err
	}
	if searchFormat == "json" {
		return writeJSON(os.Stdout, resp)
	}

	t := ui.NewTable(os.Stdout, "Type", "ID", "Name", "Organism", "Score")
	for _, r := range resp.Results {
		t.Append(r.Type, r.ID, r.Name, r.Organism, fmt.Sprintf("%.3f", r.Score))
	}
	t.Render()

	if searchHighlight {
		for _, r := range resp.Results {
			for field, fragments := range r.Highlights {
				fmt.Printf("%s %d %s: %s\n", r.Type, r.ID, colorize(colorBold, field), strings.Join(fragments, " … "))
			}
		}
	}
	printInfo("%s of %s results in %dms", ui.Count(int64(len(resp.Results))), ui.Count(int64(resp.TotalResults)), resp.TimeTaken)
	return nil
}

func runSearchRebuild(ctx context.Context, app *cli.App) error {
	var resp *service.IndexResponse
	err := ui.ShowSpinner("Rebuilding search index", func() error {
		var err error
		resp, err = app.RebuildSearchIndex(ctx)
		return err
	})
	if err != nil {
		return err
	}
	printSuccess("Indexed %s documents in %s", ui.Count(resp.Documents), resp.Duration.Round(time.Millisecond))
	return nil
}

func runSearchStats(ctx context.Context, app *cli.App) error {
	stats, err := app.Services.Search.Stats(ctx)
	if err != nil {
		return err
	}
	printHeading("Search Index")
	fmt.Printf("%s %t\n", colorize(colorBold, "Enabled:"), app.Search.Enabled())
	if stats.Path != "" {
		fmt.Printf("%s %s\n", colorize(colorBold, "Path:"), stats.Path)
	}
	fmt.Printf("%s %s\n", colorize(colorBold, "Documents:"), ui.Count(int64(stats.DocumentCount)))
	fmt.Printf("%s %t\n", colorize(colorBold, "Healthy:"), stats.IsHealthy)
	fmt.Printf("%s %s\n", colorize(colorBold, "Last rebuild:"), ui.Ago(stats.LastRebuild))
	return nil
}

func runSearchTaxonomy(ctx context.Context, app *cli.App, term string) error {
	taxa, err := app.Services.Search.Taxonomy(ctx, term)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, taxa)
}
