package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/service"
	"github.com/nishad/seqlims/internal/ui"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
	Example: `  seqlims projects list
  seqlims projects list --user alice
  seqlims projects create "Outbreak 2024" --owner alice --organism "Salmonella enterica"
  seqlims projects export 3 --format tsv --output outbreak.tsv`,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runProjectsList)
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project owned by a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runProjectsCreate(ctx, app, args[0])
		})
	},
}

var projectsExportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Export the line list of a project's samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runProjectsExport(ctx, app, id)
		})
	},
}

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Inspect samples",
	Example: `  seqlims samples list --project 3
  seqlims samples list --project 3 --search SE-`,
}

var samplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the samples of a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runSamplesList)
	},
}

var (
	projectsUser       string
	projectOwner       string
	projectOrganism    string
	projectDescription string
	projectsFormat     string
	exportFormat       string
	exportOutput       string
	exportFields       []string
	samplesProject     int64
	samplesSearch      string
	samplesFormat      string
)

func init() {
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsExportCmd)
	samplesCmd.AddCommand(samplesListCmd)

	projectsListCmd.Flags().StringVar(&projectsUser, "user", "", "Only projects this user is a member of")
	projectsListCmd.Flags().StringVarP(&projectsFormat, "format", "f", "table", "Output format (table|json)")

	projectsCreateCmd.Flags().StringVar(&projectOwner, "owner", "", "Username of the project owner (required)")
	projectsCreateCmd.Flags().StringVar(&projectOrganism, "organism", "", "Organism")
	projectsCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Description")
	_ = projectsCreateCmd.MarkFlagRequired("owner")

	projectsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Output format (csv|tsv|json|jsonl)")
	projectsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	projectsExportCmd.Flags().StringSliceVar(&exportFields, "fields", nil, "Comma-separated list of columns")

	samplesListCmd.Flags().Int64VarP(&samplesProject, "project", "p", 0, "Project id (required)")
	samplesListCmd.Flags().StringVarP(&samplesSearch, "search", "s", "", "Only samples whose name contains this text")
	samplesListCmd.Flags().StringVarP(&samplesFormat, "format", "f", "table", "Output format (table|json)")
	_ = samplesListCmd.MarkFlagRequired("project")
}

func runProjectsList(ctx context.Context, app *cli.App) error {
	if err := validateFormat(projectsFormat, "table", "json"); err != nil {
		return err
	}

	var (
		projects []*models.Project
		err      error
	)
	if projectsUser != "" {
		u, uerr := app.Services.Users.GetByUsername(ctx, projectsUser)
		if uerr != nil {
			return uerr
		}
		projects, err = app.Services.Projects.ListForUser(ctx, u.ID)
	} else {
		projects, err = app.Services.Projects.List(ctx)
	}
	if err != nil {
		return err
	}
	if projectsFormat == "json" {
		return writeJSON(os.Stdout, projects)
	}

	t := ui.NewTable(os.Stdout, "ID", "Name", "Organism", "Created")
	for _, p := range projects {
		t.Append(p.ID, p.Name, p.Organism, ui.Ago(p.CreatedDate))
	}
	t.Render()
	return nil
}

func runProjectsCreate(ctx context.Context, app *cli.App, name string) error {
	ctx, owner, err := asUser(ctx, app, projectOwner)
	if err != nil {
		return err
	}
	p, err := app.Services.Projects.Create(ctx, &models.Project{
		Name:        name,
		Organism:    projectOrganism,
		Description: projectDescription,
	})
	if err != nil {
		return err
	}
	printSuccess("Created project %q (id %d) owned by %s", p.Name, p.ID, owner.Username)
	return nil
}

func runProjectsExport(ctx context.Context, app *cli.App, id int64) error {
	req := &service.ExportRequest{
		ProjectID: id,
		Format:    exportFormat,
		Fields:    exportFields,
	}
	if exportOutput == "" {
		return app.Services.Export.Export(ctx, req, os.Stdout)
	}
	if err := app.Services.Export.ExportToFile(ctx, req, exportOutput); err != nil {
		return err
	}
	printSuccess("Exported project %d to %s", id, exportOutput)
	return nil
}

func runSamplesList(ctx context.Context, app *cli.App) error {
	if err := validateFormat(samplesFormat, "table", "json"); err != nil {
		return err
	}

	var (
		samples []*models.Sample
		err     error
	)
	if samplesSearch != "" {
		samples, err = app.Services.Projects.SearchSamples(ctx, samplesProject, samplesSearch)
	} else {
		samples, err = app.Services.Projects.Samples(ctx, samplesProject)
	}
	if err != nil {
		return err
	}
	if samplesFormat == "json" {
		return writeJSON(os.Stdout, samples)
	}

	t := ui.NewTable(os.Stdout, "ID", "Name", "Organism", "Strain", "Collected by", "Location")
	for _, s := range samples {
		t.Append(s.ID, s.SampleName, s.Organism, s.Strain, s.CollectedBy, s.GeographicLocation)
	}
	t.Render()
	printInfo("%d samples", t.Len())
	return nil
}
