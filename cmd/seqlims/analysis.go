package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/ui"
)

var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Inspect and maintain analysis submissions",
	Example: `  seqlims analysis workflows
  seqlims analysis list --state RUNNING
  seqlims analysis status 12
  seqlims analysis cleanup
  seqlims analysis run-once`,
}

var analysisWorkflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List the configured workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runAnalysisWorkflows)
	},
}

var analysisListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runAnalysisList)
	},
}

var analysisStatusCmd = &cobra.Command{
	Use:   "status <submission-id>",
	Short: "Show a submission and its progress on the workflow engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runAnalysisStatus(ctx, app, id)
		})
	},
}

var analysisCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Switch submissions interrupted mid-step to ERROR",
	Long: `Switch every submission left in PREPARING, SUBMITTING or COMPLETING to
ERROR. The server does this at startup; run it by hand only while no server
is running, since those states are legitimate while a step is in progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runAnalysisCleanup)
	},
}

var analysisRunOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Drain every scheduler step once",
	Long: `Run each lifecycle step until it finds no waiting submission, without
starting the server. Useful for scripted environments and debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			exec, err := requireExecution(app)
			if err != nil {
				return err
			}
			return ui.ShowSpinner("Running analysis steps", func() error {
				return exec.Scheduler.RunOnce(ctx)
			})
		})
	},
}

var (
	analysisState  string
	analysisUser   string
	analysisFormat string
)

func init() {
	analysisCmd.AddCommand(analysisWorkflowsCmd)
	analysisCmd.AddCommand(analysisListCmd)
	analysisCmd.AddCommand(analysisStatusCmd)
	analysisCmd.AddCommand(analysisCleanupCmd)
	analysisCmd.AddCommand(analysisRunOnceCmd)

	analysisListCmd.Flags().StringVar(&analysisState, "state", "", "Only submissions in this state")
	analysisListCmd.Flags().StringVar(&analysisUser, "user", "", "Only submissions of this user")
	analysisListCmd.Flags().StringVarP(&analysisFormat, "format", "f", "table", "Output format (table|json)")
}

func requireExecution(app *cli.App) (*cli.Execution, error) {
	if app.Execution == nil {
		return nil, fmt.Errorf("no workflow engine is configured (set execution.enabled)")
	}
	return app.Execution, nil
}

func runAnalysisWorkflows(ctx context.Context, app *cli.App) error {
	workflows, err := app.Services.Submissions.Workflows(ctx)
	if err != nil {
		return err
	}
	t := ui.NewTable(os.Stdout, "ID", "Name", "Type", "Remote ID", "Inputs", "Outputs")
	for _, wf := range workflows {
		inputs := wf.SequenceInput
		if wf.ReferenceInput != "" {
			inputs += ", " + wf.ReferenceInput
		}
		outputs := make([]string, 0, len(wf.Outputs))
		for key := range wf.Outputs {
			outputs = append(outputs, key)
		}
		sort.Strings(outputs)
		t.Append(wf.ID, wf.Name, wf.AnalysisType, wf.RemoteID, inputs, strings.Join(outputs, ", "))
	}
	t.Render()
	return nil
}

func runAnalysisList(ctx context.Context, app *cli.App) error {
	if err := validateFormat(analysisFormat, "table", "json"); err != nil {
		return err
	}

	var (
		subs []*models.AnalysisSubmission
		err  error
	)
	switch {
	case analysisState != "":
		state, serr := models.AsAnalysisState(strings.ToUpper(analysisState))
		if serr != nil {
			return serr
		}
		subs, err = app.Services.Submissions.FindByState(ctx, state)
	default:
		subs, err = app.Services.Submissions.List(ctx)
	}
	if err != nil {
		return err
	}

	if analysisUser != "" {
		u, err := app.Services.Users.GetByUsername(ctx, analysisUser)
		if err != nil {
			return err
		}
		mine := subs[:0]
		for _, sub := range subs {
			if sub.SubmitterID == u.ID {
				mine = append(mine, sub)
			}
		}
		subs = mine
	}

	if analysisFormat == "json" {
		return writeJSON(os.Stdout, subs)
	}
	t := ui.NewTable(os.Stdout, "ID", "Name", "Workflow", "State", "Submitter", "Inputs", "Created")
	for _, sub := range subs {
		t.Append(sub.ID, sub.Name, sub.WorkflowID, sub.State, sub.SubmitterID, len(sub.InputObjectIDs), ui.Ago(sub.CreatedDate))
	}
	t.Render()
	return nil
}

func runAnalysisStatus(ctx context.Context, app *cli.App, id int64) error {
	sub, err := app.Services.Submissions.Read(ctx, id)
	if err != nil {
		return err
	}

	printHeading(sub.Label())
	fmt.Printf("%s %s\n", colorize(colorBold, "Workflow:"), sub.WorkflowID)
	fmt.Printf("%s %s\n", colorize(colorBold, "State:"), sub.State)
	fmt.Printf("%s %d\n", colorize(colorBold, "Submitter:"), sub.SubmitterID)
	fmt.Printf("%s %s\n", colorize(colorBold, "Created:"), ui.Ago(sub.CreatedDate))
	if sub.RemoteAnalysisID != "" {
		fmt.Printf("%s %s\n", colorize(colorBold, "Remote history:"), sub.RemoteAnalysisID)
	}

	if sub.State.IsRunning() && app.Execution != nil {
		status, err := app.Execution.Service.GetWorkflowStatus(ctx, sub)
		if err != nil {
			printWarning("could not reach the workflow engine: %v", err)
		} else {
			fmt.Printf("%s %s (%.0f%%)\n", colorize(colorBold, "Engine:"), status.State, status.PercentComplete)
		}
	}

	if sub.AnalysisID != nil {
		a, err := app.Services.Analyses.ReadForSubmission(ctx, sub.ID)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(a.OutputFiles))
		for key := range a.OutputFiles {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Println()
		t := ui.NewTable(os.Stdout, "Output", "Path", "Size")
		for _, key := range keys {
			f := a.OutputFiles[key]
			t.Append(key, f.FilePath, ui.Bytes(f.FileSize))
		}
		t.Render()
	}
	return nil
}

func runAnalysisCleanup(ctx context.Context, app *cli.App) error {
	exec, err := requireExecution(app)
	if err != nil {
		return err
	}
	switched, err := exec.Cleanup.SwitchInconsistentSubmissionsToError(ctx)
	if err != nil {
		return err
	}
	if len(switched) == 0 {
		printSuccess("No interrupted submissions")
		return nil
	}
	for _, sub := range switched {
		printWarning("%s switched to %s", sub.Label(), sub.State)
	}
	printSuccess("%d submissions switched to ERROR", len(switched))
	return nil
}
