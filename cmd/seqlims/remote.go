package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage connections to peer instances",
	Example: `  echo "$PEER_SECRET" | seqlims remote add lab-b https://lab-b.example.org/api/ --client-id seqlims-a
  seqlims remote list
  seqlims remote test 1
  seqlims remote projects 1`,
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <service-uri>",
	Short: "Register a peer instance",
	Long: `Register a peer instance. The OAuth2 client secret the peer issued is
read from standard input.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runRemoteAdd(ctx, app, args[0], args[1])
		})
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runRemoteList)
	},
}

var remoteTestCmd = &cobra.Command{
	Use:   "test <remote-id>",
	Short: "Obtain a token from a peer and read its root document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runRemoteTest(ctx, app, id)
		})
	},
}

var remoteProjectsCmd = &cobra.Command{
	Use:   "projects <remote-id>",
	Short: "List the projects readable on a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runRemoteProjects(ctx, app, id)
		})
	},
}

var (
	remoteClientID    string
	remoteDescription string
)

func init() {
	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteTestCmd)
	remoteCmd.AddCommand(remoteProjectsCmd)

	remoteAddCmd.Flags().StringVar(&remoteClientID, "client-id", "", "OAuth2 client id issued by the peer (required)")
	remoteAddCmd.Flags().StringVar(&remoteDescription, "description", "", "Description")
	_ = remoteAddCmd.MarkFlagRequired("client-id")
}

func runRemoteAdd(ctx context.Context, app *cli.App, name, uri string) error {
	secret, err := readSecret("Client secret: ")
	if err != nil {
		return fmt.Errorf("failed to read client secret: %w", err)
	}
	api, err := app.Services.RemoteAPIs.Create(ctx, &models.RemoteAPI{
		Name:         name,
		ServiceURI:   uri,
		ClientID:     remoteClientID,
		ClientSecret: secret,
		Description:  remoteDescription,
	})
	if err != nil {
		return err
	}
	printSuccess("Registered %s (id %d)", api.Name, api.ID)
	return nil
}

func runRemoteList(ctx context.Context, app *cli.App) error {
	apis, err := app.Services.RemoteAPIs.List(ctx)
	if err != nil {
		return err
	}
	t := ui.NewTable(os.Stdout, "ID", "Name", "Service URI", "Client ID", "Added")
	for _, api := range apis {
		t.Append(api.ID, api.Name, api.ServiceURI, api.ClientID, ui.Ago(api.CreatedDate))
	}
	t.Render()
	return nil
}

func runRemoteTest(ctx context.Context, app *cli.App, id int64) error {
	api, err := app.Services.RemoteAPIs.Read(ctx, id)
	if err != nil {
		return err
	}
	return ui.ShowSpinner("Connecting to "+api.Name, func() error {
		return app.Remote.APIs.Test(ctx, api)
	})
}

func runRemoteProjects(ctx context.Context, app *cli.App, id int64) error {
	api, err := app.Services.RemoteAPIs.Read(ctx, id)
	if err != nil {
		return err
	}
	projects, err := app.Remote.Projects.GetProjectsForAPI(ctx, api)
	if err != nil {
		return err
	}
	t := ui.NewTable(os.Stdout, "Name", "Organism", "Link")
	for _, p := range projects {
		self, _ := p.Links.HrefForRel(models.RelSelf)
		t.Append(p.Object.Name, p.Object.Organism, self)
	}
	t.Render()
	return nil
}
