package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
)

// Version info
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// Global flags
var globals cli.Globals

// Root command
var rootCmd = &cobra.Command{
	Use:   "seqlims",
	Short: "Sequencing data management platform",
	Long: `seqlims manages projects, samples, sequencing files and analysis
submissions for a sequencing laboratory.

It serves a REST API, processes uploaded sequence files, runs analysis
workflows on an external workflow engine and federates with peer
instances.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Example: `  # Write a starter configuration
  seqlims config init

  # Create the first administrator
  echo 'Ch4nge-me!' | seqlims users create admin --email admin@example.org --role ADMIN

  # Start the API server
  seqlims server --port 8080

  # Search projects and samples
  seqlims search "salmonella enterica"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	globals.Bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(cli.NewServerCmd(&globals))
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(samplesCmd)
	rootCmd.AddCommand(analysisCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
