// Package cli implements the ddfctl admin tool: loading DDF packages,
// listing and deleting dataset versions, default promotion and purging.
package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configFile string

var errorLabel = color.New(color.FgRed)

var rootCmd = &cobra.Command{
	Use:   "ddfctl [command] [flags]",
	Short: "ddfctl manages the datasets served by ddfserve",
	Long: `ddfctl manages the datasets served by ddfserve: it ingests DDF packages
into the database, lists loaded versions, promotes a version to default,
and deletes or purges old versions.

Examples:
  # Load the package in the current directory as a new version and publish it
  ddfctl load --publish systema-globalis

  # List every loaded version
  ddfctl list

  # Promote a version to default
  ddfctl make-default systema-globalis 2024052201

  # Delete one version, or everything
  ddfctl delete systema-globalis 2024052101
  ddfctl delete systema-globalis _ALL_

  # Drop all versions older than the default and its predecessor
  ddfctl purge systema-globalis`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file to override environment settings")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(makeDefaultCmd)
	rootCmd.AddCommand(purgeCmd)
}

// Execute runs the CLI; errors print a single line and exit 1.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
