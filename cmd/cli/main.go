package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/myrjola/callagent/cmd/cli/investigation"
	"github.com/spf13/cobra"
)

func init() {
	// A missing .env is fine on operator machines; the flags carry the
	// server address.
	_ = godotenv.Load()
	rootCmd.AddGroup(investigation.Group)
	rootCmd.AddCommand(investigation.Create)
	rootCmd.AddCommand(investigation.Start)
	rootCmd.AddCommand(investigation.Watch)
	rootCmd.AddCommand(investigation.Results)
	rootCmd.AddCommand(investigation.Intake)
}

var rootCmd = &cobra.Command{
	Use:  "callagent-cli",
	Long: `Command line utilities for callagent https://github.com/myrjola/callagent`,
	Run: func(cmd *cobra.Command, args []string) {
		// Do Stuff Here
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
