// Command rumorsim runs rumor-spreading simulations on a toroidal grid.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/rumor-grid/internal/config"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2 // configuration or capacity error
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rumorsim",
		Short: "Rumor spreading on a toroidal grid",
		Long: `rumorsim simulates a rumor moving through a population placed on a
wrapping grid. Agents differ in how readily they pass the rumor on, rest for
a few generations after spreading, and become more credulous when several
neighbors tell them at once.

Results are stored in SQLite and can be exported as charts and CSV.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.rumorsim/config.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newCompareCmd(),
		newRunsCmd(),
		newShowCmd(),
	)
	return rootCmd
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrConfiguration), errors.Is(err, config.ErrCapacity):
		return exitConfig
	default:
		return exitFailed
	}
}

// loadConfig reads --config if given, else the default locations.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
