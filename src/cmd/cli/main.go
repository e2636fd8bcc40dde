// Package main provides the kiln CLI: run workflows locally, validate
// them, watch them for changes and inspect past runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kiln-runner/src/config"

	_ "kiln-runner/src/buildkite"
	_ "kiln-runner/src/githubactions"
)

var appConfig *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "kiln - a local CI workflow runner",
	Long: `kiln executes CI workflow files on your machine with the same
semantics the hosted platform applies:

- push / pull_request triggers with branch and path filters
- concurrency groups with cancel-in-progress
- matrix fan-out with fail-fast and max-parallel
- sequential steps that abort the job on failure

Runs execute in-process by default. Set KILN_REDPANDA_BROKERS and
KILN_POSTGRES_DSN to publish through Redpanda and persist runs in
Postgres instead.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		appConfig, err = config.LoadFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(eventCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
