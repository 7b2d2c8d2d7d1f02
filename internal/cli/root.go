// Package cli wires the shipit commands: evaluating a pull request's
// mergeability and driving a merge attempt from the command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command
func NewRootCmd(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shipit",
		Short: "Shipit automates merging of GitHub pull requests gated by a repository policy",
		Long: `Shipit automates merging of GitHub pull requests. A repository opts in with a
.shipit.toml policy file; shipit evaluates each pull request against the
policy and merges it once every condition is satisfied.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().String("hostname", "github.com", "GitHub hostname (github.com or a GitHub Enterprise host)")
	rootCmd.PersistentFlags().String("token", "", "GitHub token (defaults to $GITHUB_TOKEN)")
	rootCmd.PersistentFlags().String("app-id", "", "GitHub App identifier used for app_id pinning")
	rootCmd.PersistentFlags().String("installation-id", "", "GitHub App installation identifier")
	rootCmd.PersistentFlags().String("log-file", "", "write JSON logs to this file with rotation")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newMergeCmd())

	return rootCmd
}
