package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newEvaluateCmd creates the evaluate command, which runs a single
// mergeability evaluation and prints the response.
func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a pull request's mergeability once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pr, _, err := newPullRequest(cmd)
			if err != nil {
				return err
			}

			response, event := pr.Mergeability(cmd.Context(), false)
			fmt.Fprintln(cmd.OutOrStdout(), response)
			if event != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "head: %s @ %s\n", event.PullRequest.HeadRefName, event.PullRequest.LatestSHA)
			}
			return nil
		},
	}
	addPullRequestFlags(cmd)
	return cmd
}
