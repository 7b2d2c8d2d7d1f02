package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"shipit.dev/shipit/internal/github"
	"shipit.dev/shipit/internal/pull"
)

// merger is the part of pull.PullRequest the merge loop drives.
type merger interface {
	Mergeability(ctx context.Context, merging bool) (pull.MergeabilityResponse, *github.EventInfo)
	Merge(ctx context.Context, event *github.EventInfo) bool
	Update(ctx context.Context) bool
	TriggerMergeabilityCheck(ctx context.Context)
}

// newMergeCmd creates the merge command, which polls a pull request's
// mergeability and lands it when the policy is satisfied. Retrying on WAIT,
// NEED_REFRESH, and NEEDS_UPDATE is the caller's job, so the loop lives here
// rather than in the evaluator.
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Evaluate a pull request and merge it once the policy is satisfied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pr, logger, err := newPullRequest(cmd)
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return runMergeLoop(ctx, pr, interval, cmd.OutOrStdout(), logger)
		},
	}
	addPullRequestFlags(cmd)
	cmd.Flags().Duration("interval", 30*time.Second, "delay between evaluations")
	cmd.Flags().Duration("timeout", 30*time.Minute, "give up after this long")
	return cmd
}

// runMergeLoop evaluates until the pull request merges, becomes unmergeable,
// or ctx expires. SKIPPABLE_CHECKS proceeds straight to the merge: the
// outstanding checks are exactly the ones the policy says not to wait for.
func runMergeLoop(ctx context.Context, pr merger, interval time.Duration, out io.Writer, logger *slog.Logger) error {
	for {
		response, event := pr.Mergeability(ctx, true)
		logger.Info("evaluated", "response", response.String())

		switch response {
		case pull.ResponseOK, pull.ResponseSkippableChecks:
			if !pr.Merge(ctx, event) {
				return fmt.Errorf("merge attempt failed")
			}
			fmt.Fprintln(out, "merged")
			return nil
		case pull.ResponseNeedsUpdate:
			if !pr.Update(ctx) {
				return fmt.Errorf("branch update failed")
			}
		case pull.ResponseNeedRefresh:
			pr.TriggerMergeabilityCheck(ctx)
		case pull.ResponseWait:
			// wait for the next poll
		case pull.ResponseNotMergeable:
			return fmt.Errorf("pull request is not mergeable")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for pull request to become mergeable")
		case <-time.After(interval):
		}
	}
}
