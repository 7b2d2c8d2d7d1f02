package policy

import (
	"fmt"
	"slices"

	"shipit.dev/shipit/internal/config"
	"shipit.dev/shipit/internal/github"
)

// Input bundles everything Evaluate inspects. All fields come from one event
// snapshot.
type Input struct {
	Config            *config.Config
	AppID             string
	PullRequest       github.PullRequest
	BranchProtection  *github.BranchProtection
	ReviewRequests    []github.ReviewRequest
	Reviews           []github.Review
	StatusContexts    []github.StatusContext
	CheckRuns         []github.CheckRun
	ValidSignature    bool
	ValidMergeMethods []config.MergeMethod
}

// Evaluate reports nil when the pull request satisfies the merge policy and
// exactly one Violation otherwise.
func Evaluate(in Input) error {
	cfg := in.Config
	pr := in.PullRequest

	if cfg.AppID != "" && cfg.AppID != in.AppID {
		return &MissingAppID{}
	}

	switch pr.State {
	case github.PullRequestStateMerged:
		return &BranchMerged{}
	case github.PullRequestStateClosed:
		return &NotQueueable{}
	}
	if pr.Draft {
		return &NotQueueable{}
	}

	if cfg.Merge.RequireAutomergeLabel && !slices.Contains(pr.Labels, cfg.Merge.AutomergeLabel) {
		return &NotQueueable{}
	}
	for _, label := range cfg.Merge.BlacklistLabels {
		if slices.Contains(pr.Labels, label) {
			return &NotQueueable{}
		}
	}
	if !slices.Contains(in.ValidMergeMethods, cfg.Merge.Method) {
		return &NotQueueable{}
	}

	// GitHub computes mergeability lazily. Until it has, nothing below can be
	// trusted.
	if pr.Mergeable == nil || pr.MergeableState == github.MergeableStateUnknown {
		return &MissingMergeabilityState{}
	}
	if pr.MergeableState == github.MergeableStateDirty || !*pr.Mergeable {
		return &MergeConflict{}
	}

	bp := in.BranchProtection
	if bp != nil {
		if bp.RequiresCommitSignatures && !in.ValidSignature {
			return &MergeBlocked{Reason: "missing required commit signature"}
		}
		if blocked := reviewViolation(cfg, bp, in.Reviews, in.ReviewRequests); blocked != nil {
			return blocked
		}
		if bp.RequiresStrictStatusChecks && pr.MergeableState == github.MergeableStateBehind {
			return &NeedsBranchUpdate{}
		}
		if violation := checkViolation(cfg, bp, in.StatusContexts, in.CheckRuns); violation != nil {
			return violation
		}
	}

	if pr.MergeableState == github.MergeableStateBlocked {
		return &MergeBlocked{Reason: "blocked by branch requirements"}
	}
	return nil
}

func reviewViolation(cfg *config.Config, bp *github.BranchProtection, reviews []github.Review, requests []github.ReviewRequest) Violation {
	// Only a reviewer's latest submitted review counts.
	latest := make(map[string]string)
	for _, r := range reviews {
		if r.State == github.ReviewStateCommented {
			continue
		}
		latest[r.Author] = r.State
	}

	approvals := 0
	for _, state := range latest {
		switch state {
		case github.ReviewStateChangesRequested:
			return &MergeBlocked{Reason: "changes requested by reviewer"}
		case github.ReviewStateApproved:
			approvals++
		}
	}
	if bp.RequiresApprovingReviews && approvals < bp.RequiredApprovingReviewCount {
		return &MergeBlocked{Reason: fmt.Sprintf("missing required reviews, have %d/%d", approvals, bp.RequiredApprovingReviewCount)}
	}
	if cfg.Merge.BlockOnReviewsRequested && len(requests) > 0 {
		return &MergeBlocked{Reason: "reviews requested"}
	}
	return nil
}

// checkViolation inspects every check the base branch requires. Failing
// checks block the merge outright; pending checks either wait or, when the
// policy lists them under dont_wait_on_status_checks, surface as skippable.
func checkViolation(cfg *config.Config, bp *github.BranchProtection, contexts []github.StatusContext, checkRuns []github.CheckRun) Violation {
	if !bp.RequiresStatusChecks || len(bp.RequiredStatusChecks) == 0 {
		return nil
	}

	states := checkStates(contexts, checkRuns)

	var failing, waiting, skippable []string
	for _, name := range bp.RequiredStatusChecks {
		switch states[name] {
		case checkPassing:
			continue
		case checkFailing:
			failing = append(failing, name)
		default:
			if slices.Contains(cfg.Merge.DontWaitOnStatusChecks, name) {
				skippable = append(skippable, name)
			} else {
				waiting = append(waiting, name)
			}
		}
	}

	switch {
	case len(failing) > 0:
		return &MergeBlocked{Reason: fmt.Sprintf("failing required status checks: %v", failing)}
	case len(waiting) > 0:
		return &WaitingForChecks{Checks: waiting}
	case len(skippable) > 0:
		return &MissingSkippableChecks{Checks: skippable}
	}
	return nil
}

type checkState int

const (
	checkMissing checkState = iota
	checkPending
	checkPassing
	checkFailing
)

// checkStates folds commit statuses and check runs into one pass/fail/pending
// state per check name. Check runs are the more accurate source and win on
// conflict.
func checkStates(contexts []github.StatusContext, checkRuns []github.CheckRun) map[string]checkState {
	states := make(map[string]checkState, len(contexts)+len(checkRuns))
	for _, s := range contexts {
		switch s.State {
		case github.StatusStateSuccess:
			states[s.Context] = checkPassing
		case github.StatusStateFailure, github.StatusStateError:
			states[s.Context] = checkFailing
		default:
			states[s.Context] = checkPending
		}
	}
	for _, run := range checkRuns {
		if run.Status != github.CheckStatusCompleted {
			states[run.Name] = checkPending
			continue
		}
		switch run.Conclusion {
		case github.CheckConclusionSuccess, github.CheckConclusionNeutral, github.CheckConclusionSkipped:
			states[run.Name] = checkPassing
		default:
			states[run.Name] = checkFailing
		}
	}
	return states
}
