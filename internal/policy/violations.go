// Package policy classifies a pull request snapshot against a repository's
// merge policy. Evaluation either succeeds or reports exactly one Violation
// from a closed set. Use errors.As to branch on the concrete type.
package policy

import (
	"fmt"
	"strings"
)

// Violation is one reason a pull request cannot be merged right now. The set
// of implementations is closed; each carries only the data its status message
// or side effect needs.
type Violation interface {
	error
	violation()
}

// MissingSkippableChecks reports checks the policy has been told not to wait
// for, which have not finished yet.
type MissingSkippableChecks struct {
	Checks []string
}

func (e *MissingSkippableChecks) Error() string {
	return fmt.Sprintf("missing skippable checks: %s", strings.Join(e.Checks, ", "))
}

// NotQueueable reports a pull request that cannot be queued for merging in
// its current state, for example a draft or one missing the automerge label.
type NotQueueable struct{}

func (e *NotQueueable) Error() string {
	return "pull request cannot be queued for merging"
}

// MergeConflict reports a conflict between the head and base branches.
type MergeConflict struct{}

func (e *MergeConflict) Error() string {
	return "merge conflict between base and head"
}

// BranchMerged reports a pull request whose branch has already been merged.
type BranchMerged struct{}

func (e *BranchMerged) Error() string {
	return "branch has already been merged"
}

// MergeBlocked reports a pull request blocked by branch requirements.
type MergeBlocked struct {
	Reason string
}

func (e *MergeBlocked) Error() string {
	return fmt.Sprintf("merge blocked: %s", e.Reason)
}

// MissingAppID reports a policy pinned to a different app installation.
type MissingAppID struct{}

func (e *MissingAppID) Error() string {
	return "configuration app_id does not match this app"
}

// MissingMergeabilityState reports that GitHub's cached mergeability state is
// absent or stale and must be recomputed before evaluation can proceed.
type MissingMergeabilityState struct{}

func (e *MissingMergeabilityState) Error() string {
	return "missing mergeability state from GitHub"
}

// WaitingForChecks reports required checks that are still running.
type WaitingForChecks struct {
	Checks []string
}

func (e *WaitingForChecks) Error() string {
	return fmt.Sprintf("waiting for checks: %s", strings.Join(e.Checks, ", "))
}

// NeedsBranchUpdate reports a head branch that is behind its base and must be
// synced before merging.
type NeedsBranchUpdate struct{}

func (e *NeedsBranchUpdate) Error() string {
	return "branch needs update from base"
}

func (*MissingSkippableChecks) violation()   {}
func (*NotQueueable) violation()             {}
func (*MergeConflict) violation()            {}
func (*BranchMerged) violation()             {}
func (*MergeBlocked) violation()             {}
func (*MissingAppID) violation()             {}
func (*MissingMergeabilityState) violation() {}
func (*WaitingForChecks) violation()         {}
func (*NeedsBranchUpdate) violation()        {}
