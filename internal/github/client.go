// Package github provides the GitHub API collaborator for the mergeability
// core: the event snapshot types and a narrow client interface the core calls
// through.
package github

import (
	"context"
	"time"

	"shipit.dev/shipit/internal/config"
)

// Pull request states as reported by the API.
const (
	PullRequestStateOpen   = "OPEN"
	PullRequestStateClosed = "CLOSED"
	PullRequestStateMerged = "MERGED"
)

// Mergeable states as reported by the API for a pull request.
const (
	MergeableStateClean    = "clean"
	MergeableStateUnstable = "unstable"
	MergeableStateBehind   = "behind"
	MergeableStateBlocked  = "blocked"
	MergeableStateDirty    = "dirty"
	MergeableStateUnknown  = "unknown"
)

// Check run statuses and conclusions.
const (
	CheckStatusQueued     = "queued"
	CheckStatusInProgress = "in_progress"
	CheckStatusCompleted  = "completed"

	CheckConclusionSuccess = "success"
	CheckConclusionNeutral = "neutral"
	CheckConclusionSkipped = "skipped"
	CheckConclusionFailure = "failure"
)

// Commit status states.
const (
	StatusStateSuccess = "success"
	StatusStatePending = "pending"
	StatusStateFailure = "failure"
	StatusStateError   = "error"
)

// Review states.
const (
	ReviewStateApproved         = "APPROVED"
	ReviewStateChangesRequested = "CHANGES_REQUESTED"
	ReviewStateCommented        = "COMMENTED"
	ReviewStateDismissed        = "DISMISSED"
)

// PullRequest is the snapshot view of a pull request.
type PullRequest struct {
	Number   int
	Title    string
	Body     string // raw markdown
	BodyText string // platform-rendered plain text
	BodyHTML string // platform-rendered HTML
	Author   string
	State    string // PullRequestStateOpen, Closed, or Merged
	Draft    bool
	Labels   []string

	// Mergeable is nil while GitHub is still computing mergeability.
	Mergeable      *bool
	MergeableState string

	BaseRefName       string
	HeadRefName       string
	LatestSHA         string
	IsCrossRepository bool
}

// BranchProtection is the protection rule applied to the base branch.
type BranchProtection struct {
	RequiresApprovingReviews     bool
	RequiredApprovingReviewCount int
	RequiresCommitSignatures     bool
	RequiresStatusChecks         bool
	RequiredStatusChecks         []string
	RequiresStrictStatusChecks   bool
}

// ReviewRequest is an outstanding request for review from a user or team.
type ReviewRequest struct {
	Name string
}

// Review is a submitted pull request review.
type Review struct {
	Author string
	State  string
}

// StatusContext is a commit status attached to the head commit.
type StatusContext struct {
	Context string
	State   string
}

// CheckRun is a check attached to the head commit.
type CheckRun struct {
	Name       string
	Status     string
	Conclusion string
}

// EventInfo is an immutable, point-in-time view of everything needed to
// evaluate one pull request's mergeability. A new snapshot is fetched on every
// evaluation; snapshots are never mutated in place.
type EventInfo struct {
	PullRequest PullRequest

	// Config is the parsed policy document, or nil when the file was missing
	// or invalid. ConfigErr then explains why, and ConfigText holds the raw
	// file contents for error rendering.
	Config               *config.Config
	ConfigErr            error
	ConfigText           string
	ConfigFileExpression string

	HeadExists        bool
	BranchProtection  *BranchProtection
	ReviewRequests    []ReviewRequest
	Reviews           []Review
	StatusContexts    []StatusContext
	CheckRuns         []CheckRun
	ValidSignature    bool
	ValidMergeMethods []config.MergeMethod

	FetchedAt time.Time
}

// MergeBody is the payload submitted when merging a pull request. Optional
// fields are omitted from the request when unset; a pointer to the empty
// string is sent as an explicit empty value.
type MergeBody struct {
	MergeMethod   config.MergeMethod `json:"merge_method"`
	CommitMessage *string            `json:"commit_message,omitempty"`
	CommitTitle   *string            `json:"commit_title,omitempty"`
}

// Client is the narrow interface the mergeability core uses to talk to
// GitHub. Methods returning an int return the HTTP status code of the
// response; the error is only set when no response was received at all.
type Client interface {
	// GetDefaultBranchName resolves the repository's default branch.
	GetDefaultBranchName(ctx context.Context) (string, error)

	// GetEventInfo fetches a fresh snapshot for the pull request, reading the
	// policy file at the given "branch:path" revision expression.
	GetEventInfo(ctx context.Context, configFileExpression string, prNumber int) (*EventInfo, error)

	// GetPullRequest fetches the pull request, which as a side effect asks
	// GitHub to recompute its cached mergeability state.
	GetPullRequest(ctx context.Context, number int) error

	// MergeBranch merges head into base.
	MergeBranch(ctx context.Context, head, base string) (int, error)

	// MergePullRequest merges the pull request with the given payload.
	MergePullRequest(ctx context.Context, number int, body MergeBody) (int, error)

	// CreateNotification posts a check run against headSHA carrying the short
	// message and an optional long-form markdown summary.
	CreateNotification(ctx context.Context, headSHA, message, summary string) error

	// DeleteBranch deletes the given branch.
	DeleteBranch(ctx context.Context, branch string) error

	// DeleteLabel removes a label from an issue or pull request.
	DeleteLabel(ctx context.Context, owner, repo string, number int, label string) (int, error)

	// CreateComment posts an issue comment.
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (int, error)
}
