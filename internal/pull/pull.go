// Package pull implements the per-pull-request mergeability state machine
// and the side effects it drives: status notifications, branch updates,
// branch deletion, author notification, and the merge itself.
package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"shipit.dev/shipit/internal/github"
	"shipit.dev/shipit/internal/messages"
	"shipit.dev/shipit/internal/policy"
)

// ConfigFilePath is where the policy document lives in a repository.
const ConfigFilePath = ".shipit.toml"

// MergeabilityResponse classifies the outcome of one evaluation. It is
// recomputed on every call and never stored.
type MergeabilityResponse int

const (
	// ResponseOK means the pull request can be merged now.
	ResponseOK MergeabilityResponse = iota
	// ResponseNeedsUpdate means the head branch is behind its base and must
	// be synced before merging.
	ResponseNeedsUpdate
	// ResponseNeedRefresh means GitHub's cached mergeability state is stale
	// or missing; the caller should trigger a recomputation and retry.
	ResponseNeedRefresh
	// ResponseNotMergeable means the pull request cannot proceed.
	ResponseNotMergeable
	// ResponseSkippableChecks means checks are outstanding but the policy
	// says not to wait for them.
	ResponseSkippableChecks
	// ResponseWait means required checks are still running; retry later.
	ResponseWait
)

func (r MergeabilityResponse) String() string {
	switch r {
	case ResponseOK:
		return "OK"
	case ResponseNeedsUpdate:
		return "NEEDS_UPDATE"
	case ResponseNeedRefresh:
		return "NEED_REFRESH"
	case ResponseNotMergeable:
		return "NOT_MERGEABLE"
	case ResponseSkippableChecks:
		return "SKIPPABLE_CHECKS"
	case ResponseWait:
		return "WAIT"
	}
	return fmt.Sprintf("MergeabilityResponse(%d)", int(r))
}

// Classifier evaluates snapshot data against the merge policy. A nil result
// means the policy is satisfied; otherwise it returns one policy Violation.
type Classifier func(policy.Input) error

// Options configures a PullRequest.
type Options struct {
	Number         int
	Owner          string
	Repo           string
	InstallationID string
	AppID          string
	Client         github.Client
	Classifier     Classifier // defaults to policy.Evaluate
	Logger         *slog.Logger
}

// PullRequest drives automerge evaluation for a single pull request. Each
// instance is used by one evaluation goroutine at a time; evaluations of
// different pull requests share nothing.
type PullRequest struct {
	Number         int
	Owner          string
	Repo           string
	InstallationID string

	appID    string
	client   github.Client
	classify Classifier
	log      *slog.Logger

	// event is the snapshot fetched by the current evaluation. It is replaced
	// wholesale at the start of every Mergeability call and never mutated;
	// all side effects within one call use the snapshot that call fetched.
	event *github.EventInfo
}

// New creates a PullRequest with a logger bound to its identity.
func New(opts Options) *PullRequest {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classify := opts.Classifier
	if classify == nil {
		classify = policy.Evaluate
	}
	return &PullRequest{
		Number:         opts.Number,
		Owner:          opts.Owner,
		Repo:           opts.Repo,
		InstallationID: opts.InstallationID,
		appID:          opts.AppID,
		client:         opts.Client,
		classify:       classify,
		log:            logger.With("repo", fmt.Sprintf("%s/%s#%d", opts.Owner, opts.Repo, opts.Number)),
	}
}

// gitRevisionExpression names a file pinned to a branch, e.g. "main:.shipit.toml".
func gitRevisionExpression(branch, filePath string) string {
	return branch + ":" + filePath
}

// getEvent fetches a fresh snapshot. The default branch is resolved first
// because it decides which ref's policy file the snapshot reads; a failure at
// either step yields no snapshot.
func (p *PullRequest) getEvent(ctx context.Context) *github.EventInfo {
	branch, err := p.client.GetDefaultBranchName(ctx)
	if err != nil {
		p.log.Error("failed to resolve default branch", "error", err)
		return nil
	}
	event, err := p.client.GetEventInfo(ctx, gitRevisionExpression(branch, ConfigFilePath), p.Number)
	if err != nil {
		p.log.Error("failed to fetch event info", "error", err)
		return nil
	}
	return event
}

// SetStatus surfaces a message to the user through a GitHub check.
//
// summary and detail build the short message displayed alongside other status
// checks on the pull request, formatted as "summary (detail)".
// markdownContent is the long-form body shown on the check's detail view,
// reachable via its "Details" link.
//
// Failures are logged and swallowed; a lost status must never abort the
// evaluation that requested it.
func (p *PullRequest) SetStatus(ctx context.Context, summary, detail, markdownContent string) {
	message := summary
	if detail != "" {
		message = fmt.Sprintf("%s (%s)", summary, detail)
	}
	if p.event == nil {
		p.log.Info("missing event, attempting to fetch it")
		p.event = p.getEvent(ctx)
	}
	if p.event == nil {
		p.log.Error("could not fetch event for status update")
		return
	}
	p.log.Info("setting status", "message", message)
	if err := p.client.CreateNotification(ctx, p.event.PullRequest.LatestSHA, message, markdownContent); err != nil {
		p.log.Error("failed to create status notification", "error", err)
	}
}

// Mergeability fetches a fresh snapshot, classifies it against the merge
// policy, and posts at most one status describing the outcome. merging
// indicates the caller is actively trying to land the pull request; it only
// changes which progress statuses are posted, never the response.
//
// The returned snapshot is nil exactly when evaluation stopped before the
// policy could be consulted.
func (p *PullRequest) Mergeability(ctx context.Context, merging bool) (MergeabilityResponse, *github.EventInfo) {
	p.log.Info("fetching event")
	p.event = p.getEvent(ctx)
	if p.event == nil {
		p.log.Info("no event")
		return ResponseNotMergeable, nil
	}
	event := p.event

	// PRs from forks always appear deleted because the API doesn't return
	// head information for forks, so only same-repository pull requests can
	// be treated as deleted here.
	if !event.PullRequest.IsCrossRepository && !event.HeadExists {
		p.log.Info("branch deleted")
		return ResponseNotMergeable, nil
	}

	if event.Config == nil {
		p.SetStatus(ctx,
			"🚨 Invalid configuration",
			`Click "Details" for more info.`,
			messages.FormatInvalidConfig(event.ConfigText, event.ConfigFileExpression, event.ConfigErr),
		)
		return ResponseNotMergeable, nil
	}

	p.log.Info("checking mergeability")
	err := p.classify(policy.Input{
		Config:            event.Config,
		AppID:             p.appID,
		PullRequest:       event.PullRequest,
		BranchProtection:  event.BranchProtection,
		ReviewRequests:    event.ReviewRequests,
		Reviews:           event.Reviews,
		StatusContexts:    event.StatusContexts,
		CheckRuns:         event.CheckRuns,
		ValidSignature:    event.ValidSignature,
		ValidMergeMethods: event.ValidMergeMethods,
	})
	if err == nil {
		p.log.Info("okay")
		return ResponseOK, event
	}

	var (
		skippable    *policy.MissingSkippableChecks
		notQueueable *policy.NotQueueable
		conflict     *policy.MergeConflict
		merged       *policy.BranchMerged
		blocked      *policy.MergeBlocked
		missingApp   *policy.MissingAppID
		missingState *policy.MissingMergeabilityState
		waiting      *policy.WaitingForChecks
		needsUpdate  *policy.NeedsBranchUpdate
	)
	switch {
	case errors.As(err, &skippable):
		p.log.Info("skippable checks", "checks", skippable.Checks)
		p.SetStatus(ctx, "🛑 not waiting for dont_wait_on_status_checks", strings.Join(skippable.Checks, ", "), "")
		return ResponseSkippableChecks, event

	case errors.As(err, &notQueueable), errors.As(err, &conflict), errors.As(err, &merged):
		p.log.Info("not queueable, merge conflict, or branch merged")
		if conflict != nil && event.Config.Merge.NotifyOnConflict {
			p.NotifyPullRequestCreator(ctx)
		}
		if merged != nil && event.Config.Merge.DeleteBranchOnMerge {
			if derr := p.client.DeleteBranch(ctx, event.PullRequest.HeadRefName); derr != nil {
				p.log.Error("failed to delete branch", "error", derr)
			}
		}
		p.SetStatus(ctx, "🛑 cannot merge", err.Error(), "")
		return ResponseNotMergeable, event

	case errors.As(err, &blocked):
		p.SetStatus(ctx, fmt.Sprintf("🛑 %s", blocked.Error()), "", "")
		return ResponseNotMergeable, event

	case errors.As(err, &missingApp):
		return ResponseNotMergeable, event

	case errors.As(err, &missingState):
		p.log.Info("missing mergeability state, need refresh")
		return ResponseNeedRefresh, event

	case errors.As(err, &waiting):
		if merging {
			p.SetStatus(ctx, "⛴ attempting to merge PR", fmt.Sprintf("waiting for checks: %s", strings.Join(waiting.Checks, ", ")), "")
		}
		return ResponseWait, event

	case errors.As(err, &needsUpdate):
		if event.PullRequest.IsCrossRepository {
			p.SetStatus(ctx, `🚨 forks cannot be updated via the github api. Click "Details" for more info`, "", messages.ForksCannotBeUpdated)
			return ResponseNotMergeable, event
		}
		if merging {
			p.SetStatus(ctx, "⛴ attempting to merge PR", "updating branch", "")
		}
		return ResponseNeedsUpdate, event
	}

	p.log.Error("classifier returned an unknown error", "error", err)
	return ResponseNotMergeable, event
}

// Update merges the base branch into the head branch to bring the pull
// request up to date.
func (p *PullRequest) Update(ctx context.Context) bool {
	p.log.Info("update")
	event := p.getEvent(ctx)
	if event == nil {
		p.log.Warn("could not fetch event for branch update")
		return false
	}
	status, err := p.client.MergeBranch(ctx, event.PullRequest.BaseRefName, event.PullRequest.HeadRefName)
	if err != nil {
		p.log.Error("failed to update branch", "error", err)
		return false
	}
	if status >= http.StatusMultipleChoices {
		p.log.Error("could not update branch", "status", status)
		return false
	}
	return true
}

// TriggerMergeabilityCheck asks GitHub to recompute the pull request's cached
// mergeability state. Fetching the pull request does that as a side effect.
func (p *PullRequest) TriggerMergeabilityCheck(ctx context.Context) {
	if err := p.client.GetPullRequest(ctx, p.Number); err != nil {
		p.log.Error("failed to trigger mergeability check", "error", err)
	}
}

// Merge submits the merge using the commit title and body composed from the
// snapshot's configuration.
func (p *PullRequest) Merge(ctx context.Context, event *github.EventInfo) bool {
	if event.Config == nil {
		// Mergeability never reports OK with an invalid config.
		p.log.Error("merge called without a valid configuration")
		return false
	}
	body, err := NewMergeBody(event.Config, event.PullRequest)
	if err != nil {
		p.log.Error("failed to build merge body", "error", err)
		return false
	}
	status, err := p.client.MergePullRequest(ctx, p.Number, body)
	if err != nil {
		p.log.Error("failed to merge pull request", "error", err)
		return false
	}
	if status >= http.StatusMultipleChoices {
		p.log.Info("could not merge pull request", "status", status)
		return false
	}
	return true
}

// DeleteLabel removes label from the pull request. Removal is confirmed by an
// HTTP 204; deleting an already-absent label is not an error.
func (p *PullRequest) DeleteLabel(ctx context.Context, label string) bool {
	p.log.Info("deleting label", "label", label)
	status, err := p.client.DeleteLabel(ctx, p.Owner, p.Repo, p.Number, label)
	if err != nil {
		p.log.Error("failed to delete label", "label", label, "error", err)
		return false
	}
	return status == http.StatusNoContent
}

// CreateComment posts body as a comment on the pull request. Creation is
// confirmed by an HTTP 200.
func (p *PullRequest) CreateComment(ctx context.Context, body string) bool {
	p.log.Info("creating comment")
	status, err := p.client.CreateComment(ctx, p.Owner, p.Repo, p.Number, body)
	if err != nil {
		p.log.Error("failed to create comment", "error", err)
		return false
	}
	return status == http.StatusOK
}

// NotifyPullRequestCreator comments on the pull request about a merge
// conflict after removing the automerge label.
//
// The two API calls are not atomic. The label is removed first so a failed
// comment is dropped silently rather than leaving a stale label behind, which
// would trigger a duplicate comment on every subsequent push.
func (p *PullRequest) NotifyPullRequestCreator(ctx context.Context) bool {
	event := p.event
	if event == nil {
		return false
	}
	if event.Config == nil {
		p.log.Error("event carried no valid configuration")
		return false
	}
	if !event.Config.Merge.RequireAutomergeLabel {
		return false
	}
	label := event.Config.Merge.AutomergeLabel
	if !p.DeleteLabel(ctx, label) {
		return false
	}
	body := fmt.Sprintf("\nThis PR currently has a merge conflict. Please resolve this and then re-add the `%s` label.\n", label)
	return p.CreateComment(ctx, body)
}
