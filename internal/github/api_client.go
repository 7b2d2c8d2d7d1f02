package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"shipit.dev/shipit/internal/config"
)

// checkRunName is the name of the check run used for status notifications.
const checkRunName = "shipit"

// APIClient implements Client using the GitHub REST API.
type APIClient struct {
	client *github.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// NewAPIClient creates an APIClient for the given repository.
// Supports both github.com and GitHub Enterprise instances.
func NewAPIClient(ctx context.Context, hostname, token, owner, repo string, logger *slog.Logger) (*APIClient, error) {
	client, err := createGitHubClient(ctx, hostname, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		client: client,
		owner:  owner,
		repo:   repo,
		logger: logger,
	}, nil
}

// NewAPIClientFromGithub wraps an already-configured go-github client. Used by
// tests to point the client at a mock server.
func NewAPIClientFromGithub(client *github.Client, owner, repo string, logger *slog.Logger) *APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{client: client, owner: owner, repo: repo, logger: logger}
}

// createGitHubClient creates a GitHub client configured for the given hostname
func createGitHubClient(ctx context.Context, hostname, token string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	// GitHub Enterprise API endpoints live under /api/v3 and /api/uploads.
	if hostname != "" && hostname != "github.com" {
		baseURL, err := url.Parse(fmt.Sprintf("https://%s/api/v3/", hostname))
		if err != nil {
			return nil, fmt.Errorf("failed to parse base URL for hostname %s: %w", hostname, err)
		}
		uploadURL, err := url.Parse(fmt.Sprintf("https://%s/api/uploads/", hostname))
		if err != nil {
			return nil, fmt.Errorf("failed to parse upload URL for hostname %s: %w", hostname, err)
		}

		client.BaseURL = baseURL
		client.UploadURL = uploadURL
	}

	return client, nil
}

// statusCode extracts the HTTP status code from a go-github response. API
// error responses (4xx/5xx) are reported through the status code, not the
// error; the error is only returned when no response was received.
func statusCode(resp *github.Response, err error) (int, error) {
	if resp != nil {
		return resp.StatusCode, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no response received")
}

// GetDefaultBranchName resolves the repository's default branch.
func (c *APIClient) GetDefaultBranchName(ctx context.Context) (string, error) {
	repo, _, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", fmt.Errorf("failed to get repository: %w", err)
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		return "", fmt.Errorf("repository has no default branch")
	}
	return branch, nil
}

// GetEventInfo fetches a fresh snapshot of the pull request and everything
// needed to evaluate it: the policy file pinned to configFileExpression
// ("branch:path"), branch protection for the base branch, reviews, review
// requests, statuses, check runs, and commit signature verification.
func (c *APIClient) GetEventInfo(ctx context.Context, configFileExpression string, prNumber int) (*EventInfo, error) {
	pr, err := c.pullRequestWithBody(ctx, prNumber)
	if err != nil {
		return nil, err
	}

	repo, _, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	event := &EventInfo{
		PullRequest:          *pr,
		ConfigFileExpression: configFileExpression,
		ValidMergeMethods:    validMergeMethods(repo),
		FetchedAt:            time.Now(),
	}

	event.ConfigText, event.ConfigErr = c.configText(ctx, configFileExpression)
	if event.ConfigErr == nil {
		event.Config, event.ConfigErr = config.Parse([]byte(event.ConfigText))
	}

	event.BranchProtection, err = c.branchProtection(ctx, pr.BaseRefName)
	if err != nil {
		return nil, err
	}

	reviews, _, err := c.client.PullRequests.ListReviews(ctx, c.owner, c.repo, prNumber, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	for _, r := range reviews {
		event.Reviews = append(event.Reviews, Review{
			Author: r.GetUser().GetLogin(),
			State:  r.GetState(),
		})
	}

	reviewers, _, err := c.client.PullRequests.ListReviewers(ctx, c.owner, c.repo, prNumber, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list review requests: %w", err)
	}
	if reviewers != nil {
		for _, u := range reviewers.Users {
			event.ReviewRequests = append(event.ReviewRequests, ReviewRequest{Name: u.GetLogin()})
		}
		for _, t := range reviewers.Teams {
			event.ReviewRequests = append(event.ReviewRequests, ReviewRequest{Name: t.GetSlug()})
		}
	}

	combined, _, err := c.client.Repositories.GetCombinedStatus(ctx, c.owner, c.repo, pr.LatestSHA, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get combined status: %w", err)
	}
	for _, s := range combined.Statuses {
		event.StatusContexts = append(event.StatusContexts, StatusContext{
			Context: s.GetContext(),
			State:   s.GetState(),
		})
	}

	checkRuns, _, err := c.client.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, pr.LatestSHA, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list check runs: %w", err)
	}
	for _, run := range checkRuns.CheckRuns {
		event.CheckRuns = append(event.CheckRuns, CheckRun{
			Name:       run.GetName(),
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
		})
	}

	commit, _, err := c.client.Repositories.GetCommit(ctx, c.owner, c.repo, pr.LatestSHA, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get head commit: %w", err)
	}
	event.ValidSignature = commit.GetCommit().GetVerification().GetVerified()

	event.HeadExists, err = c.headExists(ctx, pr)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched event", "pr", prNumber, "sha", pr.LatestSHA, "checks", len(event.CheckRuns))
	return event, nil
}

// pullRequestWithBody fetches the pull request using the full media type so
// the response carries the rendered plain-text and HTML bodies alongside the
// raw markdown.
func (c *APIClient) pullRequestWithBody(ctx context.Context, number int) (*PullRequest, error) {
	req, err := c.client.NewRequest(http.MethodGet, fmt.Sprintf("repos/%s/%s/pulls/%d", c.owner, c.repo, number), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.full+json")

	var raw struct {
		github.PullRequest
		BodyText string `json:"body_text"`
		BodyHTML string `json:"body_html"`
	}
	if _, err := c.client.Do(ctx, req, &raw); err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	pr := PullRequest{
		Number:         raw.GetNumber(),
		Title:          raw.GetTitle(),
		Body:           raw.GetBody(),
		BodyText:       raw.BodyText,
		BodyHTML:       raw.BodyHTML,
		Author:         raw.GetUser().GetLogin(),
		State:          pullRequestState(&raw.PullRequest),
		Draft:          raw.GetDraft(),
		Mergeable:      raw.Mergeable,
		MergeableState: raw.GetMergeableState(),
		BaseRefName:    raw.GetBase().GetRef(),
		HeadRefName:    raw.GetHead().GetRef(),
		LatestSHA:      raw.GetHead().GetSHA(),
	}
	for _, l := range raw.Labels {
		pr.Labels = append(pr.Labels, l.GetName())
	}
	if head := raw.GetHead(); head != nil && head.GetRepo() != nil {
		pr.IsCrossRepository = head.GetRepo().GetFullName() != fmt.Sprintf("%s/%s", c.owner, c.repo)
	}
	return &pr, nil
}

func pullRequestState(pr *github.PullRequest) string {
	if pr.GetMerged() {
		return PullRequestStateMerged
	}
	return strings.ToUpper(pr.GetState())
}

func validMergeMethods(repo *github.Repository) []config.MergeMethod {
	var methods []config.MergeMethod
	if repo.GetAllowMergeCommit() {
		methods = append(methods, config.MergeMethodMerge)
	}
	if repo.GetAllowSquashMerge() {
		methods = append(methods, config.MergeMethodSquash)
	}
	if repo.GetAllowRebaseMerge() {
		methods = append(methods, config.MergeMethodRebase)
	}
	return methods
}

// configText reads the policy file named by the "branch:path" expression.
func (c *APIClient) configText(ctx context.Context, configFileExpression string) (string, error) {
	branch, path, ok := strings.Cut(configFileExpression, ":")
	if !ok {
		return "", fmt.Errorf("invalid config file expression: %q", configFileExpression)
	}
	content, _, resp, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("config file %s not found", configFileExpression)
		}
		return "", fmt.Errorf("failed to get config file: %w", err)
	}
	text, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode config file: %w", err)
	}
	return text, nil
}

// branchProtection fetches protection for the base branch. An unprotected
// branch is not an error.
func (c *APIClient) branchProtection(ctx context.Context, branch string) (*BranchProtection, error) {
	protection, resp, err := c.client.Repositories.GetBranchProtection(ctx, c.owner, c.repo, branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get branch protection: %w", err)
	}

	bp := &BranchProtection{}
	if reviews := protection.GetRequiredPullRequestReviews(); reviews != nil {
		bp.RequiresApprovingReviews = true
		bp.RequiredApprovingReviewCount = reviews.RequiredApprovingReviewCount
	}
	if checks := protection.GetRequiredStatusChecks(); checks != nil {
		bp.RequiresStatusChecks = true
		bp.RequiresStrictStatusChecks = checks.Strict
		if checks.Contexts != nil {
			bp.RequiredStatusChecks = append(bp.RequiredStatusChecks, *checks.Contexts...)
		}
	}
	bp.RequiresCommitSignatures = protection.GetRequiredSignatures().GetEnabled()
	return bp, nil
}

// headExists reports whether the head ref is still present. For forks the
// head lives in another repository and its presence is taken from the pull
// request payload itself.
func (c *APIClient) headExists(ctx context.Context, pr *PullRequest) (bool, error) {
	if pr.IsCrossRepository {
		return pr.HeadRefName != "", nil
	}
	_, resp, err := c.client.Git.GetRef(ctx, c.owner, c.repo, "heads/"+pr.HeadRefName)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get head ref: %w", err)
	}
	return true, nil
}

// GetPullRequest fetches the pull request and discards the result. GitHub
// recomputes the cached mergeability state as a side effect of the fetch.
func (c *APIClient) GetPullRequest(ctx context.Context, number int) error {
	_, _, err := c.client.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return fmt.Errorf("failed to get pull request: %w", err)
	}
	return nil
}

// MergeBranch merges head into base.
func (c *APIClient) MergeBranch(ctx context.Context, head, base string) (int, error) {
	_, resp, err := c.client.Repositories.Merge(ctx, c.owner, c.repo, &github.RepositoryMergeRequest{
		Base: github.String(base),
		Head: github.String(head),
	})
	return statusCode(resp, err)
}

// MergePullRequest merges the pull request with the commit title and message
// from the payload. Absent payload fields are left to GitHub's defaults.
func (c *APIClient) MergePullRequest(ctx context.Context, number int, body MergeBody) (int, error) {
	opts := &github.PullRequestOptions{
		MergeMethod: string(body.MergeMethod),
	}
	commitMessage := ""
	if body.CommitMessage != nil {
		commitMessage = *body.CommitMessage
		// An explicit empty message must be sent, not dropped.
		opts.DontDefaultIfBlank = *body.CommitMessage == ""
	}
	if body.CommitTitle != nil {
		opts.CommitTitle = *body.CommitTitle
	}
	_, resp, err := c.client.PullRequests.Merge(ctx, c.owner, c.repo, number, commitMessage, opts)
	return statusCode(resp, err)
}

// CreateNotification posts a neutral check run against headSHA. message is the
// short text shown alongside other checks; summary is the long-form markdown
// shown on the check's detail view.
func (c *APIClient) CreateNotification(ctx context.Context, headSHA, message, summary string) error {
	if summary == "" {
		summary = message
	}
	_, _, err := c.client.Checks.CreateCheckRun(ctx, c.owner, c.repo, github.CreateCheckRunOptions{
		Name:        checkRunName,
		HeadSHA:     headSHA,
		Status:      github.String(CheckStatusCompleted),
		Conclusion:  github.String(CheckConclusionNeutral),
		CompletedAt: &github.Timestamp{Time: time.Now()},
		Output: &github.CheckRunOutput{
			Title:   github.String(message),
			Summary: github.String(summary),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create check run: %w", err)
	}
	return nil
}

// DeleteBranch deletes the given branch.
func (c *APIClient) DeleteBranch(ctx context.Context, branch string) error {
	_, err := c.client.Git.DeleteRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// DeleteLabel removes a label from an issue or pull request.
func (c *APIClient) DeleteLabel(ctx context.Context, owner, repo string, number int, label string) (int, error) {
	resp, err := c.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	return statusCode(resp, err)
}

// CreateComment posts an issue comment.
func (c *APIClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int, error) {
	_, resp, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	return statusCode(resp, err)
}
