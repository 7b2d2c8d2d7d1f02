// Package config defines the .shipit.toml policy document that controls how
// pull requests are merged, including reading and validating configuration
// files fetched from a repository.
package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Version is the only supported policy document version.
const Version = 1

// MergeMethod selects how a pull request is merged.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

func (m MergeMethod) valid() bool {
	switch m {
	case MergeMethodMerge, MergeMethodSquash, MergeMethodRebase:
		return true
	}
	return false
}

// BodyStyle selects the source of the merge commit message body.
type BodyStyle string

const (
	// BodyStyleGithubDefault leaves the commit message up to GitHub.
	BodyStyleGithubDefault BodyStyle = "github_default"
	// BodyStylePullRequestBody uses the pull request body as the commit message.
	BodyStylePullRequestBody BodyStyle = "pull_request_body"
	// BodyStyleEmpty forces an empty commit message.
	BodyStyleEmpty BodyStyle = "empty"
)

func (b BodyStyle) valid() bool {
	switch b {
	case BodyStyleGithubDefault, BodyStylePullRequestBody, BodyStyleEmpty:
		return true
	}
	return false
}

// TitleStyle selects the source of the merge commit title.
type TitleStyle string

const (
	TitleStyleGithubDefault    TitleStyle = "github_default"
	TitleStylePullRequestTitle TitleStyle = "pull_request_title"
)

func (t TitleStyle) valid() bool {
	switch t {
	case TitleStyleGithubDefault, TitleStylePullRequestTitle:
		return true
	}
	return false
}

// BodyFormat selects which rendering of the pull request body is used when the
// body style is BodyStylePullRequestBody.
type BodyFormat string

const (
	BodyFormatMarkdown  BodyFormat = "markdown"
	BodyFormatPlainText BodyFormat = "plain_text"
	BodyFormatHTML      BodyFormat = "html"
)

func (f BodyFormat) valid() bool {
	switch f {
	case BodyFormatMarkdown, BodyFormatPlainText, BodyFormatHTML:
		return true
	}
	return false
}

// Message controls how the merge commit title and body are composed.
type Message struct {
	Title             TitleStyle `toml:"title"`
	Body              BodyStyle  `toml:"body"`
	BodyType          BodyFormat `toml:"body_type"`
	IncludePRNumber   bool       `toml:"include_pr_number"`
	StripHTMLComments bool       `toml:"strip_html_comments"`
}

// Merge holds the merge-gating policy for a repository.
type Merge struct {
	Method                  MergeMethod `toml:"method"`
	AutomergeLabel          string      `toml:"automerge_label"`
	RequireAutomergeLabel   bool        `toml:"require_automerge_label"`
	BlacklistLabels         []string    `toml:"blacklist_labels"`
	DontWaitOnStatusChecks  []string    `toml:"dont_wait_on_status_checks"`
	BlockOnReviewsRequested bool        `toml:"block_on_reviews_requested"`
	NotifyOnConflict        bool        `toml:"notify_on_conflict"`
	DeleteBranchOnMerge     bool        `toml:"delete_branch_on_merge"`
	Message                 Message     `toml:"message"`
}

// Config is a parsed policy document.
type Config struct {
	Version int    `toml:"version"`
	AppID   string `toml:"app_id"`
	Merge   Merge  `toml:"merge"`
}

// Default returns the configuration used when a field is not set in the
// policy file.
func Default() Config {
	return Config{
		Version: Version,
		Merge: Merge{
			Method:                MergeMethodMerge,
			AutomergeLabel:        "automerge",
			RequireAutomergeLabel: true,
			NotifyOnConflict:      true,
			Message: Message{
				Title:           TitleStyleGithubDefault,
				Body:            BodyStyleGithubDefault,
				BodyType:        BodyFormatMarkdown,
				IncludePRNumber: true,
			},
		},
	}
}

// Parse decodes and validates a policy document. The zero-value fields of the
// document fall back to Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the document version and every enumerated field.
func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, Version)
	}
	if !c.Merge.Method.valid() {
		return fmt.Errorf("invalid merge.method: %q", c.Merge.Method)
	}
	if !c.Merge.Message.Title.valid() {
		return fmt.Errorf("invalid merge.message.title: %q", c.Merge.Message.Title)
	}
	if !c.Merge.Message.Body.valid() {
		return fmt.Errorf("invalid merge.message.body: %q", c.Merge.Message.Body)
	}
	if !c.Merge.Message.BodyType.valid() {
		return fmt.Errorf("invalid merge.message.body_type: %q", c.Merge.Message.BodyType)
	}
	if c.Merge.RequireAutomergeLabel && c.Merge.AutomergeLabel == "" {
		return fmt.Errorf("merge.automerge_label must be set when merge.require_automerge_label is true")
	}
	return nil
}
