package pull

import (
	"fmt"

	"shipit.dev/shipit/internal/config"
	"shipit.dev/shipit/internal/github"
	"shipit.dev/shipit/internal/markdown"
)

// bodyContent resolves the text used as the merge commit message body. An
// unknown format is a configuration bug in the caller, not a runtime
// condition to recover from.
func bodyContent(format config.BodyFormat, stripComments bool, pr github.PullRequest) (string, error) {
	switch format {
	case config.BodyFormatMarkdown:
		if stripComments {
			return markdown.StripHTMLComments(pr.Body), nil
		}
		return pr.Body, nil
	case config.BodyFormatPlainText:
		return pr.BodyText, nil
	case config.BodyFormatHTML:
		return pr.BodyHTML, nil
	}
	return "", fmt.Errorf("unknown body format: %q", format)
}

// NewMergeBody composes the merge payload from configuration and the pull
// request. Fields the configuration does not ask for stay unset so they are
// omitted from the API request.
func NewMergeBody(cfg *config.Config, pr github.PullRequest) (github.MergeBody, error) {
	body := github.MergeBody{MergeMethod: cfg.Merge.Method}
	msg := cfg.Merge.Message

	switch msg.Body {
	case config.BodyStylePullRequestBody:
		content, err := bodyContent(msg.BodyType, msg.StripHTMLComments, pr)
		if err != nil {
			return github.MergeBody{}, err
		}
		body.CommitMessage = &content
	case config.BodyStyleEmpty:
		empty := ""
		body.CommitMessage = &empty
	}

	if msg.Title == config.TitleStylePullRequestTitle {
		title := pr.Title
		body.CommitTitle = &title
	}
	if msg.IncludePRNumber && body.CommitTitle != nil {
		title := fmt.Sprintf("%s (#%d)", *body.CommitTitle, pr.Number)
		body.CommitTitle = &title
	}
	return body, nil
}
