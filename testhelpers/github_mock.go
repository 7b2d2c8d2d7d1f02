// Package testhelpers provides a mock GitHub API server for exercising the
// REST client against canned repository state.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v62/github"
)

// MockPullRequest is the canned pull request served by the mock server.
type MockPullRequest struct {
	Number           int
	Title            string
	Body             string
	BodyText         string
	BodyHTML         string
	Author           string
	State            string // "open" or "closed"
	Merged           bool
	Draft            bool
	Mergeable        *bool
	MergeableState   string
	Labels           []string
	BaseRef          string
	HeadRef          string
	HeadSHA          string
	HeadRepoFullName string
}

// RecordedBranchMerge is one POST /merges captured by the mock server.
type RecordedBranchMerge struct {
	Base          string `json:"base"`
	Head          string `json:"head"`
	CommitMessage string `json:"commit_message"`
}

// RecordedPullMerge is one PUT /pulls/{n}/merge captured by the mock server.
type RecordedPullMerge struct {
	CommitTitle   string `json:"commit_title"`
	CommitMessage string `json:"commit_message"`
	MergeMethod   string `json:"merge_method"`
}

// RecordedCheckRun is one POST /check-runs captured by the mock server.
type RecordedCheckRun struct {
	Name       string `json:"name"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Output     struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"output"`
}

// MockGitHubServerConfig is the repository state a mock GitHub server serves
// and the mutations it records.
type MockGitHubServerConfig struct {
	Owner string
	Repo  string

	DefaultBranch    string
	AllowMergeCommit bool
	AllowSquashMerge bool
	AllowRebaseMerge bool

	PullRequest MockPullRequest
	// ConfigFileText is served from the contents endpoint; empty means the
	// policy file does not exist.
	ConfigFileText string
	// Protection is the raw branch protection payload; nil means the base
	// branch is unprotected.
	Protection map[string]any
	Reviews    []map[string]any
	// RequestedReviewers holds user logins with outstanding review requests.
	RequestedReviewers []string
	Statuses           []map[string]any
	CheckRuns          []map[string]any
	CommitVerified     bool
	HeadRefExists      bool

	MergeBranchStatus   int
	MergePullStatus     int
	DeleteLabelStatus   int
	CreateCommentStatus int

	BranchMerges  []RecordedBranchMerge
	PullMerges    []RecordedPullMerge
	CheckRunPosts []RecordedCheckRun
	DeletedLabels []string
	Comments      []string
	DeletedRefs   []string
}

// NewMockGitHubServerConfig returns a config describing an open, mergeable
// pull request with a valid policy file on an unprotected base branch.
func NewMockGitHubServerConfig() *MockGitHubServerConfig {
	mergeable := true
	return &MockGitHubServerConfig{
		Owner:            "owner",
		Repo:             "repo",
		DefaultBranch:    "main",
		AllowMergeCommit: true,
		AllowSquashMerge: true,
		AllowRebaseMerge: true,
		PullRequest: MockPullRequest{
			Number:           1,
			Title:            "Add feature",
			Body:             "body",
			BodyText:         "body",
			BodyHTML:         "<p>body</p>",
			Author:           "octocat",
			State:            "open",
			Mergeable:        &mergeable,
			MergeableState:   "clean",
			Labels:           []string{"automerge"},
			BaseRef:          "main",
			HeadRef:          "feature",
			HeadSHA:          "abc123",
			HeadRepoFullName: "owner/repo",
		},
		ConfigFileText:      "version = 1\n",
		HeadRefExists:       true,
		MergeBranchStatus:   http.StatusCreated,
		MergePullStatus:     http.StatusOK,
		DeleteLabelStatus:   http.StatusNoContent,
		CreateCommentStatus: http.StatusOK,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *MockGitHubServerConfig) pullRequestJSON() map[string]any {
	pr := c.PullRequest
	labels := make([]map[string]any, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, map[string]any{"name": l})
	}
	return map[string]any{
		"number":          pr.Number,
		"title":           pr.Title,
		"body":            pr.Body,
		"body_text":       pr.BodyText,
		"body_html":       pr.BodyHTML,
		"user":            map[string]any{"login": pr.Author},
		"state":           pr.State,
		"merged":          pr.Merged,
		"draft":           pr.Draft,
		"mergeable":       pr.Mergeable,
		"mergeable_state": pr.MergeableState,
		"labels":          labels,
		"base":            map[string]any{"ref": pr.BaseRef},
		"head": map[string]any{
			"ref":  pr.HeadRef,
			"sha":  pr.HeadSHA,
			"repo": map[string]any{"full_name": pr.HeadRepoFullName},
		},
	}
}

// NewMockGitHubServer creates an httptest server that serves the GitHub API
// endpoints the client touches, backed by config. Mutating requests are
// recorded on config.
func NewMockGitHubServer(t *testing.T, config *MockGitHubServerConfig) *httptest.Server {
	if config == nil {
		config = NewMockGitHubServerConfig()
	}

	repoPath := fmt.Sprintf("/repos/%s/%s", config.Owner, config.Repo)
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+repoPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"default_branch":     config.DefaultBranch,
			"allow_merge_commit": config.AllowMergeCommit,
			"allow_squash_merge": config.AllowSquashMerge,
			"allow_rebase_merge": config.AllowRebaseMerge,
		})
	})

	mux.HandleFunc("GET "+repoPath+"/pulls/{number}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, config.pullRequestJSON())
	})

	mux.HandleFunc("GET "+repoPath+"/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		if config.ConfigFileText == "" {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     r.PathValue("path"),
			"content":  base64.StdEncoding.EncodeToString([]byte(config.ConfigFileText)),
		})
	})

	mux.HandleFunc("GET "+repoPath+"/branches/{branch}/protection", func(w http.ResponseWriter, r *http.Request) {
		if config.Protection == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Branch not protected"})
			return
		}
		writeJSON(w, http.StatusOK, config.Protection)
	})

	mux.HandleFunc("GET "+repoPath+"/pulls/{number}/reviews", func(w http.ResponseWriter, r *http.Request) {
		reviews := config.Reviews
		if reviews == nil {
			reviews = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, reviews)
	})

	mux.HandleFunc("GET "+repoPath+"/pulls/{number}/requested_reviewers", func(w http.ResponseWriter, r *http.Request) {
		users := make([]map[string]any, 0, len(config.RequestedReviewers))
		for _, login := range config.RequestedReviewers {
			users = append(users, map[string]any{"login": login})
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users, "teams": []map[string]any{}})
	})

	mux.HandleFunc("GET "+repoPath+"/commits/{sha}/status", func(w http.ResponseWriter, r *http.Request) {
		statuses := config.Statuses
		if statuses == nil {
			statuses = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sha":      r.PathValue("sha"),
			"statuses": statuses,
		})
	})

	mux.HandleFunc("GET "+repoPath+"/commits/{sha}/check-runs", func(w http.ResponseWriter, r *http.Request) {
		runs := config.CheckRuns
		if runs == nil {
			runs = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total_count": len(runs),
			"check_runs":  runs,
		})
	})

	mux.HandleFunc("GET "+repoPath+"/commits/{sha}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"sha": r.PathValue("sha"),
			"commit": map[string]any{
				"verification": map[string]any{"verified": config.CommitVerified},
			},
		})
	})

	mux.HandleFunc("GET "+repoPath+"/git/ref/{ref...}", func(w http.ResponseWriter, r *http.Request) {
		if !config.HeadRefExists {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ref":    "refs/" + r.PathValue("ref"),
			"object": map[string]any{"sha": config.PullRequest.HeadSHA},
		})
	})

	mux.HandleFunc("POST "+repoPath+"/merges", func(w http.ResponseWriter, r *http.Request) {
		var merge RecordedBranchMerge
		if err := json.NewDecoder(r.Body).Decode(&merge); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config.BranchMerges = append(config.BranchMerges, merge)
		if config.MergeBranchStatus >= http.StatusMultipleChoices {
			writeJSON(w, config.MergeBranchStatus, map[string]any{"message": "Merge conflict"})
			return
		}
		writeJSON(w, config.MergeBranchStatus, map[string]any{"sha": "merged-sha"})
	})

	mux.HandleFunc("PUT "+repoPath+"/pulls/{number}/merge", func(w http.ResponseWriter, r *http.Request) {
		var merge RecordedPullMerge
		if err := json.NewDecoder(r.Body).Decode(&merge); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config.PullMerges = append(config.PullMerges, merge)
		if config.MergePullStatus >= http.StatusMultipleChoices {
			writeJSON(w, config.MergePullStatus, map[string]any{"message": "Method Not Allowed"})
			return
		}
		writeJSON(w, config.MergePullStatus, map[string]any{"merged": true})
	})

	mux.HandleFunc("POST "+repoPath+"/check-runs", func(w http.ResponseWriter, r *http.Request) {
		var run RecordedCheckRun
		if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config.CheckRunPosts = append(config.CheckRunPosts, run)
		writeJSON(w, http.StatusCreated, map[string]any{"id": len(config.CheckRunPosts)})
	})

	mux.HandleFunc("DELETE "+repoPath+"/issues/{number}/labels/{label}", func(w http.ResponseWriter, r *http.Request) {
		config.DeletedLabels = append(config.DeletedLabels, r.PathValue("label"))
		if config.DeleteLabelStatus >= http.StatusMultipleChoices {
			writeJSON(w, config.DeleteLabelStatus, map[string]any{"message": "Label does not exist"})
			return
		}
		w.WriteHeader(config.DeleteLabelStatus)
	})

	mux.HandleFunc("POST "+repoPath+"/issues/{number}/comments", func(w http.ResponseWriter, r *http.Request) {
		var comment struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&comment); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config.Comments = append(config.Comments, comment.Body)
		if config.CreateCommentStatus >= http.StatusMultipleChoices {
			writeJSON(w, config.CreateCommentStatus, map[string]any{"message": "Unprocessable"})
			return
		}
		writeJSON(w, config.CreateCommentStatus, map[string]any{"id": len(config.Comments), "body": comment.Body})
	})

	mux.HandleFunc("DELETE "+repoPath+"/git/refs/{ref...}", func(w http.ResponseWriter, r *http.Request) {
		config.DeletedRefs = append(config.DeletedRefs, r.PathValue("ref"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("unhandled path: %s %s", r.Method, r.URL.Path), http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// NewMockGitHubClient creates a go-github client pointed at a mock server
// serving config.
func NewMockGitHubClient(t *testing.T, config *MockGitHubServerConfig) (*github.Client, string, string) {
	if config == nil {
		config = NewMockGitHubServerConfig()
	}
	server := NewMockGitHubServer(t, config)
	client := github.NewClient(nil)
	baseURL, _ := url.Parse(server.URL + "/")
	client.BaseURL = baseURL
	client.UploadURL = baseURL
	return client, config.Owner, config.Repo
}
