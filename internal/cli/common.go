package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"shipit.dev/shipit/internal/github"
	"shipit.dev/shipit/internal/pull"
)

// addPullRequestFlags registers the flags identifying a single pull request.
func addPullRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("owner", "", "repository owner")
	cmd.Flags().String("repo", "", "repository name")
	cmd.Flags().Int("pr", 0, "pull request number")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("pr")
}

// newPullRequest builds the pull request evaluator from command flags.
func newPullRequest(cmd *cobra.Command) (*pull.PullRequest, *slog.Logger, error) {
	owner, _ := cmd.Flags().GetString("owner")
	repo, _ := cmd.Flags().GetString("repo")
	number, _ := cmd.Flags().GetInt("pr")
	hostname, _ := cmd.Flags().GetString("hostname")
	token, _ := cmd.Flags().GetString("token")
	appID, _ := cmd.Flags().GetString("app-id")
	installationID, _ := cmd.Flags().GetString("installation-id")
	logFile, _ := cmd.Flags().GetString("log-file")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, nil, fmt.Errorf("no GitHub token: set --token or $GITHUB_TOKEN")
	}

	logger := setupLogger(verbose, logFile)

	client, err := github.NewAPIClient(cmd.Context(), hostname, token, owner, repo, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	pr := pull.New(pull.Options{
		Number:         number,
		Owner:          owner,
		Repo:           repo,
		InstallationID: installationID,
		AppID:          appID,
		Client:         client,
		Logger:         logger,
	})
	return pr, logger, nil
}
