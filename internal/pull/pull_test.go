package pull_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"shipit.dev/shipit/internal/config"
	"shipit.dev/shipit/internal/github"
	"shipit.dev/shipit/internal/policy"
	"shipit.dev/shipit/internal/pull"
)

type notification struct {
	headSHA string
	message string
	summary string
}

// fakeClient is an in-memory github.Client that records every side effect in
// order.
type fakeClient struct {
	defaultBranch    string
	defaultBranchErr error
	event            *github.EventInfo
	eventErr         error

	deleteLabelStatus   int
	createCommentStatus int
	mergeBranchStatus   int
	mergePullStatus     int

	ops             []string
	notifications   []notification
	deletedBranches []string
	deletedLabels   []string
	comments        []string
	branchMerges    [][2]string // head, base
	mergeBodies     []github.MergeBody
	pullFetches     int
}

func newFakeClient(event *github.EventInfo) *fakeClient {
	return &fakeClient{
		defaultBranch:       "main",
		event:               event,
		deleteLabelStatus:   204,
		createCommentStatus: 200,
		mergeBranchStatus:   201,
		mergePullStatus:     200,
	}
}

func (f *fakeClient) GetDefaultBranchName(context.Context) (string, error) {
	if f.defaultBranchErr != nil {
		return "", f.defaultBranchErr
	}
	return f.defaultBranch, nil
}

func (f *fakeClient) GetEventInfo(_ context.Context, _ string, _ int) (*github.EventInfo, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return f.event, nil
}

func (f *fakeClient) GetPullRequest(context.Context, int) error {
	f.pullFetches++
	return nil
}

func (f *fakeClient) MergeBranch(_ context.Context, head, base string) (int, error) {
	f.ops = append(f.ops, "mergeBranch")
	f.branchMerges = append(f.branchMerges, [2]string{head, base})
	return f.mergeBranchStatus, nil
}

func (f *fakeClient) MergePullRequest(_ context.Context, _ int, body github.MergeBody) (int, error) {
	f.ops = append(f.ops, "mergePullRequest")
	f.mergeBodies = append(f.mergeBodies, body)
	return f.mergePullStatus, nil
}

func (f *fakeClient) CreateNotification(_ context.Context, headSHA, message, summary string) error {
	f.ops = append(f.ops, "createNotification")
	f.notifications = append(f.notifications, notification{headSHA, message, summary})
	return nil
}

func (f *fakeClient) DeleteBranch(_ context.Context, branch string) error {
	f.ops = append(f.ops, "deleteBranch")
	f.deletedBranches = append(f.deletedBranches, branch)
	return nil
}

func (f *fakeClient) DeleteLabel(_ context.Context, _, _ string, _ int, label string) (int, error) {
	f.ops = append(f.ops, "deleteLabel")
	f.deletedLabels = append(f.deletedLabels, label)
	return f.deleteLabelStatus, nil
}

func (f *fakeClient) CreateComment(_ context.Context, _, _ string, _ int, body string) (int, error) {
	f.ops = append(f.ops, "createComment")
	f.comments = append(f.comments, body)
	return f.createCommentStatus, nil
}

func testEvent() *github.EventInfo {
	cfg := config.Default()
	return &github.EventInfo{
		PullRequest: github.PullRequest{
			Number:      7,
			Title:       "Fix the flux capacitor",
			Body:        "body",
			State:       github.PullRequestStateOpen,
			Labels:      []string{"automerge"},
			BaseRefName: "main",
			HeadRefName: "feature",
			LatestSHA:   "abc123",
		},
		Config:            &cfg,
		HeadExists:        true,
		ValidMergeMethods: []config.MergeMethod{config.MergeMethodMerge},
	}
}

func newPull(client github.Client, classify pull.Classifier) *pull.PullRequest {
	return pull.New(pull.Options{
		Number:     7,
		Owner:      "acme",
		Repo:       "rocket",
		AppID:      "1234",
		Client:     client,
		Classifier: classify,
	})
}

func classifierReturning(err error) pull.Classifier {
	return func(policy.Input) error { return err }
}

func TestMergeabilityResponses(t *testing.T) {
	tests := []struct {
		name         string
		violation    error
		wantResponse pull.MergeabilityResponse
		wantStatuses int
	}{
		{"success", nil, pull.ResponseOK, 0},
		{"missing skippable checks", &policy.MissingSkippableChecks{Checks: []string{"ci/slow"}}, pull.ResponseSkippableChecks, 1},
		{"not queueable", &policy.NotQueueable{}, pull.ResponseNotMergeable, 1},
		{"merge conflict", &policy.MergeConflict{}, pull.ResponseNotMergeable, 1},
		{"branch merged", &policy.BranchMerged{}, pull.ResponseNotMergeable, 1},
		{"merge blocked", &policy.MergeBlocked{Reason: "changes requested"}, pull.ResponseNotMergeable, 1},
		{"missing app id", &policy.MissingAppID{}, pull.ResponseNotMergeable, 0},
		{"missing mergeability state", &policy.MissingMergeabilityState{}, pull.ResponseNeedRefresh, 0},
		{"waiting for checks", &policy.WaitingForChecks{Checks: []string{"ci/test"}}, pull.ResponseWait, 0},
		{"needs branch update", &policy.NeedsBranchUpdate{}, pull.ResponseNeedsUpdate, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(testEvent())
			pr := newPull(client, classifierReturning(tt.violation))

			response, event := pr.Mergeability(context.Background(), false)
			require.Equal(t, tt.wantResponse, response)
			require.NotNil(t, event)
			require.Len(t, client.notifications, tt.wantStatuses)
		})
	}
}

func TestMergeabilityIsDeterministic(t *testing.T) {
	client := newFakeClient(testEvent())
	pr := newPull(client, classifierReturning(&policy.WaitingForChecks{Checks: []string{"ci/test"}}))

	first, _ := pr.Mergeability(context.Background(), false)
	second, _ := pr.Mergeability(context.Background(), false)
	require.Equal(t, first, second)
	require.Empty(t, client.notifications)
}

func TestMergeabilityEarlyExits(t *testing.T) {
	t.Run("snapshot fetch failure", func(t *testing.T) {
		client := newFakeClient(nil)
		client.eventErr = fmt.Errorf("boom")
		pr := newPull(client, classifierReturning(nil))

		response, event := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.Nil(t, event)
		require.Empty(t, client.notifications)
	})

	t.Run("default branch resolution failure", func(t *testing.T) {
		client := newFakeClient(testEvent())
		client.defaultBranchErr = fmt.Errorf("boom")
		pr := newPull(client, classifierReturning(nil))

		response, event := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.Nil(t, event)
	})

	t.Run("deleted head on a same-repository pull request skips the classifier", func(t *testing.T) {
		ev := testEvent()
		ev.HeadExists = false
		client := newFakeClient(ev)
		classifierCalls := 0
		pr := newPull(client, func(policy.Input) error {
			classifierCalls++
			return nil
		})

		response, event := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.Nil(t, event)
		require.Zero(t, classifierCalls)
		require.Empty(t, client.notifications)
	})

	t.Run("missing head on a fork still reaches the classifier", func(t *testing.T) {
		ev := testEvent()
		ev.HeadExists = false
		ev.PullRequest.IsCrossRepository = true
		client := newFakeClient(ev)
		classifierCalls := 0
		pr := newPull(client, func(policy.Input) error {
			classifierCalls++
			return nil
		})

		response, event := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseOK, response)
		require.NotNil(t, event)
		require.Equal(t, 1, classifierCalls)
	})

	t.Run("invalid configuration posts a status and stops", func(t *testing.T) {
		ev := testEvent()
		ev.Config = nil
		ev.ConfigErr = fmt.Errorf("invalid merge.method: \"teleport\"")
		ev.ConfigText = "version = 1\n[merge]\nmethod = \"teleport\"\n"
		ev.ConfigFileExpression = "main:.shipit.toml"
		client := newFakeClient(ev)
		classifierCalls := 0
		pr := newPull(client, func(policy.Input) error {
			classifierCalls++
			return nil
		})

		response, event := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.Nil(t, event)
		require.Zero(t, classifierCalls)
		require.Len(t, client.notifications, 1)
		require.Contains(t, client.notifications[0].message, "Invalid configuration")
		require.Contains(t, client.notifications[0].summary, "teleport")
	})
}

func TestMergeabilityMergingStatuses(t *testing.T) {
	t.Run("waiting for checks posts a status only while merging", func(t *testing.T) {
		violation := &policy.WaitingForChecks{Checks: []string{"ci/test"}}

		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(violation))
		response, _ := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseWait, response)
		require.Empty(t, client.notifications)

		client = newFakeClient(testEvent())
		pr = newPull(client, classifierReturning(violation))
		response, _ = pr.Mergeability(context.Background(), true)
		require.Equal(t, pull.ResponseWait, response)
		require.Len(t, client.notifications, 1)
		require.Contains(t, client.notifications[0].message, "ci/test")
		require.Equal(t, "abc123", client.notifications[0].headSHA)
	})

	t.Run("branch update posts a status only while merging", func(t *testing.T) {
		violation := &policy.NeedsBranchUpdate{}

		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(violation))
		response, _ := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNeedsUpdate, response)
		require.Empty(t, client.notifications)

		client = newFakeClient(testEvent())
		pr = newPull(client, classifierReturning(violation))
		response, _ = pr.Mergeability(context.Background(), true)
		require.Equal(t, pull.ResponseNeedsUpdate, response)
		require.Len(t, client.notifications, 1)
		require.Contains(t, client.notifications[0].message, "updating branch")
	})

	t.Run("fork needing a branch update is not mergeable", func(t *testing.T) {
		ev := testEvent()
		ev.PullRequest.IsCrossRepository = true
		client := newFakeClient(ev)
		pr := newPull(client, classifierReturning(&policy.NeedsBranchUpdate{}))

		response, event := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.NotNil(t, event)
		require.Len(t, client.notifications, 1)
		require.Contains(t, client.notifications[0].message, "forks cannot be updated")
		require.NotEmpty(t, client.notifications[0].summary)
	})
}

func TestMergeabilitySideEffects(t *testing.T) {
	t.Run("merge conflict notifies the author before posting the status", func(t *testing.T) {
		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(&policy.MergeConflict{}))

		response, _ := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.Equal(t, []string{"deleteLabel", "createComment", "createNotification"}, client.ops)
		require.Equal(t, []string{"automerge"}, client.deletedLabels)
		require.Len(t, client.comments, 1)
		require.Equal(t, "\nThis PR currently has a merge conflict. Please resolve this and then re-add the `automerge` label.\n", client.comments[0])
		require.Contains(t, client.notifications[0].message, "cannot merge")
	})

	t.Run("failed label removal suppresses the comment", func(t *testing.T) {
		client := newFakeClient(testEvent())
		client.deleteLabelStatus = 404
		pr := newPull(client, classifierReturning(&policy.MergeConflict{}))

		pr.Mergeability(context.Background(), false)
		require.Len(t, client.deletedLabels, 1)
		require.Empty(t, client.comments)
		require.Len(t, client.notifications, 1)
	})

	t.Run("conflict without notify_on_conflict posts only the status", func(t *testing.T) {
		ev := testEvent()
		ev.Config.Merge.NotifyOnConflict = false
		client := newFakeClient(ev)
		pr := newPull(client, classifierReturning(&policy.MergeConflict{}))

		pr.Mergeability(context.Background(), false)
		require.Empty(t, client.deletedLabels)
		require.Empty(t, client.comments)
		require.Len(t, client.notifications, 1)
	})

	t.Run("conflict without a required automerge label skips notification", func(t *testing.T) {
		ev := testEvent()
		ev.Config.Merge.RequireAutomergeLabel = false
		client := newFakeClient(ev)
		pr := newPull(client, classifierReturning(&policy.MergeConflict{}))

		pr.Mergeability(context.Background(), false)
		require.Empty(t, client.deletedLabels)
		require.Empty(t, client.comments)
	})

	t.Run("merged branch is deleted when configured", func(t *testing.T) {
		ev := testEvent()
		ev.Config.Merge.DeleteBranchOnMerge = true
		client := newFakeClient(ev)
		pr := newPull(client, classifierReturning(&policy.BranchMerged{}))

		response, _ := pr.Mergeability(context.Background(), false)
		require.Equal(t, pull.ResponseNotMergeable, response)
		require.Equal(t, []string{"feature"}, client.deletedBranches)
		require.Len(t, client.notifications, 1)
	})

	t.Run("merged branch is kept by default", func(t *testing.T) {
		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(&policy.BranchMerged{}))

		pr.Mergeability(context.Background(), false)
		require.Empty(t, client.deletedBranches)
	})
}

func TestUpdate(t *testing.T) {
	t.Run("merges base into head", func(t *testing.T) {
		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(nil))

		require.True(t, pr.Update(context.Background()))
		require.Equal(t, [][2]string{{"main", "feature"}}, client.branchMerges)
	})

	t.Run("reports failure on an error status", func(t *testing.T) {
		client := newFakeClient(testEvent())
		client.mergeBranchStatus = 409
		pr := newPull(client, classifierReturning(nil))

		require.False(t, pr.Update(context.Background()))
	})

	t.Run("reports failure when no snapshot can be fetched", func(t *testing.T) {
		client := newFakeClient(nil)
		client.eventErr = fmt.Errorf("boom")
		pr := newPull(client, classifierReturning(nil))

		require.False(t, pr.Update(context.Background()))
		require.Empty(t, client.branchMerges)
	})
}

func TestMerge(t *testing.T) {
	t.Run("submits the composed payload", func(t *testing.T) {
		ev := testEvent()
		ev.Config.Merge.Message.Title = config.TitleStylePullRequestTitle
		client := newFakeClient(ev)
		pr := newPull(client, classifierReturning(nil))

		require.True(t, pr.Merge(context.Background(), ev))
		require.Len(t, client.mergeBodies, 1)
		body := client.mergeBodies[0]
		require.Equal(t, config.MergeMethodMerge, body.MergeMethod)
		require.NotNil(t, body.CommitTitle)
		require.Equal(t, "Fix the flux capacitor (#7)", *body.CommitTitle)
	})

	t.Run("reports failure on an error status", func(t *testing.T) {
		ev := testEvent()
		client := newFakeClient(ev)
		client.mergePullStatus = 405
		pr := newPull(client, classifierReturning(nil))

		require.False(t, pr.Merge(context.Background(), ev))
	})

	t.Run("refuses to merge without a valid configuration", func(t *testing.T) {
		ev := testEvent()
		ev.Config = nil
		client := newFakeClient(ev)
		pr := newPull(client, classifierReturning(nil))

		require.False(t, pr.Merge(context.Background(), ev))
		require.Empty(t, client.mergeBodies)
	})
}

func TestLabelAndCommentStatusCodes(t *testing.T) {
	t.Run("label removal succeeds only on 204", func(t *testing.T) {
		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(nil))

		client.deleteLabelStatus = 204
		require.True(t, pr.DeleteLabel(context.Background(), "automerge"))

		client.deleteLabelStatus = 200
		require.False(t, pr.DeleteLabel(context.Background(), "automerge"))
	})

	t.Run("comment creation succeeds only on 200", func(t *testing.T) {
		client := newFakeClient(testEvent())
		pr := newPull(client, classifierReturning(nil))

		client.createCommentStatus = 200
		require.True(t, pr.CreateComment(context.Background(), "hello"))

		client.createCommentStatus = 201
		require.False(t, pr.CreateComment(context.Background(), "hello"))
	})
}

func TestTriggerMergeabilityCheck(t *testing.T) {
	client := newFakeClient(testEvent())
	pr := newPull(client, classifierReturning(nil))

	pr.TriggerMergeabilityCheck(context.Background())
	require.Equal(t, 1, client.pullFetches)
}
