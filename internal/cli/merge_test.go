package cli

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shipit.dev/shipit/internal/github"
	"shipit.dev/shipit/internal/pull"
)

// stubMerger replays a scripted sequence of mergeability responses and counts
// the operations the loop drives.
type stubMerger struct {
	responses []pull.MergeabilityResponse
	next      int

	mergeResult  bool
	updateResult bool

	merges    int
	updates   int
	refreshes int
}

func (s *stubMerger) Mergeability(context.Context, bool) (pull.MergeabilityResponse, *github.EventInfo) {
	response := s.responses[s.next]
	if s.next < len(s.responses)-1 {
		s.next++
	}
	return response, &github.EventInfo{}
}

func (s *stubMerger) Merge(context.Context, *github.EventInfo) bool {
	s.merges++
	return s.mergeResult
}

func (s *stubMerger) Update(context.Context) bool {
	s.updates++
	return s.updateResult
}

func (s *stubMerger) TriggerMergeabilityCheck(context.Context) {
	s.refreshes++
}

func runLoop(t *testing.T, stub *stubMerger) (error, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out bytes.Buffer
	err := runMergeLoop(ctx, stub, time.Millisecond, &out, slog.New(slog.DiscardHandler))
	return err, out.String()
}

func TestRunMergeLoop(t *testing.T) {
	t.Run("merges on OK", func(t *testing.T) {
		stub := &stubMerger{responses: []pull.MergeabilityResponse{pull.ResponseOK}, mergeResult: true}
		err, out := runLoop(t, stub)
		require.NoError(t, err)
		require.Equal(t, "merged\n", out)
		require.Equal(t, 1, stub.merges)
	})

	t.Run("merges without waiting on skippable checks", func(t *testing.T) {
		stub := &stubMerger{responses: []pull.MergeabilityResponse{pull.ResponseSkippableChecks}, mergeResult: true}
		err, out := runLoop(t, stub)
		require.NoError(t, err)
		require.Equal(t, "merged\n", out)
		require.Equal(t, 1, stub.merges)
	})

	t.Run("polls through WAIT until mergeable", func(t *testing.T) {
		stub := &stubMerger{
			responses:   []pull.MergeabilityResponse{pull.ResponseWait, pull.ResponseWait, pull.ResponseOK},
			mergeResult: true,
		}
		err, _ := runLoop(t, stub)
		require.NoError(t, err)
		require.Equal(t, 1, stub.merges)
	})

	t.Run("updates the branch on NEEDS_UPDATE", func(t *testing.T) {
		stub := &stubMerger{
			responses:    []pull.MergeabilityResponse{pull.ResponseNeedsUpdate, pull.ResponseOK},
			mergeResult:  true,
			updateResult: true,
		}
		err, _ := runLoop(t, stub)
		require.NoError(t, err)
		require.Equal(t, 1, stub.updates)
		require.Equal(t, 1, stub.merges)
	})

	t.Run("fails when the branch update fails", func(t *testing.T) {
		stub := &stubMerger{responses: []pull.MergeabilityResponse{pull.ResponseNeedsUpdate}}
		err, _ := runLoop(t, stub)
		require.Error(t, err)
		require.Contains(t, err.Error(), "branch update failed")
		require.Zero(t, stub.merges)
	})

	t.Run("triggers a recompute on NEED_REFRESH", func(t *testing.T) {
		stub := &stubMerger{
			responses:   []pull.MergeabilityResponse{pull.ResponseNeedRefresh, pull.ResponseOK},
			mergeResult: true,
		}
		err, _ := runLoop(t, stub)
		require.NoError(t, err)
		require.Equal(t, 1, stub.refreshes)
	})

	t.Run("gives up on NOT_MERGEABLE", func(t *testing.T) {
		stub := &stubMerger{responses: []pull.MergeabilityResponse{pull.ResponseNotMergeable}}
		err, _ := runLoop(t, stub)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not mergeable")
		require.Zero(t, stub.merges)
	})

	t.Run("fails when the merge attempt fails", func(t *testing.T) {
		stub := &stubMerger{responses: []pull.MergeabilityResponse{pull.ResponseOK}}
		err, _ := runLoop(t, stub)
		require.Error(t, err)
		require.Contains(t, err.Error(), "merge attempt failed")
		require.Equal(t, 1, stub.merges)
	})

	t.Run("times out while waiting", func(t *testing.T) {
		stub := &stubMerger{responses: []pull.MergeabilityResponse{pull.ResponseWait}}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		var out bytes.Buffer
		err := runMergeLoop(ctx, stub, time.Millisecond, &out, slog.New(slog.DiscardHandler))
		require.Error(t, err)
		require.Contains(t, err.Error(), "timed out")
		require.Zero(t, stub.merges)
	})
}
