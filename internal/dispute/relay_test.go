package dispute

import (
	"context"
	"errors"
	"testing"

	"github.com/example/stakemarket/internal/reputation"
	"github.com/example/stakemarket/internal/state"
)

type recordingListener struct {
	raised   []int64
	resolved []string
}

func (l *recordingListener) DisputeRaised(_ context.Context, jobID int64, _ string) {
	l.raised = append(l.raised, jobID)
}

func (l *recordingListener) DisputeResolved(_ context.Context, _ int64, outcome string, _ int64) {
	l.resolved = append(l.resolved, outcome)
}

func TestResolvedAdjustsReputation(t *testing.T) {
	rep := reputation.NewLedger(state.NewMemoryStore())
	r := NewRelay(rep)
	ctx := context.Background()
	if err := r.Resolved(ctx, 1, "slashed", "worker-1", -4); err != nil {
		t.Fatalf("resolved: %v", err)
	}
	score, err := rep.Score(ctx, "worker-1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != -4 {
		t.Fatalf("expected -4, got %d", score)
	}
}

func TestResolvedZeroDeltaSkipsReputation(t *testing.T) {
	rep := reputation.NewLedger(state.NewMemoryStore())
	rep.SetPaused(true)
	r := NewRelay(rep)
	// A paused reputation ledger must not block a delta-free resolution.
	if err := r.Resolved(context.Background(), 1, "unslashed", "worker-1", 0); err != nil {
		t.Fatalf("resolved with zero delta: %v", err)
	}
}

func TestResolvedSurfacesReputationError(t *testing.T) {
	rep := reputation.NewLedger(state.NewMemoryStore())
	rep.SetPaused(true)
	r := NewRelay(rep)
	if err := r.Resolved(context.Background(), 1, "slashed", "worker-1", -1); !errors.Is(err, reputation.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestListenersObserveLifecycle(t *testing.T) {
	rep := reputation.NewLedger(state.NewMemoryStore())
	l := &recordingListener{}
	r := NewRelay(rep, l)
	ctx := context.Background()
	r.Raised(ctx, 7, "client-1")
	if err := r.Resolved(ctx, 7, "unslashed", "worker-1", 0); err != nil {
		t.Fatalf("resolved: %v", err)
	}
	if len(l.raised) != 1 || l.raised[0] != 7 {
		t.Fatalf("expected raised [7], got %v", l.raised)
	}
	if len(l.resolved) != 1 || l.resolved[0] != "unslashed" {
		t.Fatalf("expected resolved [unslashed], got %v", l.resolved)
	}
}
