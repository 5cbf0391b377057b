package quorum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/stakemarket/internal/state"
)

func newEngine(cfg Config) *Engine {
	e := NewEngine(state.NewMemoryStore())
	e.SetConfig(cfg)
	return e
}

func commitAndReveal(t *testing.T, e *Engine, jobID int64, validator string, approve bool, now time.Time) {
	t.Helper()
	ctx := context.Background()
	salt := "salt-" + validator
	if err := e.Commit(ctx, jobID, validator, SealVote(jobID, validator, approve, salt)); err != nil {
		t.Fatalf("commit %s: %v", validator, err)
	}
	if err := e.Reveal(ctx, jobID, validator, approve, salt, now); err != nil {
		t.Fatalf("reveal %s: %v", validator, err)
	}
}

func TestRevealVerifiesSealedVote(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	now := time.Now().UTC()
	if err := e.Commit(ctx, 1, "v1", SealVote(1, "v1", true, "salt")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", false, "salt", now); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch for flipped vote, got %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", true, "wrong-salt", now); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch for wrong salt, got %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", true, "salt", now); err != nil {
		t.Fatalf("correct reveal: %v", err)
	}
}

func TestDuplicateCommitAndRevealRejected(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	now := time.Now().UTC()
	sealed := SealVote(1, "v1", true, "salt")
	if err := e.Commit(ctx, 1, "v1", sealed); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := e.Commit(ctx, 1, "v1", sealed); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction on second commit, got %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", true, "salt", now); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", true, "salt", now); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction on second reveal, got %v", err)
	}
}

func TestFirstRevealSealsCommitPhase(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	now := time.Now().UTC()
	commitAndReveal(t, e, 1, "v1", true, now)
	if err := e.Commit(ctx, 1, "v2", SealVote(1, "v2", true, "salt-v2")); !errors.Is(err, ErrCommitsClosed) {
		t.Fatalf("expected ErrCommitsClosed, got %v", err)
	}
}

func TestRevealWithoutCommitment(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	now := time.Now().UTC()
	if err := e.Reveal(ctx, 1, "v1", true, "salt", now); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("expected ErrNoCommitment on absent round, got %v", err)
	}
	if err := e.Commit(ctx, 1, "v1", SealVote(1, "v1", true, "s")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := e.Reveal(ctx, 1, "v2", true, "salt", now); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("expected ErrNoCommitment for uncommitted validator, got %v", err)
	}
}

func TestGateFinalizeRequiresQuorumAndConsumesOnce(t *testing.T) {
	e := newEngine(Config{ApprovalThresholdBps: 5000, QuorumMin: 2})
	ctx := context.Background()
	now := time.Now().UTC()
	if err := e.GateFinalize(ctx, 1, now); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled with no reveals, got %v", err)
	}
	commitAndReveal(t, e, 1, "v1", true, now)
	if err := e.GateFinalize(ctx, 1, now); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled below quorum, got %v", err)
	}
	// v2 committed before the reveal phase sealed the round.
	if err := e.Commit(ctx, 1, "v2", SealVote(1, "v2", true, "salt-v2")); !errors.Is(err, ErrCommitsClosed) {
		t.Fatalf("expected commits closed after first reveal, got %v", err)
	}

	e2 := newEngine(Config{ApprovalThresholdBps: 5000, QuorumMin: 2})
	if err := e2.Commit(ctx, 1, "v1", SealVote(1, "v1", true, "salt-v1")); err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	if err := e2.Commit(ctx, 1, "v2", SealVote(1, "v2", true, "salt-v2")); err != nil {
		t.Fatalf("commit v2: %v", err)
	}
	if err := e2.Reveal(ctx, 1, "v1", true, "salt-v1", now); err != nil {
		t.Fatalf("reveal v1: %v", err)
	}
	if err := e2.Reveal(ctx, 1, "v2", true, "salt-v2", now); err != nil {
		t.Fatalf("reveal v2: %v", err)
	}
	if err := e2.GateFinalize(ctx, 1, now); err != nil {
		t.Fatalf("gate finalize: %v", err)
	}
	if err := e2.GateFinalize(ctx, 1, now); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected consumed gate, got %v", err)
	}
}

func TestGateDisputeSingleUse(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	if err := e.GateDispute(ctx, 1); err != nil {
		t.Fatalf("gate dispute: %v", err)
	}
	if err := e.GateDispute(ctx, 1); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction, got %v", err)
	}
}

func TestGateResolveIndependentOfFinalizeGate(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	now := time.Now().UTC()
	commitAndReveal(t, e, 1, "v1", true, now)
	if err := e.GateResolve(ctx, 1, now); err != nil {
		t.Fatalf("gate resolve: %v", err)
	}
	if err := e.GateResolve(ctx, 1, now); !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected consumed resolve gate, got %v", err)
	}
	// The finalize gate is a separate consumption.
	if err := e.GateFinalize(ctx, 1, now); err != nil {
		t.Fatalf("gate finalize after resolve: %v", err)
	}
}

func TestRevealCutoffSettlesBetweenMinAndMax(t *testing.T) {
	e := newEngine(Config{ApprovalThresholdBps: 5000, QuorumMin: 1, QuorumMax: 3, RevealCutoff: 10 * time.Minute})
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	commitAndReveal(t, e, 1, "v1", true, start)

	tally, err := e.Tally(ctx, 1, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Settled {
		t.Fatalf("round must not settle before the reveal cutoff")
	}
	tally, err = e.Tally(ctx, 1, start.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if !tally.Settled {
		t.Fatalf("round must settle once the cutoff has elapsed")
	}
}

func TestUnboundedQuorumWaitsForCutoff(t *testing.T) {
	e := newEngine(Config{ApprovalThresholdBps: 0, QuorumMin: 1, QuorumMax: 0, RevealCutoff: time.Hour})
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	commitAndReveal(t, e, 1, "v1", true, start)

	if err := e.GateFinalize(ctx, 1, start.Add(time.Minute)); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled inside the cutoff, got %v", err)
	}
	if err := e.GateResolve(ctx, 1, start.Add(time.Minute)); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled on resolve gate inside the cutoff, got %v", err)
	}
	if err := e.GateFinalize(ctx, 1, start.Add(61*time.Minute)); err != nil {
		t.Fatalf("gate finalize after the cutoff: %v", err)
	}
}

func TestUnboundedQuorumWithoutCutoffSettlesAtMin(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1, QuorumMax: 0})
	ctx := context.Background()
	now := time.Now().UTC()
	commitAndReveal(t, e, 1, "v1", true, now)
	tally, err := e.Tally(ctx, 1, now)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if !tally.Settled {
		t.Fatalf("minimum turnout must settle when no cutoff is configured")
	}
}

func TestQuorumMaxSettlesImmediately(t *testing.T) {
	e := newEngine(Config{ApprovalThresholdBps: 6600, QuorumMin: 1, QuorumMax: 2, RevealCutoff: time.Hour})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := e.Commit(ctx, 1, "v1", SealVote(1, "v1", true, "s1")); err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	if err := e.Commit(ctx, 1, "v2", SealVote(1, "v2", false, "s2")); err != nil {
		t.Fatalf("commit v2: %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", true, "s1", now); err != nil {
		t.Fatalf("reveal v1: %v", err)
	}
	if err := e.Reveal(ctx, 1, "v2", false, "s2", now); err != nil {
		t.Fatalf("reveal v2: %v", err)
	}
	tally, err := e.Tally(ctx, 1, now)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if !tally.Settled {
		t.Fatalf("round must settle at quorum max regardless of the cutoff")
	}
	if tally.Approved {
		t.Fatalf("1 of 2 approvals is below a 6600 bps threshold, got approved")
	}
}

func TestApprovalThresholdMath(t *testing.T) {
	cases := []struct {
		name      string
		threshold int
		approvals int
		revealed  int
		want      bool
	}{
		{"exact threshold passes", 5000, 1, 2, true},
		{"below threshold fails", 6600, 1, 2, false},
		{"just above threshold passes", 6600, 2, 3, true},
		{"unanimous passes", 10000, 3, 3, true},
		{"partial fails unanimity", 10000, 2, 3, false},
		{"zero threshold always passes", 0, 0, 3, true},
	}
	for _, tc := range cases {
		round := state.ValidationRoundRecord{Approvals: tc.approvals, RevealedCount: tc.revealed}
		got := approved(round, Config{ApprovalThresholdBps: tc.threshold})
		if got != tc.want {
			t.Fatalf("%s: approved(%d/%d at %d bps) = %v, want %v", tc.name, tc.approvals, tc.revealed, tc.threshold, got, tc.want)
		}
	}
}

func TestClosedRoundRejectsVotes(t *testing.T) {
	e := newEngine(Config{QuorumMin: 1})
	ctx := context.Background()
	now := time.Now().UTC()
	commitAndReveal(t, e, 1, "v1", true, now)
	if err := e.CloseRound(ctx, 1); err != nil {
		t.Fatalf("close round: %v", err)
	}
	if err := e.Commit(ctx, 1, "v2", SealVote(1, "v2", true, "s")); !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed on commit, got %v", err)
	}
	if err := e.Reveal(ctx, 1, "v1", true, "salt-v1", now); !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed on reveal, got %v", err)
	}
	// Closing again is a no-op.
	if err := e.CloseRound(ctx, 1); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
