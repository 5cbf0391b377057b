package quorum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/stakemarket/internal/observability"
	"github.com/example/stakemarket/internal/state"
)

var (
	ErrDuplicateAction = errors.New("quorum: duplicate action")
	ErrHashMismatch    = errors.New("quorum: revealed vote does not match sealed commitment")
	ErrNoCommitment    = errors.New("quorum: validator has no sealed commitment for this job")
	ErrCommitsClosed   = errors.New("quorum: commit phase has closed for this round")
	ErrRoundClosed     = errors.New("quorum: validation round is closed")
	ErrNotSettled      = errors.New("quorum: reveal phase has not settled")
)

type Config struct {
	ApprovalThresholdBps int
	QuorumMin            int
	QuorumMax            int
	RevealCutoff         time.Duration
}

type Tally struct {
	JobID     int64
	Committed int
	Revealed  int
	Approvals int
	Approved  bool
	Settled   bool
}

// Engine runs one commit-reveal voting round per job. Rounds are created on
// the first sealed commitment, sealed against further commitments by the
// first reveal, and closed for good when the job finalizes. The three gates
// are consumed by the job registry and nothing else.
type Engine struct {
	store state.RoundStore

	mu  sync.Mutex
	cfg Config
}

func NewEngine(store state.RoundStore) *Engine {
	return &Engine{store: store}
}

func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Configure is the slice of SetConfig the job registry holds.
func (e *Engine) Configure(approvalThresholdBps, quorumMin, quorumMax int, revealCutoff time.Duration) {
	e.SetConfig(Config{
		ApprovalThresholdBps: approvalThresholdBps,
		QuorumMin:            quorumMin,
		QuorumMax:            quorumMax,
		RevealCutoff:         revealCutoff,
	})
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SealVote computes the sealed commitment a validator submits during the
// commit phase: sha256 over the canonical JSON of (jobID, validator, vote,
// salt).
func SealVote(jobID int64, validator string, approve bool, salt string) string {
	payload := map[string]any{
		"job_id":    jobID,
		"validator": validator,
		"approve":   approve,
		"salt":      salt,
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (e *Engine) Commit(ctx context.Context, jobID int64, validator, sealedVote string) error {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		round = newRound(jobID)
	}
	if round.Closed {
		return ErrRoundClosed
	}
	if round.Sealed {
		return ErrCommitsClosed
	}
	if _, dup := round.Commitments[validator]; dup {
		return fmt.Errorf("commit by %s on job %d: %w", validator, jobID, ErrDuplicateAction)
	}
	round.Commitments[validator] = sealedVote
	if err := e.store.PutRound(ctx, round); err != nil {
		return err
	}
	observability.Default.IncCounter("quorum_vote_commits_total", nil, 1)
	return nil
}

func (e *Engine) Reveal(ctx context.Context, jobID int64, validator string, approve bool, salt string, now time.Time) error {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reveal on job %d: %w", jobID, ErrNoCommitment)
	}
	if round.Closed {
		return ErrRoundClosed
	}
	sealed, committed := round.Commitments[validator]
	if !committed {
		return fmt.Errorf("reveal by %s on job %d: %w", validator, jobID, ErrNoCommitment)
	}
	if round.Revealed[validator] {
		return fmt.Errorf("reveal by %s on job %d: %w", validator, jobID, ErrDuplicateAction)
	}
	if SealVote(jobID, validator, approve, salt) != sealed {
		return fmt.Errorf("reveal by %s on job %d: %w", validator, jobID, ErrHashMismatch)
	}
	if !round.Sealed {
		round.Sealed = true
		round.RevealOpenedAt = now
	}
	round.Revealed[validator] = true
	round.RevealedCount++
	if approve {
		round.Approvals++
	}
	if err := e.store.PutRound(ctx, round); err != nil {
		return err
	}
	observability.Default.IncCounter("quorum_vote_reveals_total", nil, 1)
	return nil
}

func (e *Engine) Tally(ctx context.Context, jobID int64, now time.Time) (Tally, error) {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return Tally{}, err
	}
	if !ok {
		round = newRound(jobID)
	}
	cfg := e.Config()
	return Tally{
		JobID:     jobID,
		Committed: len(round.Commitments),
		Revealed:  round.RevealedCount,
		Approvals: round.Approvals,
		Approved:  approved(round, cfg),
		Settled:   settled(round, cfg, now),
	}, nil
}

// GateFinalize is the pre-finalize gate: it passes once the reveal phase has
// settled and consumes itself so finalize cannot run twice against the same
// round.
func (e *Engine) GateFinalize(ctx context.Context, jobID int64, now time.Time) error {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		round = newRound(jobID)
	}
	if round.FinalizeConsumed {
		return fmt.Errorf("finalize gate for job %d: %w", jobID, ErrDuplicateAction)
	}
	if !settled(round, e.Config(), now) {
		return fmt.Errorf("finalize gate for job %d: %w", jobID, ErrNotSettled)
	}
	round.FinalizeConsumed = true
	return e.store.PutRound(ctx, round)
}

// GateDispute is the pre-dispute gate: one dispute per job.
func (e *Engine) GateDispute(ctx context.Context, jobID int64) error {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		round = newRound(jobID)
	}
	if round.DisputeOpened {
		return fmt.Errorf("dispute gate for job %d: %w", jobID, ErrDuplicateAction)
	}
	round.DisputeOpened = true
	return e.store.PutRound(ctx, round)
}

// GateResolve is the pre-dispute-resolution gate: the reveal phase must have
// settled (same check as finalize) and resolution happens at most once.
func (e *Engine) GateResolve(ctx context.Context, jobID int64, now time.Time) error {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		round = newRound(jobID)
	}
	if round.ResolveConsumed {
		return fmt.Errorf("resolve gate for job %d: %w", jobID, ErrDuplicateAction)
	}
	if !settled(round, e.Config(), now) {
		return fmt.Errorf("resolve gate for job %d: %w", jobID, ErrNotSettled)
	}
	round.ResolveConsumed = true
	return e.store.PutRound(ctx, round)
}

// CloseRound permanently closes the round once the job leaves the validated
// phase. Closing an absent or already-closed round is a no-op.
func (e *Engine) CloseRound(ctx context.Context, jobID int64) error {
	round, ok, err := e.store.GetRound(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok || round.Closed {
		return nil
	}
	round.Closed = true
	return e.store.PutRound(ctx, round)
}

func newRound(jobID int64) state.ValidationRoundRecord {
	return state.ValidationRoundRecord{
		JobID:       jobID,
		Commitments: map[string]string{},
		Revealed:    map[string]bool{},
	}
}

func settled(round state.ValidationRoundRecord, cfg Config, now time.Time) bool {
	if round.RevealedCount < cfg.QuorumMin {
		return false
	}
	if cfg.QuorumMax > 0 && round.RevealedCount >= cfg.QuorumMax {
		return true
	}
	// An unbounded quorum with no cutoff settles at minimum turnout.
	if cfg.QuorumMax == 0 && cfg.RevealCutoff == 0 {
		return true
	}
	if cfg.RevealCutoff > 0 && !round.RevealOpenedAt.IsZero() && !now.Before(round.RevealOpenedAt.Add(cfg.RevealCutoff)) {
		return true
	}
	return false
}

func approved(round state.ValidationRoundRecord, cfg Config) bool {
	if round.RevealedCount == 0 {
		return cfg.ApprovalThresholdBps == 0
	}
	return int64(round.Approvals)*10000 >= int64(round.RevealedCount)*int64(cfg.ApprovalThresholdBps)
}
