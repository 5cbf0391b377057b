package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/stakemarket/internal/observability"
	"github.com/example/stakemarket/internal/state"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrJobNotFound        = errors.New("registry: job not found")
	ErrInvalidState       = errors.New("registry: operation not valid in current job state")
	ErrUnauthorized       = errors.New("registry: caller lacks the required role")
	ErrWindowExpired      = errors.New("registry: deadline has passed")
	ErrWindowNotElapsed   = errors.New("registry: deadline has not passed yet")
	ErrHashMismatch       = errors.New("registry: revealed secret does not match the commitment")
	ErrThresholdViolation = errors.New("registry: value violates its configured bound")
	ErrAlreadyConfigured  = errors.New("registry: configuration section already set")
	ErrNotConfigured      = errors.New("registry: configuration is not complete")
	ErrInvalidAmount      = errors.New("registry: amount must be positive")
	ErrInvalidCommitment  = errors.New("registry: commitment must be a 32-byte hex hash")
)

// Store is the slice of persistent state the registry owns: jobs, disputes,
// and the audit log. Stake accounts and validation rounds belong to their
// ledgers and are reached only through Modules.
type Store interface {
	state.JobStore
	state.DisputeStore
	state.AuditStore
}

// Eligibility answers whether an address may act under the given role
// labels. Identity resolution itself is external to the core.
type Eligibility interface {
	Allowed(address string, roles []string) bool
}

// Certifier is notified after a successful finalize. Certificate issuance is
// external to the core.
type Certifier interface {
	IssueCompletion(ctx context.Context, job state.JobRecord)
}

type Options struct {
	Eligibility Eligibility
	Certifier   Certifier
	Clock       func() time.Time
}

// Registry is the orchestrator: it owns job and dispute lifecycles and calls
// into the stake escrow, validation quorum, and dispute relay on every
// transition. Operations validate all preconditions before the first
// mutation and write the job record last, so a failed call leaves the job
// exactly as it was.
type Registry struct {
	jobs        state.JobStore
	disputes    state.DisputeStore
	audit       state.AuditStore
	eligibility Eligibility
	certifier   Certifier
	clock       func() time.Time

	mu            sync.Mutex
	modules       Modules
	modulesSet    bool
	timings       Timings
	timingsSet    bool
	thresholds    Thresholds
	thresholdsSet bool
}

func New(store Store, opts Options) *Registry {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		jobs:        store,
		disputes:    store,
		audit:       store,
		eligibility: opts.Eligibility,
		certifier:   opts.Certifier,
		clock:       clock,
	}
}

// HashSecret computes the work commitment for a secret, the hash a worker
// submits at commit time and checks against at reveal time.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func (r *Registry) CreateJob(ctx context.Context, client string, stakeAmount int64) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "registry.create_job",
		attribute.String("client", client),
		attribute.Int64("stake_amount", stakeAmount),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return 0, err
	}
	if stakeAmount <= 0 {
		return 0, fmt.Errorf("create job with stake %d: %w", stakeAmount, ErrInvalidAmount)
	}
	now := r.clock()
	id, err := r.jobs.NextJobID(ctx)
	if err != nil {
		return 0, err
	}
	job := state.JobRecord{
		ID:          id,
		Client:      client,
		StakeAmount: stakeAmount,
		Status:      state.JobCreated,
		CreatedAt:   now,
	}
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("job.id", id))
	r.recordTransition(ctx, job, "job_created", client, fmt.Sprintf("stake=%d", stakeAmount))
	return id, nil
}

func (r *Registry) CommitJob(ctx context.Context, worker string, jobID int64, commitHash string) error {
	ctx, span := observability.StartSpan(ctx, "registry.commit_job",
		attribute.Int64("job.id", jobID),
		attribute.String("worker", worker),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return err
	}
	commitHash = strings.ToLower(strings.TrimSpace(commitHash))
	if raw, err := hex.DecodeString(commitHash); err != nil || len(raw) != sha256.Size {
		return ErrInvalidCommitment
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.JobCreated {
		return r.stateError(job, "commit")
	}
	if r.eligibility != nil && !r.eligibility.Allowed(worker, []string{"worker"}) {
		return fmt.Errorf("worker %s is not eligible: %w", worker, ErrUnauthorized)
	}
	modules, timings, _ := r.snapshotConfig()
	now := r.clock()
	if err := modules.Escrow.Lock(ctx, worker, job.StakeAmount); err != nil {
		return err
	}
	job.Worker = worker
	job.Commitment = commitHash
	job.CommitDeadline = now.Add(timings.CommitWindow)
	job.RevealDeadline = now.Add(timings.RevealWindow)
	job.Status = state.JobCommitted
	if err := r.jobs.PutJob(ctx, job); err != nil {
		// Undo the lock so a failed commit leaves the ledger untouched.
		_ = modules.Escrow.Release(ctx, worker, job.StakeAmount)
		return err
	}
	r.recordTransition(ctx, job, "job_committed", worker, "commitment="+commitHash)
	return nil
}

func (r *Registry) RevealJob(ctx context.Context, worker string, jobID int64, secret string) error {
	ctx, span := observability.StartSpan(ctx, "registry.reveal_job",
		attribute.Int64("job.id", jobID),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.JobCommitted {
		return r.stateError(job, "reveal")
	}
	if worker != job.Worker {
		return fmt.Errorf("reveal by %s on job %d: %w", worker, jobID, ErrUnauthorized)
	}
	now := r.clock()
	if now.After(job.RevealDeadline) {
		return fmt.Errorf("reveal window for job %d closed at %s: %w", jobID, job.RevealDeadline.Format(time.RFC3339), ErrWindowExpired)
	}
	if HashSecret(secret) != job.Commitment {
		return fmt.Errorf("reveal on job %d: %w", jobID, ErrHashMismatch)
	}
	_, timings, _ := r.snapshotConfig()
	job.DisputeDeadline = now.Add(timings.DisputeWindow)
	job.Status = state.JobRevealed
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return err
	}
	r.recordTransition(ctx, job, "job_revealed", worker, "")
	return nil
}

func (r *Registry) FinalizeJob(ctx context.Context, actor string, jobID int64, success bool) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "registry.finalize_job",
		attribute.Int64("job.id", jobID),
		attribute.Bool("success", success),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return 0, err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != state.JobRevealed {
		return 0, r.stateError(job, "finalize")
	}
	modules, _, thresholds := r.snapshotConfig()
	now := r.clock()
	if err := modules.Votes.GateFinalize(ctx, jobID, now); err != nil {
		return 0, err
	}
	// Fee is computed on the full stake, rounding down.
	fee := job.StakeAmount * int64(thresholds.FeeBps) / 10000
	if err := r.settleStake(ctx, modules, job.Worker, job.StakeAmount, fee); err != nil {
		return 0, err
	}
	job.FeeAmount = fee
	job.Status = state.JobFinalized
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return 0, err
	}
	if err := modules.Votes.CloseRound(ctx, jobID); err != nil {
		return 0, err
	}
	result := "rejected"
	if success {
		result = "accepted"
		if r.certifier != nil {
			r.certifier.IssueCompletion(ctx, job)
		}
	}
	r.appendAudit(ctx, "job_finalized", actor, jobID, result, fmt.Sprintf("fee=%d", fee))
	observability.Default.IncCounter("registry_transitions_total", map[string]string{"to": state.JobFinalized}, 1)
	span.SetAttributes(attribute.Int64("fee_amount", fee))
	return fee, nil
}

func (r *Registry) RaiseDispute(ctx context.Context, raiser string, jobID int64, evidenceURI string) error {
	ctx, span := observability.StartSpan(ctx, "registry.raise_dispute",
		attribute.Int64("job.id", jobID),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.JobRevealed {
		return r.stateError(job, "dispute")
	}
	if raiser != job.Client && raiser != job.Worker {
		return fmt.Errorf("dispute by %s on job %d: %w", raiser, jobID, ErrUnauthorized)
	}
	modules, _, _ := r.snapshotConfig()
	if err := modules.Votes.GateDispute(ctx, jobID); err != nil {
		return err
	}
	now := r.clock()
	if err := r.disputes.PutDispute(ctx, state.DisputeRecord{
		JobID:       jobID,
		Raiser:      raiser,
		Outcome:     state.DisputePending,
		EvidenceURI: evidenceURI,
		RaisedAt:    now,
	}); err != nil {
		return err
	}
	job.Status = state.JobDisputed
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return err
	}
	modules.Relay.Raised(ctx, jobID, raiser)
	r.recordTransition(ctx, job, "dispute_raised", raiser, "evidence="+evidenceURI)
	return nil
}

func (r *Registry) ResolveDispute(ctx context.Context, actor string, jobID int64, slashWorker bool, slashAmount, reputationDelta int64) error {
	ctx, span := observability.StartSpan(ctx, "registry.resolve_dispute",
		attribute.Int64("job.id", jobID),
		attribute.Bool("slash_worker", slashWorker),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.JobDisputed {
		return r.stateError(job, "resolve")
	}
	if !slashWorker {
		slashAmount = 0
	}
	if err := r.checkSlashBound(job, slashAmount); err != nil {
		return err
	}
	modules, _, _ := r.snapshotConfig()
	now := r.clock()
	if err := modules.Votes.GateResolve(ctx, jobID, now); err != nil {
		return err
	}
	outcome := state.DisputeUnslashed
	if slashWorker {
		outcome = state.DisputeSlashed
	}
	if err := modules.Relay.Resolved(ctx, jobID, outcome, job.Worker, reputationDelta); err != nil {
		return err
	}
	if err := r.settleStake(ctx, modules, job.Worker, job.StakeAmount, slashAmount); err != nil {
		return err
	}
	dispute, ok, err := r.disputes.GetDispute(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		dispute = state.DisputeRecord{JobID: jobID, RaisedAt: now}
	}
	dispute.Outcome = outcome
	dispute.ResolvedAt = now
	if err := r.disputes.PutDispute(ctx, dispute); err != nil {
		return err
	}
	job.Status = state.JobFinalized
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return err
	}
	if err := modules.Votes.CloseRound(ctx, jobID); err != nil {
		return err
	}
	r.appendAudit(ctx, "dispute_resolved", actor, jobID, outcome, fmt.Sprintf("slash=%d reputation_delta=%d", slashAmount, reputationDelta))
	observability.Default.IncCounter("registry_transitions_total", map[string]string{"to": state.JobFinalized}, 1)
	return nil
}

// TimeoutJob reclaims stake stuck behind a lapsed deadline. It is the only
// way a stalled job resolves; nothing expires on its own.
func (r *Registry) TimeoutJob(ctx context.Context, actor string, jobID int64, slashAmount int64) error {
	ctx, span := observability.StartSpan(ctx, "registry.timeout_job",
		attribute.Int64("job.id", jobID),
	)
	defer span.End()
	if err := r.requireConfigured(); err != nil {
		return err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	var deadline time.Time
	switch job.Status {
	case state.JobCommitted:
		deadline = job.RevealDeadline
	case state.JobRevealed, state.JobDisputed:
		deadline = job.DisputeDeadline
	default:
		return r.stateError(job, "timeout")
	}
	now := r.clock()
	if !now.After(deadline) {
		return fmt.Errorf("timeout of job %d before deadline %s: %w", jobID, deadline.Format(time.RFC3339), ErrWindowNotElapsed)
	}
	if err := r.checkSlashBound(job, slashAmount); err != nil {
		return err
	}
	modules, _, _ := r.snapshotConfig()
	if err := r.settleStake(ctx, modules, job.Worker, job.StakeAmount, slashAmount); err != nil {
		return err
	}
	outcome := state.DisputeUnslashed
	if slashAmount > 0 {
		outcome = state.DisputeSlashed
	}
	if job.Status == state.JobDisputed {
		dispute, ok, err := r.disputes.GetDispute(ctx, jobID)
		if err != nil {
			return err
		}
		if ok {
			dispute.Outcome = outcome
			dispute.ResolvedAt = now
			if err := r.disputes.PutDispute(ctx, dispute); err != nil {
				return err
			}
		}
		if err := modules.Relay.Resolved(ctx, jobID, outcome, job.Worker, 0); err != nil {
			return err
		}
	}
	job.Status = state.JobFinalized
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return err
	}
	if err := modules.Votes.CloseRound(ctx, jobID); err != nil {
		return err
	}
	r.appendAudit(ctx, "job_timed_out", actor, jobID, outcome, fmt.Sprintf("slash=%d", slashAmount))
	observability.Default.IncCounter("registry_transitions_total", map[string]string{"to": state.JobFinalized}, 1)
	return nil
}

// ExtendJobDeadlines pushes out the deadlines of a job in flight. Extensions
// may also revive an already-lapsed window; the timeout path stays available
// either way.
func (r *Registry) ExtendJobDeadlines(ctx context.Context, actor string, jobID int64, commitExt, revealExt, disputeExt time.Duration) error {
	if err := r.requireConfigured(); err != nil {
		return err
	}
	if commitExt < 0 || revealExt < 0 || disputeExt < 0 {
		return fmt.Errorf("extend job %d: extensions must not be negative: %w", jobID, ErrInvalidAmount)
	}
	if commitExt == 0 && revealExt == 0 && disputeExt == 0 {
		return fmt.Errorf("extend job %d: at least one extension must be positive: %w", jobID, ErrInvalidAmount)
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == state.JobFinalized {
		return r.stateError(job, "extend")
	}
	extended := false
	if commitExt > 0 && !job.CommitDeadline.IsZero() {
		job.CommitDeadline = job.CommitDeadline.Add(commitExt)
		extended = true
	}
	if revealExt > 0 && !job.RevealDeadline.IsZero() {
		job.RevealDeadline = job.RevealDeadline.Add(revealExt)
		extended = true
	}
	if disputeExt > 0 && !job.DisputeDeadline.IsZero() {
		job.DisputeDeadline = job.DisputeDeadline.Add(disputeExt)
		extended = true
	}
	// Extensions only stretch windows that are already running. A job with
	// no matching live deadline has nothing to extend.
	if !extended {
		return r.stateError(job, "extend")
	}
	if err := r.jobs.PutJob(ctx, job); err != nil {
		return err
	}
	r.appendAudit(ctx, "deadlines_extended", actor, jobID, "ok",
		fmt.Sprintf("commit=%s reveal=%s dispute=%s", commitExt, revealExt, disputeExt))
	return nil
}

// CommitVote accepts a validator's sealed vote while the job is awaiting or
// undergoing validation.
func (r *Registry) CommitVote(ctx context.Context, validator string, jobID int64, sealedVote string) error {
	if err := r.requireConfigured(); err != nil {
		return err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.JobCommitted && job.Status != state.JobRevealed {
		return r.stateError(job, "vote commit")
	}
	if r.eligibility != nil && !r.eligibility.Allowed(validator, []string{"validator"}) {
		return fmt.Errorf("validator %s is not eligible: %w", validator, ErrUnauthorized)
	}
	modules, _, _ := r.snapshotConfig()
	if err := modules.Votes.Commit(ctx, jobID, validator, sealedVote); err != nil {
		return err
	}
	r.appendAudit(ctx, "vote_committed", validator, jobID, "ok", "")
	return nil
}

// RevealVote opens a validator's sealed vote once the work itself has been
// revealed.
func (r *Registry) RevealVote(ctx context.Context, validator string, jobID int64, approve bool, salt string) error {
	if err := r.requireConfigured(); err != nil {
		return err
	}
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.JobRevealed && job.Status != state.JobDisputed {
		return r.stateError(job, "vote reveal")
	}
	modules, _, _ := r.snapshotConfig()
	if err := modules.Votes.Reveal(ctx, jobID, validator, approve, salt, r.clock()); err != nil {
		return err
	}
	r.appendAudit(ctx, "vote_revealed", validator, jobID, "ok", "")
	return nil
}

func (r *Registry) GetJob(ctx context.Context, jobID int64) (state.JobRecord, bool, error) {
	return r.jobs.GetJob(ctx, jobID)
}

func (r *Registry) GetDispute(ctx context.Context, jobID int64) (state.DisputeRecord, bool, error) {
	return r.disputes.GetDispute(ctx, jobID)
}

func (r *Registry) ListAuditEvents(ctx context.Context, query state.AuditQuery) ([]state.AuditEventRecord, error) {
	return r.audit.ListAuditEvents(ctx, query)
}

// settleStake slashes slashAmount of the worker's locked stake (routed to
// fee accounting by the ledger) and releases the remainder. The amounts are
// bounded by the caller, so a failure here is a broken ledger invariant.
func (r *Registry) settleStake(ctx context.Context, modules Modules, worker string, stakeAmount, slashAmount int64) error {
	if slashAmount > 0 {
		if err := modules.Escrow.Slash(ctx, worker, slashAmount); err != nil {
			return err
		}
	}
	if remainder := stakeAmount - slashAmount; remainder > 0 {
		if err := modules.Escrow.Release(ctx, worker, remainder); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkSlashBound(job state.JobRecord, slashAmount int64) error {
	if slashAmount < 0 {
		return fmt.Errorf("slash %d on job %d: %w", slashAmount, job.ID, ErrThresholdViolation)
	}
	_, _, thresholds := r.snapshotConfig()
	maxSlash := job.StakeAmount * int64(thresholds.SlashBpsMax) / 10000
	if slashAmount > job.StakeAmount || slashAmount > maxSlash {
		return fmt.Errorf("slash %d on job %d exceeds bound %d: %w", slashAmount, job.ID, maxSlash, ErrThresholdViolation)
	}
	return nil
}

func (r *Registry) loadJob(ctx context.Context, jobID int64) (state.JobRecord, error) {
	job, ok, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return state.JobRecord{}, err
	}
	if !ok {
		return state.JobRecord{}, fmt.Errorf("job %d: %w", jobID, ErrJobNotFound)
	}
	return job, nil
}

func (r *Registry) stateError(job state.JobRecord, op string) error {
	return fmt.Errorf("%s on job %d in state %s: %w", op, job.ID, job.Status, ErrInvalidState)
}

func (r *Registry) recordTransition(ctx context.Context, job state.JobRecord, action, actor, details string) {
	r.appendAudit(ctx, action, actor, job.ID, "ok", details)
	observability.Default.IncCounter("registry_transitions_total", map[string]string{"to": job.Status}, 1)
}

func (r *Registry) appendAudit(ctx context.Context, action, actor string, jobID int64, result, details string) {
	_ = r.audit.AppendAuditEvent(ctx, state.AuditEventRecord{
		Action:   action,
		Actor:    actor,
		Resource: "jobs",
		JobID:    jobID,
		Result:   result,
		Details:  details,
	})
}
