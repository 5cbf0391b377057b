package registry

import (
	"context"
	"fmt"
	"time"
)

// Modules are the trusted sub-components the orchestrator drives. Each field
// is a capability exposing only the operations the registry is authorized to
// invoke; the fee and reputation ledgers are reached indirectly through the
// stake escrow and the dispute relay.
type Modules struct {
	Escrow StakeEscrow
	Votes  VoteGates
	Relay  DisputeNotifier
}

type StakeEscrow interface {
	Available(ctx context.Context, address string) (int64, error)
	Lock(ctx context.Context, address string, amount int64) error
	Release(ctx context.Context, address string, amount int64) error
	Slash(ctx context.Context, address string, amount int64) error
}

type VoteGates interface {
	Configure(approvalThresholdBps, quorumMin, quorumMax int, revealCutoff time.Duration)
	Commit(ctx context.Context, jobID int64, validator, sealedVote string) error
	Reveal(ctx context.Context, jobID int64, validator string, approve bool, salt string, now time.Time) error
	GateFinalize(ctx context.Context, jobID int64, now time.Time) error
	GateDispute(ctx context.Context, jobID int64) error
	GateResolve(ctx context.Context, jobID int64, now time.Time) error
	CloseRound(ctx context.Context, jobID int64) error
}

type DisputeNotifier interface {
	Raised(ctx context.Context, jobID int64, raiser string)
	Resolved(ctx context.Context, jobID int64, outcome, worker string, reputationDelta int64) error
}

// Timings are the global windows; each deadline is computed as now + window
// at the moment of the preceding transition.
type Timings struct {
	CommitWindow  time.Duration
	RevealWindow  time.Duration
	DisputeWindow time.Duration
}

type Thresholds struct {
	ApprovalThresholdBps int
	QuorumMin            int
	QuorumMax            int
	FeeBps               int
	SlashBpsMax          int
	RevealCutoff         time.Duration
}

type ConfigStatus struct {
	ModulesSet    bool
	TimingsSet    bool
	ThresholdsSet bool
}

// SetModules binds the sub-components. One-shot: the wiring is immutable once
// set.
func (r *Registry) SetModules(m Modules) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modulesSet {
		return fmt.Errorf("modules: %w", ErrAlreadyConfigured)
	}
	if m.Escrow == nil || m.Votes == nil || m.Relay == nil {
		return fmt.Errorf("modules: all of escrow, votes, and relay must be bound")
	}
	r.modules = m
	r.modulesSet = true
	if r.thresholdsSet {
		r.pushThresholdsLocked()
	}
	return nil
}

// SetTimings sets or replaces the global windows.
func (r *Registry) SetTimings(t Timings) error {
	if t.CommitWindow <= 0 || t.RevealWindow <= 0 || t.DisputeWindow <= 0 {
		return fmt.Errorf("timings: windows must be positive: %w", ErrThresholdViolation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings = t
	r.timingsSet = true
	return nil
}

// SetThresholds sets or replaces the global thresholds and propagates the
// quorum slice to the validation quorum.
func (r *Registry) SetThresholds(t Thresholds) error {
	for _, bps := range []int{t.ApprovalThresholdBps, t.FeeBps, t.SlashBpsMax} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("thresholds: basis points %d out of [0, 10000]: %w", bps, ErrThresholdViolation)
		}
	}
	// QuorumMax of zero means no upper bound.
	if t.QuorumMin < 0 || t.QuorumMax < 0 || (t.QuorumMax > 0 && t.QuorumMin > t.QuorumMax) {
		return fmt.Errorf("thresholds: quorum bounds %d..%d invalid: %w", t.QuorumMin, t.QuorumMax, ErrThresholdViolation)
	}
	if t.ApprovalThresholdBps > 0 && t.QuorumMin < 1 {
		return fmt.Errorf("thresholds: approval threshold requires quorumMin >= 1: %w", ErrThresholdViolation)
	}
	if t.RevealCutoff < 0 {
		return fmt.Errorf("thresholds: reveal cutoff must not be negative: %w", ErrThresholdViolation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds = t
	r.thresholdsSet = true
	if r.modulesSet {
		r.pushThresholdsLocked()
	}
	return nil
}

func (r *Registry) pushThresholdsLocked() {
	r.modules.Votes.Configure(
		r.thresholds.ApprovalThresholdBps,
		r.thresholds.QuorumMin,
		r.thresholds.QuorumMax,
		r.thresholds.RevealCutoff,
	)
}

func (r *Registry) ConfigurationStatus() ConfigStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ConfigStatus{
		ModulesSet:    r.modulesSet,
		TimingsSet:    r.timingsSet,
		ThresholdsSet: r.thresholdsSet,
	}
}

func (r *Registry) requireConfigured() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.modulesSet || !r.timingsSet || !r.thresholdsSet {
		return ErrNotConfigured
	}
	return nil
}

func (r *Registry) snapshotConfig() (Modules, Timings, Thresholds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modules, r.timings, r.thresholds
}
