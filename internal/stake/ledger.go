package stake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/stakemarket/internal/observability"
	"github.com/example/stakemarket/internal/state"
)

var (
	ErrInvalidAmount     = errors.New("stake: amount must be positive")
	ErrInsufficientStake = errors.New("stake: insufficient available stake")
	ErrExceedsLocked     = errors.New("stake: amount exceeds locked stake")
	ErrPaused            = errors.New("stake: ledger is paused")
)

// FeeSink receives slashed stake. Wired to the fee accounting pool.
type FeeSink interface {
	Credit(ctx context.Context, amount int64, source string) error
}

// Ledger tracks total and locked stake per address. Deposit and Withdraw are
// open to any account holder; Lock, Release, and Slash move only through the
// Escrow capability handed to the job registry. A paused ledger rejects
// deposit, withdraw, and lock but still honors release and slash so in-flight
// jobs can settle during an incident.
type Ledger struct {
	store state.StakeStore
	sink  FeeSink

	mu     sync.Mutex
	paused bool
}

func NewLedger(store state.StakeStore, sink FeeSink) *Ledger {
	return &Ledger{store: store, sink: sink}
}

func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *Ledger) Deposit(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if l.Paused() {
		return ErrPaused
	}
	acct, _, err := l.store.GetStakeAccount(ctx, address)
	if err != nil {
		return err
	}
	acct.Address = address
	acct.Total += amount
	if err := l.store.PutStakeAccount(ctx, acct); err != nil {
		return err
	}
	observability.Default.IncCounter("stake_deposited_total", nil, float64(amount))
	return nil
}

func (l *Ledger) Withdraw(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if l.Paused() {
		return ErrPaused
	}
	acct, ok, err := l.store.GetStakeAccount(ctx, address)
	if err != nil {
		return err
	}
	if !ok || acct.Available() < amount {
		return fmt.Errorf("withdraw %d from %s: %w", amount, address, ErrInsufficientStake)
	}
	acct.Total -= amount
	if err := l.store.PutStakeAccount(ctx, acct); err != nil {
		return err
	}
	observability.Default.IncCounter("stake_withdrawn_total", nil, float64(amount))
	return nil
}

// Account returns the stake account for address, zero-valued if it has never
// deposited.
func (l *Ledger) Account(ctx context.Context, address string) (state.StakeAccountRecord, error) {
	acct, ok, err := l.store.GetStakeAccount(ctx, address)
	if err != nil {
		return state.StakeAccountRecord{}, err
	}
	if !ok {
		acct = state.StakeAccountRecord{Address: address}
	}
	return acct, nil
}

// EmergencyRelease unlocks stake without a job context. Governance-only,
// bypasses the escrow capability, works while paused.
func (l *Ledger) EmergencyRelease(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.release(ctx, address, amount)
}

// Escrow returns the capability through which the job registry locks,
// releases, and slashes stake. No other caller holds one.
func (l *Ledger) Escrow() *EscrowHandle {
	return &EscrowHandle{l: l}
}

type EscrowHandle struct {
	l *Ledger
}

func (e *EscrowHandle) Available(ctx context.Context, address string) (int64, error) {
	acct, err := e.l.Account(ctx, address)
	if err != nil {
		return 0, err
	}
	return acct.Available(), nil
}

func (e *EscrowHandle) Lock(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if e.l.Paused() {
		return ErrPaused
	}
	acct, ok, err := e.l.store.GetStakeAccount(ctx, address)
	if err != nil {
		return err
	}
	if !ok || acct.Available() < amount {
		return fmt.Errorf("lock %d for %s: %w", amount, address, ErrInsufficientStake)
	}
	acct.Locked += amount
	if err := e.l.store.PutStakeAccount(ctx, acct); err != nil {
		return err
	}
	observability.Default.IncCounter("stake_locked_total", nil, float64(amount))
	return nil
}

func (e *EscrowHandle) Release(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return e.l.release(ctx, address, amount)
}

func (e *EscrowHandle) Slash(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	acct, ok, err := e.l.store.GetStakeAccount(ctx, address)
	if err != nil {
		return err
	}
	if !ok || acct.Locked < amount {
		return fmt.Errorf("slash %d from %s: %w", amount, address, ErrExceedsLocked)
	}
	acct.Locked -= amount
	acct.Total -= amount
	if err := e.l.store.PutStakeAccount(ctx, acct); err != nil {
		return err
	}
	if e.l.sink != nil {
		if err := e.l.sink.Credit(ctx, amount, "stake_slash"); err != nil {
			return err
		}
	}
	observability.Default.IncCounter("stake_slashed_total", nil, float64(amount))
	return nil
}

func (l *Ledger) release(ctx context.Context, address string, amount int64) error {
	acct, ok, err := l.store.GetStakeAccount(ctx, address)
	if err != nil {
		return err
	}
	if !ok || acct.Locked < amount {
		return fmt.Errorf("release %d for %s: %w", amount, address, ErrExceedsLocked)
	}
	acct.Locked -= amount
	if err := l.store.PutStakeAccount(ctx, acct); err != nil {
		return err
	}
	observability.Default.IncCounter("stake_released_total", nil, float64(amount))
	return nil
}
