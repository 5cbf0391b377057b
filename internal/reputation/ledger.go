package reputation

import (
	"context"
	"errors"
	"sync"

	"github.com/example/stakemarket/internal/observability"
	"github.com/example/stakemarket/internal/state"
)

var ErrPaused = errors.New("reputation: ledger is paused")

// Ledger keeps a signed score per worker. Adjust is reachable only through
// the dispute relay and the job registry. The pause flag is independent of
// the stake ledger's.
type Ledger struct {
	store state.ReputationStore

	mu     sync.Mutex
	paused bool
}

func NewLedger(store state.ReputationStore) *Ledger {
	return &Ledger{store: store}
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

func (l *Ledger) Adjust(ctx context.Context, address string, delta int64) error {
	if l.Paused() {
		return ErrPaused
	}
	if delta == 0 {
		return nil
	}
	rec, _, err := l.store.GetReputation(ctx, address)
	if err != nil {
		return err
	}
	rec.Address = address
	rec.Score += delta
	if err := l.store.PutReputation(ctx, rec); err != nil {
		return err
	}
	observability.Default.IncCounter("reputation_adjustments_total", nil, 1)
	return nil
}

func (l *Ledger) Score(ctx context.Context, address string) (int64, error) {
	rec, _, err := l.store.GetReputation(ctx, address)
	if err != nil {
		return 0, err
	}
	return rec.Score, nil
}
