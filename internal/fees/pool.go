package fees

import (
	"context"
	"errors"

	"github.com/example/stakemarket/internal/observability"
	"github.com/example/stakemarket/internal/state"
)

var ErrInvalidAmount = errors.New("fees: amount must be positive")

// Pool accumulates protocol fees. Slashed stake arrives through Credit and is
// held until swept; RecordFee only bumps the running total (for fees settled
// out of band). SweepToBurn forwards the held balance to the configured burn
// destination.
type Pool struct {
	store    state.FeeStore
	burnDest string
}

func NewPool(store state.FeeStore, burnDestination string) *Pool {
	if burnDestination == "" {
		burnDestination = "burn"
	}
	return &Pool{store: store, burnDest: burnDestination}
}

func (p *Pool) BurnDestination() string {
	return p.burnDest
}

// Credit records amount as fee and adds it to the held balance. This is the
// route slashes take out of the stake ledger.
func (p *Pool) Credit(ctx context.Context, amount int64, source string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	totals, err := p.store.GetFeeTotals(ctx)
	if err != nil {
		return err
	}
	totals.Total += amount
	totals.Held += amount
	if err := p.store.PutFeeTotals(ctx, totals); err != nil {
		return err
	}
	observability.Default.IncCounter("fees_credited_total", map[string]string{"source": source}, float64(amount))
	return nil
}

// RecordFee bumps the running fee total without holding a balance.
func (p *Pool) RecordFee(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	totals, err := p.store.GetFeeTotals(ctx)
	if err != nil {
		return err
	}
	totals.Total += amount
	if err := p.store.PutFeeTotals(ctx, totals); err != nil {
		return err
	}
	observability.Default.IncCounter("fees_recorded_total", nil, float64(amount))
	return nil
}

// SweepToBurn forwards the currently held balance to the burn destination and
// returns the swept amount.
func (p *Pool) SweepToBurn(ctx context.Context) (int64, error) {
	totals, err := p.store.GetFeeTotals(ctx)
	if err != nil {
		return 0, err
	}
	swept := totals.Held
	if swept == 0 {
		return 0, nil
	}
	totals.Held = 0
	totals.Burned += swept
	if err := p.store.PutFeeTotals(ctx, totals); err != nil {
		return 0, err
	}
	observability.Default.IncCounter("fees_burned_total", nil, float64(swept))
	return swept, nil
}

func (p *Pool) Totals(ctx context.Context) (state.FeeTotalsRecord, error) {
	return p.store.GetFeeTotals(ctx)
}
