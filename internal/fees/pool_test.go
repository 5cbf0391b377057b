package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/example/stakemarket/internal/state"
)

func TestCreditHoldsBalance(t *testing.T) {
	p := NewPool(state.NewMemoryStore(), "")
	ctx := context.Background()
	if err := p.Credit(ctx, 7, "stake_slash"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := p.Credit(ctx, 80, "stake_slash"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	totals, err := p.Totals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Total != 87 || totals.Held != 87 || totals.Burned != 0 {
		t.Fatalf("expected total 87 held 87 burned 0, got %+v", totals)
	}
}

func TestRecordFeeDoesNotHold(t *testing.T) {
	p := NewPool(state.NewMemoryStore(), "")
	ctx := context.Background()
	if err := p.RecordFee(ctx, 25); err != nil {
		t.Fatalf("record fee: %v", err)
	}
	totals, _ := p.Totals(ctx)
	if totals.Total != 25 || totals.Held != 0 {
		t.Fatalf("expected total 25 held 0, got %+v", totals)
	}
}

func TestSweepMovesHeldToBurned(t *testing.T) {
	p := NewPool(state.NewMemoryStore(), "incinerator")
	ctx := context.Background()
	if err := p.Credit(ctx, 100, "stake_slash"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	swept, err := p.SweepToBurn(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 100 {
		t.Fatalf("expected swept 100, got %d", swept)
	}
	totals, _ := p.Totals(ctx)
	if totals.Total != 100 || totals.Held != 0 || totals.Burned != 100 {
		t.Fatalf("expected total 100 held 0 burned 100, got %+v", totals)
	}
	if p.BurnDestination() != "incinerator" {
		t.Fatalf("expected burn destination incinerator, got %s", p.BurnDestination())
	}

	swept, err = p.SweepToBurn(ctx)
	if err != nil || swept != 0 {
		t.Fatalf("expected empty sweep to be a no-op, swept=%d err=%v", swept, err)
	}
}

func TestAmountsMustBePositive(t *testing.T) {
	p := NewPool(state.NewMemoryStore(), "")
	ctx := context.Background()
	if err := p.Credit(ctx, 0, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := p.RecordFee(ctx, -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
