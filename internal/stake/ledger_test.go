package stake

import (
	"context"
	"errors"
	"testing"

	"github.com/example/stakemarket/internal/state"
)

type recordingSink struct {
	credited int64
	source   string
}

func (s *recordingSink) Credit(_ context.Context, amount int64, source string) error {
	s.credited += amount
	s.source = source
	return nil
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Withdraw(ctx, "addr-1", 200); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	acct, err := l.Account(ctx, "addr-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Total != 300 || acct.Locked != 0 {
		t.Fatalf("expected total 300 locked 0, got total %d locked %d", acct.Total, acct.Locked)
	}
}

func TestWithdrawOnlyFromAvailable(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Escrow().Lock(ctx, "addr-1", 400); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := l.Withdraw(ctx, "addr-1", 200); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if err := l.Withdraw(ctx, "addr-1", 100); err != nil {
		t.Fatalf("withdraw within available: %v", err)
	}
}

func TestLockRequiresAvailable(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Escrow().Lock(ctx, "addr-1", 200); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if err := l.Escrow().Lock(ctx, "nobody", 1); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake for unknown account, got %v", err)
	}
}

func TestSlashRoutesToFeeSink(t *testing.T) {
	sink := &recordingSink{}
	l := NewLedger(state.NewMemoryStore(), sink)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	e := l.Escrow()
	if err := e.Lock(ctx, "addr-1", 300); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.Slash(ctx, "addr-1", 80); err != nil {
		t.Fatalf("slash: %v", err)
	}
	acct, _ := l.Account(ctx, "addr-1")
	if acct.Total != 420 || acct.Locked != 220 {
		t.Fatalf("expected total 420 locked 220, got total %d locked %d", acct.Total, acct.Locked)
	}
	if sink.credited != 80 || sink.source != "stake_slash" {
		t.Fatalf("expected 80 credited as stake_slash, got %d %q", sink.credited, sink.source)
	}
}

func TestSlashBoundedByLocked(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	e := l.Escrow()
	if err := e.Lock(ctx, "addr-1", 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.Slash(ctx, "addr-1", 200); !errors.Is(err, ErrExceedsLocked) {
		t.Fatalf("expected ErrExceedsLocked, got %v", err)
	}
	if err := e.Release(ctx, "addr-1", 200); !errors.Is(err, ErrExceedsLocked) {
		t.Fatalf("expected ErrExceedsLocked on over-release, got %v", err)
	}
}

func TestPausedLedgerStillSettles(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	e := l.Escrow()
	if err := e.Lock(ctx, "addr-1", 300); err != nil {
		t.Fatalf("lock: %v", err)
	}
	l.SetPaused(true)

	if err := l.Deposit(ctx, "addr-1", 10); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on deposit, got %v", err)
	}
	if err := l.Withdraw(ctx, "addr-1", 10); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on withdraw, got %v", err)
	}
	if err := e.Lock(ctx, "addr-1", 10); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on lock, got %v", err)
	}
	// In-flight jobs still settle during a pause.
	if err := e.Slash(ctx, "addr-1", 50); err != nil {
		t.Fatalf("slash while paused: %v", err)
	}
	if err := e.Release(ctx, "addr-1", 250); err != nil {
		t.Fatalf("release while paused: %v", err)
	}
}

func TestEmergencyReleaseWorksWhilePaused(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Escrow().Lock(ctx, "addr-1", 300); err != nil {
		t.Fatalf("lock: %v", err)
	}
	l.SetPaused(true)
	if err := l.EmergencyRelease(ctx, "addr-1", 300); err != nil {
		t.Fatalf("emergency release: %v", err)
	}
	acct, _ := l.Account(ctx, "addr-1")
	if acct.Locked != 0 || acct.Total != 500 {
		t.Fatalf("expected locked 0 total 500, got locked %d total %d", acct.Locked, acct.Total)
	}
}

func TestAmountsMustBePositive(t *testing.T) {
	l := NewLedger(state.NewMemoryStore(), nil)
	ctx := context.Background()
	if err := l.Deposit(ctx, "addr-1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Withdraw(ctx, "addr-1", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Escrow().Lock(ctx, "addr-1", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
