package dispute

import (
	"context"
	"fmt"

	"github.com/example/stakemarket/internal/observability"
)

// ReputationSink is the slice of the reputation ledger the relay may touch.
type ReputationSink interface {
	Adjust(ctx context.Context, address string, delta int64) error
}

// Listener observes dispute lifecycle events for audit purposes.
type Listener interface {
	DisputeRaised(ctx context.Context, jobID int64, raiser string)
	DisputeResolved(ctx context.Context, jobID int64, outcome string, reputationDelta int64)
}

// Relay is a stateless translator between the job registry and the
// reputation ledger plus any audit listeners. Dispute records themselves
// live with the registry.
type Relay struct {
	reputation ReputationSink
	listeners  []Listener
}

func NewRelay(reputation ReputationSink, listeners ...Listener) *Relay {
	return &Relay{reputation: reputation, listeners: listeners}
}

func (r *Relay) Raised(ctx context.Context, jobID int64, raiser string) {
	observability.Default.IncCounter("disputes_raised_total", nil, 1)
	for _, l := range r.listeners {
		l.DisputeRaised(ctx, jobID, raiser)
	}
}

func (r *Relay) Resolved(ctx context.Context, jobID int64, outcome, worker string, reputationDelta int64) error {
	if reputationDelta != 0 && r.reputation != nil {
		if err := r.reputation.Adjust(ctx, worker, reputationDelta); err != nil {
			return fmt.Errorf("adjust reputation for job %d: %w", jobID, err)
		}
	}
	observability.Default.IncCounter("disputes_resolved_total", map[string]string{"outcome": outcome}, 1)
	for _, l := range r.listeners {
		l.DisputeResolved(ctx, jobID, outcome, reputationDelta)
	}
	return nil
}
