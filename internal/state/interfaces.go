package state

import "context"

// The Store interface is split into per-component slices so each ledger can
// be handed only the records it owns. The Job Registry holds jobs, disputes,
// and the audit log; the Stake Ledger holds stake accounts; the Validation
// Quorum holds rounds; the Fee and Reputation ledgers hold their totals.

type JobStore interface {
	NextJobID(ctx context.Context) (int64, error)
	PutJob(ctx context.Context, job JobRecord) error
	GetJob(ctx context.Context, jobID int64) (JobRecord, bool, error)
	ListJobsByStatus(ctx context.Context, status string, limit int) ([]JobRecord, error)
}

type StakeStore interface {
	GetStakeAccount(ctx context.Context, address string) (StakeAccountRecord, bool, error)
	PutStakeAccount(ctx context.Context, account StakeAccountRecord) error
	ListStakeAccounts(ctx context.Context) ([]StakeAccountRecord, error)
}

type RoundStore interface {
	GetRound(ctx context.Context, jobID int64) (ValidationRoundRecord, bool, error)
	PutRound(ctx context.Context, round ValidationRoundRecord) error
}

type DisputeStore interface {
	GetDispute(ctx context.Context, jobID int64) (DisputeRecord, bool, error)
	PutDispute(ctx context.Context, dispute DisputeRecord) error
}

type ReputationStore interface {
	GetReputation(ctx context.Context, address string) (ReputationRecord, bool, error)
	PutReputation(ctx context.Context, rec ReputationRecord) error
}

type FeeStore interface {
	GetFeeTotals(ctx context.Context) (FeeTotalsRecord, error)
	PutFeeTotals(ctx context.Context, totals FeeTotalsRecord) error
}

type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event AuditEventRecord) error
	ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error)
}

type Store interface {
	JobStore
	StakeStore
	RoundStore
	DisputeStore
	ReputationStore
	FeeStore
	AuditStore
}
