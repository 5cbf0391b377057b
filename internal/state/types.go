package state

import "time"

// Job lifecycle states. Finalized is terminal; a job is never reopened.
const (
	JobCreated   = "Created"
	JobCommitted = "Committed"
	JobRevealed  = "Revealed"
	JobDisputed  = "Disputed"
	JobFinalized = "Finalized"
)

// Dispute outcomes.
const (
	DisputePending   = "pending"
	DisputeSlashed   = "slashed"
	DisputeUnslashed = "unslashed"
)

type JobRecord struct {
	ID              int64
	Client          string
	Worker          string
	StakeAmount     int64
	Status          string
	Commitment      string
	CommitDeadline  time.Time
	RevealDeadline  time.Time
	DisputeDeadline time.Time
	FeeAmount       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type StakeAccountRecord struct {
	Address   string
	Total     int64
	Locked    int64
	UpdatedAt time.Time
}

func (s StakeAccountRecord) Available() int64 {
	return s.Total - s.Locked
}

type ValidationRoundRecord struct {
	JobID            int64
	Commitments      map[string]string
	Revealed         map[string]bool
	Approvals        int
	RevealedCount    int
	Sealed           bool
	RevealOpenedAt   time.Time
	FinalizeConsumed bool
	ResolveConsumed  bool
	DisputeOpened    bool
	Closed           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type DisputeRecord struct {
	JobID       int64
	Raiser      string
	Outcome     string
	EvidenceURI string
	RaisedAt    time.Time
	ResolvedAt  time.Time
}

type ReputationRecord struct {
	Address   string
	Score     int64
	UpdatedAt time.Time
}

type FeeTotalsRecord struct {
	Total     int64
	Held      int64
	Burned    int64
	UpdatedAt time.Time
}

type AuditEventRecord struct {
	ID          int64
	Action      string
	Actor       string
	Resource    string
	JobID       int64
	Result      string
	Details     string
	PayloadHash string
	PrevHash    string
	EventHash   string
	CreatedAt   time.Time
}

type AuditQuery struct {
	Limit  int
	Offset int
	Action string
	Actor  string
	JobID  int64
	Result string
	From   time.Time
	To     time.Time
}
