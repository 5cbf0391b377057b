package marketapi

import "time"

type CreateJobRequest struct {
	StakeAmount int64 `json:"stake_amount"`
}

type CreateJobResponse struct {
	JobID int64 `json:"job_id"`
}

type CommitJobRequest struct {
	CommitHash string `json:"commit_hash"`
}

type RevealJobRequest struct {
	Secret string `json:"secret"`
}

type FinalizeJobRequest struct {
	Success bool `json:"success"`
}

type FinalizeJobResponse struct {
	JobID     int64 `json:"job_id"`
	FeeAmount int64 `json:"fee_amount"`
}

type RaiseDisputeRequest struct {
	Evidence string `json:"evidence,omitempty"`
}

type RaiseDisputeResponse struct {
	JobID       int64  `json:"job_id"`
	EvidenceURI string `json:"evidence_uri,omitempty"`
}

type ResolveDisputeRequest struct {
	SlashWorker     bool  `json:"slash_worker"`
	SlashAmount     int64 `json:"slash_amount"`
	ReputationDelta int64 `json:"reputation_delta"`
}

type TimeoutJobRequest struct {
	SlashAmount int64 `json:"slash_amount"`
}

type ExtendDeadlinesRequest struct {
	CommitExtSeconds  int64 `json:"commit_ext_seconds"`
	RevealExtSeconds  int64 `json:"reveal_ext_seconds"`
	DisputeExtSeconds int64 `json:"dispute_ext_seconds"`
}

type CommitVoteRequest struct {
	SealedVote string `json:"sealed_vote"`
}

type RevealVoteRequest struct {
	Approve bool   `json:"approve"`
	Salt    string `json:"salt"`
}

type JobView struct {
	ID              int64     `json:"id"`
	Client          string    `json:"client"`
	Worker          string    `json:"worker,omitempty"`
	StakeAmount     int64     `json:"stake_amount"`
	Status          string    `json:"status"`
	Commitment      string    `json:"commitment,omitempty"`
	CommitDeadline  time.Time `json:"commit_deadline,omitempty"`
	RevealDeadline  time.Time `json:"reveal_deadline,omitempty"`
	DisputeDeadline time.Time `json:"dispute_deadline,omitempty"`
	FeeAmount       int64     `json:"fee_amount"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type TallyView struct {
	JobID     int64 `json:"job_id"`
	Committed int   `json:"committed"`
	Revealed  int   `json:"revealed"`
	Approvals int   `json:"approvals"`
	Approved  bool  `json:"approved"`
	Settled   bool  `json:"settled"`
}

type StakeRequest struct {
	Amount int64 `json:"amount"`
}

type StakeAccountView struct {
	Address   string `json:"address"`
	Total     int64  `json:"total"`
	Locked    int64  `json:"locked"`
	Available int64  `json:"available"`
}

type EmergencyReleaseRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type PauseRequest struct {
	Paused bool `json:"paused"`
}

type ReputationView struct {
	Address string `json:"address"`
	Score   int64  `json:"score"`
}

type FeeTotalsView struct {
	Total  int64 `json:"total"`
	Held   int64 `json:"held"`
	Burned int64 `json:"burned"`
}

type SweepResponse struct {
	Swept       int64  `json:"swept"`
	Destination string `json:"destination"`
}

type RecordFeeRequest struct {
	Amount int64 `json:"amount"`
}

type TimingsRequest struct {
	CommitWindowSeconds  int64 `json:"commit_window_seconds"`
	RevealWindowSeconds  int64 `json:"reveal_window_seconds"`
	DisputeWindowSeconds int64 `json:"dispute_window_seconds"`
}

type ThresholdsRequest struct {
	ApprovalThresholdBps int   `json:"approval_threshold_bps"`
	QuorumMin            int   `json:"quorum_min"`
	QuorumMax            int   `json:"quorum_max"`
	FeeBps               int   `json:"fee_bps"`
	SlashBpsMax          int   `json:"slash_bps_max"`
	RevealCutoffSeconds  int64 `json:"reveal_cutoff_seconds"`
}

type ConfigStatusView struct {
	ModulesSet    bool `json:"modules_set"`
	TimingsSet    bool `json:"timings_set"`
	ThresholdsSet bool `json:"thresholds_set"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	JobID int64  `json:"job_id,omitempty"`
}
