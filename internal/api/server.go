package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/stakemarket/internal/evidence"
	"github.com/example/stakemarket/internal/fees"
	"github.com/example/stakemarket/internal/observability"
	"github.com/example/stakemarket/internal/quorum"
	"github.com/example/stakemarket/internal/registry"
	"github.com/example/stakemarket/internal/reputation"
	"github.com/example/stakemarket/internal/stake"
	"github.com/example/stakemarket/internal/state"
	"github.com/example/stakemarket/pkg/marketapi"
	"go.opentelemetry.io/otel/attribute"
)

type Server struct {
	registry   *registry.Registry
	ledger     *stake.Ledger
	votes      *quorum.Engine
	pool       *fees.Pool
	reputation *reputation.Ledger
	evidence   evidence.Store
	auth       *authorizer
}

func NewServer(reg *registry.Registry, ledger *stake.Ledger, votes *quorum.Engine, pool *fees.Pool, rep *reputation.Ledger, ev evidence.Store) *Server {
	return &Server{
		registry:   reg,
		ledger:     ledger,
		votes:      votes,
		pool:       pool,
		reputation: rep,
		evidence:   ev,
		auth:       newAuthorizerFromEnv(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/jobs", s.handleJobs)
	mux.HandleFunc("/v1/jobs/", s.handleJobByID)
	mux.HandleFunc("/v1/stake/deposit", s.handleStakeDeposit)
	mux.HandleFunc("/v1/stake/withdraw", s.handleStakeWithdraw)
	mux.HandleFunc("/v1/stake/accounts/", s.handleStakeAccount)
	mux.HandleFunc("/v1/reputation/", s.handleReputation)
	mux.HandleFunc("/v1/fees", s.handleFees)
	mux.HandleFunc("/v1/admin/fees/record", s.handleRecordFee)
	mux.HandleFunc("/v1/admin/fees/sweep", s.handleSweepFees)
	mux.HandleFunc("/v1/admin/stake/emergency-release", s.handleEmergencyRelease)
	mux.HandleFunc("/v1/admin/stake/pause", s.handleStakePause)
	mux.HandleFunc("/v1/admin/reputation/pause", s.handleReputationPause)
	mux.HandleFunc("/v1/admin/config/timings", s.handleConfigTimings)
	mux.HandleFunc("/v1/admin/config/thresholds", s.handleConfigThresholds)
	mux.HandleFunc("/v1/admin/config", s.handleConfigStatus)
	mux.HandleFunc("/v1/admin/audit", s.handleAuditEvents)
	return withTracing(withLogging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics", "ops"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics", "ops"); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, ok := s.requireScopes(w, r, "job:write")
	if !ok {
		return
	}
	actor, ok := s.requireActor(w, r, p)
	if !ok {
		return
	}
	var req marketapi.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	jobID, err := s.registry.CreateJob(r.Context(), actor, req.StakeAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, marketapi.CreateJobResponse{JobID: jobID})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if path == "" {
		writeError(w, http.StatusNotFound, "job id is required")
		return
	}
	parts := strings.Split(path, "/")
	jobID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || jobID <= 0 {
		writeError(w, http.StatusBadRequest, "job id must be a positive integer")
		return
	}
	subresource := strings.Join(parts[1:], "/")

	switch subresource {
	case "":
		s.handleGetJob(w, r, jobID)
	case "commit":
		s.handleCommitJob(w, r, jobID)
	case "reveal":
		s.handleRevealJob(w, r, jobID)
	case "finalize":
		s.handleFinalizeJob(w, r, jobID)
	case "dispute":
		s.handleRaiseDispute(w, r, jobID)
	case "dispute/resolve":
		s.handleResolveDispute(w, r, jobID)
	case "timeout":
		s.handleTimeoutJob(w, r, jobID)
	case "extend":
		s.handleExtendDeadlines(w, r, jobID)
	case "votes":
		s.handleCommitVote(w, r, jobID)
	case "votes/reveal":
		s.handleRevealVote(w, r, jobID)
	case "tally":
		s.handleTally(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "unknown job subresource")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "job:read"); !ok {
		return
	}
	job, ok, err := s.registry.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleCommitJob(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.CommitJobRequest](s, w, r, "job:write")
	if !ok {
		return
	}
	if err := s.registry.CommitJob(r.Context(), actor, jobID, req.CommitHash); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

func (s *Server) handleRevealJob(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.RevealJobRequest](s, w, r, "job:write")
	if !ok {
		return
	}
	if err := s.registry.RevealJob(r.Context(), actor, jobID, req.Secret); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revealed"})
}

func (s *Server) handleFinalizeJob(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.FinalizeJobRequest](s, w, r, "governance")
	if !ok {
		return
	}
	fee, err := s.registry.FinalizeJob(r.Context(), actor, jobID, req.Success)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketapi.FinalizeJobResponse{JobID: jobID, FeeAmount: fee})
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.RaiseDisputeRequest](s, w, r, "job:write")
	if !ok {
		return
	}
	evidenceURI := ""
	if req.Evidence != "" && s.evidence != nil {
		uri, err := s.evidence.Put(r.Context(), jobID, []byte(req.Evidence))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store evidence: "+err.Error())
			return
		}
		evidenceURI = uri
	}
	if err := s.registry.RaiseDispute(r.Context(), actor, jobID, evidenceURI); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketapi.RaiseDisputeResponse{JobID: jobID, EvidenceURI: evidenceURI})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.ResolveDisputeRequest](s, w, r, "governance")
	if !ok {
		return
	}
	if err := s.registry.ResolveDispute(r.Context(), actor, jobID, req.SlashWorker, req.SlashAmount, req.ReputationDelta); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleTimeoutJob(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.TimeoutJobRequest](s, w, r, "governance")
	if !ok {
		return
	}
	if err := s.registry.TimeoutJob(r.Context(), actor, jobID, req.SlashAmount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "timed_out"})
}

func (s *Server) handleExtendDeadlines(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.ExtendDeadlinesRequest](s, w, r, "governance")
	if !ok {
		return
	}
	err := s.registry.ExtendJobDeadlines(r.Context(), actor, jobID,
		time.Duration(req.CommitExtSeconds)*time.Second,
		time.Duration(req.RevealExtSeconds)*time.Second,
		time.Duration(req.DisputeExtSeconds)*time.Second,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

func (s *Server) handleCommitVote(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.CommitVoteRequest](s, w, r, "vote:write")
	if !ok {
		return
	}
	if err := s.registry.CommitVote(r.Context(), actor, jobID, req.SealedVote); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "vote_committed"})
}

func (s *Server) handleRevealVote(w http.ResponseWriter, r *http.Request, jobID int64) {
	actor, req, ok := decodeActorPost[marketapi.RevealVoteRequest](s, w, r, "vote:write")
	if !ok {
		return
	}
	if err := s.registry.RevealVote(r.Context(), actor, jobID, req.Approve, req.Salt); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "vote_revealed"})
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request, jobID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "job:read"); !ok {
		return
	}
	tally, err := s.votes.Tally(r.Context(), jobID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketapi.TallyView{
		JobID:     tally.JobID,
		Committed: tally.Committed,
		Revealed:  tally.Revealed,
		Approvals: tally.Approvals,
		Approved:  tally.Approved,
		Settled:   tally.Settled,
	})
}

func (s *Server) handleStakeDeposit(w http.ResponseWriter, r *http.Request) {
	actor, req, ok := decodeActorPost[marketapi.StakeRequest](s, w, r, "stake:write")
	if !ok {
		return
	}
	if err := s.ledger.Deposit(r.Context(), actor, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeStakeAccount(w, r, actor)
}

func (s *Server) handleStakeWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, req, ok := decodeActorPost[marketapi.StakeRequest](s, w, r, "stake:write")
	if !ok {
		return
	}
	if err := s.ledger.Withdraw(r.Context(), actor, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeStakeAccount(w, r, actor)
}

func (s *Server) handleStakeAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "job:read", "ops"); !ok {
		return
	}
	addr := strings.TrimPrefix(r.URL.Path, "/v1/stake/accounts/")
	if addr == "" {
		writeError(w, http.StatusNotFound, "address is required")
		return
	}
	s.writeStakeAccount(w, r, addr)
}

func (s *Server) writeStakeAccount(w http.ResponseWriter, r *http.Request, addr string) {
	acct, err := s.ledger.Account(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketapi.StakeAccountView{
		Address:   addr,
		Total:     acct.Total,
		Locked:    acct.Locked,
		Available: acct.Available(),
	})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "job:read", "ops"); !ok {
		return
	}
	addr := strings.TrimPrefix(r.URL.Path, "/v1/reputation/")
	if addr == "" {
		writeError(w, http.StatusNotFound, "address is required")
		return
	}
	score, err := s.reputation.Score(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketapi.ReputationView{Address: addr, Score: score})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "job:read", "ops"); !ok {
		return
	}
	totals, err := s.pool.Totals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketapi.FeeTotalsView{
		Total:  totals.Total,
		Held:   totals.Held,
		Burned: totals.Burned,
	})
}

func (s *Server) handleRecordFee(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeActorlessPost[marketapi.RecordFeeRequest](s, w, r, "governance")
	if !ok {
		return
	}
	if err := s.pool.RecordFee(r.Context(), req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleSweepFees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "governance"); !ok {
		return
	}
	swept, err := s.pool.SweepToBurn(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketapi.SweepResponse{Swept: swept, Destination: s.pool.BurnDestination()})
}

func (s *Server) handleEmergencyRelease(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeActorlessPost[marketapi.EmergencyReleaseRequest](s, w, r, "governance")
	if !ok {
		return
	}
	if err := s.ledger.EmergencyRelease(r.Context(), req.Account, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeStakeAccount(w, r, req.Account)
}

func (s *Server) handleStakePause(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeActorlessPost[marketapi.PauseRequest](s, w, r, "governance")
	if !ok {
		return
	}
	s.ledger.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.ledger.Paused()})
}

func (s *Server) handleReputationPause(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeActorlessPost[marketapi.PauseRequest](s, w, r, "governance")
	if !ok {
		return
	}
	s.reputation.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.reputation.Paused()})
}

func (s *Server) handleConfigTimings(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeActorlessPost[marketapi.TimingsRequest](s, w, r, "governance")
	if !ok {
		return
	}
	err := s.registry.SetTimings(registry.Timings{
		CommitWindow:  time.Duration(req.CommitWindowSeconds) * time.Second,
		RevealWindow:  time.Duration(req.RevealWindowSeconds) * time.Second,
		DisputeWindow: time.Duration(req.DisputeWindowSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeConfigStatus(w)
}

func (s *Server) handleConfigThresholds(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeActorlessPost[marketapi.ThresholdsRequest](s, w, r, "governance")
	if !ok {
		return
	}
	err := s.registry.SetThresholds(registry.Thresholds{
		ApprovalThresholdBps: req.ApprovalThresholdBps,
		QuorumMin:            req.QuorumMin,
		QuorumMax:            req.QuorumMax,
		FeeBps:               req.FeeBps,
		SlashBpsMax:          req.SlashBpsMax,
		RevealCutoff:         time.Duration(req.RevealCutoffSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeConfigStatus(w)
}

func (s *Server) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "governance", "ops"); !ok {
		return
	}
	s.writeConfigStatus(w)
}

func (s *Server) writeConfigStatus(w http.ResponseWriter) {
	status := s.registry.ConfigurationStatus()
	writeJSON(w, http.StatusOK, marketapi.ConfigStatusView{
		ModulesSet:    status.ModulesSet,
		TimingsSet:    status.TimingsSet,
		ThresholdsSet: status.ThresholdsSet,
	})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "ops", "governance"); !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 50
	offset := 0
	query := state.AuditQuery{
		Action: strings.TrimSpace(r.URL.Query().Get("action")),
		Actor:  strings.TrimSpace(r.URL.Query().Get("actor")),
		Result: strings.TrimSpace(r.URL.Query().Get("result")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("job_id")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "job_id must be a positive integer")
			return
		}
		query.JobID = v
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = v
	}
	query.Limit = limit
	query.Offset = offset
	events, err := s.registry.ListAuditEvents(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"returned": len(events),
		"limit":    limit,
		"offset":   offset,
		"events":   events,
	})
}

func (s *Server) requireScopes(w http.ResponseWriter, r *http.Request, scopes ...string) (principal, bool) {
	p, code, msg := s.auth.authorize(r, scopes...)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return principal{}, false
	}
	return p, true
}

func (s *Server) requireActor(w http.ResponseWriter, r *http.Request, p principal) (string, bool) {
	actor := s.auth.actorFor(p, r)
	if actor == "" {
		writeError(w, http.StatusBadRequest, "acting address is required (addr: scope or X-Market-Actor header)")
		return "", false
	}
	return actor, true
}

// decodeActorPost handles the shared preamble of every acting POST: method
// check, scope check, actor resolution, and body decode.
func decodeActorPost[T any](s *Server, w http.ResponseWriter, r *http.Request, scopes ...string) (string, T, bool) {
	var req T
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", req, false
	}
	p, ok := s.requireScopes(w, r, scopes...)
	if !ok {
		return "", req, false
	}
	actor, ok := s.requireActor(w, r, p)
	if !ok {
		return "", req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", req, false
	}
	return actor, req, true
}

func decodeActorlessPost[T any](s *Server, w http.ResponseWriter, r *http.Request, scopes ...string) (principal, T, bool) {
	var req T
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return principal{}, req, false
	}
	p, ok := s.requireScopes(w, r, scopes...)
	if !ok {
		return principal{}, req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return principal{}, req, false
	}
	return p, req, true
}

func jobView(job state.JobRecord) marketapi.JobView {
	return marketapi.JobView{
		ID:              job.ID,
		Client:          job.Client,
		Worker:          job.Worker,
		StakeAmount:     job.StakeAmount,
		Status:          job.Status,
		Commitment:      job.Commitment,
		CommitDeadline:  job.CommitDeadline,
		RevealDeadline:  job.RevealDeadline,
		DisputeDeadline: job.DisputeDeadline,
		FeeAmount:       job.FeeAmount,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// statusForError maps domain sentinels onto HTTP statuses and a stable kind
// string clients can branch on.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, registry.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, registry.ErrWindowExpired):
		return http.StatusConflict, "window_expired"
	case errors.Is(err, registry.ErrWindowNotElapsed):
		return http.StatusConflict, "window_not_elapsed"
	case errors.Is(err, registry.ErrHashMismatch), errors.Is(err, quorum.ErrHashMismatch):
		return http.StatusUnprocessableEntity, "hash_mismatch"
	case errors.Is(err, registry.ErrThresholdViolation):
		return http.StatusUnprocessableEntity, "threshold_violation"
	case errors.Is(err, registry.ErrAlreadyConfigured):
		return http.StatusConflict, "already_configured"
	case errors.Is(err, registry.ErrNotConfigured):
		return http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, registry.ErrInvalidCommitment):
		return http.StatusBadRequest, "invalid_commitment"
	case errors.Is(err, registry.ErrInvalidAmount), errors.Is(err, stake.ErrInvalidAmount), errors.Is(err, fees.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, stake.ErrInsufficientStake):
		return http.StatusUnprocessableEntity, "insufficient_stake"
	case errors.Is(err, stake.ErrExceedsLocked):
		return http.StatusUnprocessableEntity, "exceeds_locked"
	case errors.Is(err, stake.ErrPaused), errors.Is(err, reputation.ErrPaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, quorum.ErrDuplicateAction):
		return http.StatusConflict, "duplicate_action"
	case errors.Is(err, quorum.ErrNotSettled):
		return http.StatusConflict, "quorum_not_settled"
	case errors.Is(err, quorum.ErrCommitsClosed):
		return http.StatusConflict, "commits_closed"
	case errors.Is(err, quorum.ErrRoundClosed):
		return http.StatusConflict, "round_closed"
	case errors.Is(err, quorum.ErrNoCommitment):
		return http.StatusConflict, "no_commitment"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	writeJSON(w, status, marketapi.ErrorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, marketapi.ErrorResponse{Error: msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
