package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[int64]JobRecord
	stakes      map[string]StakeAccountRecord
	rounds      map[int64]ValidationRoundRecord
	disputes    map[int64]DisputeRecord
	reputations map[string]ReputationRecord
	fees        FeeTotalsRecord
	audits      []AuditEventRecord
	nextJobID   int64
	nextAuditID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[int64]JobRecord),
		stakes:      make(map[string]StakeAccountRecord),
		rounds:      make(map[int64]ValidationRoundRecord),
		disputes:    make(map[int64]DisputeRecord),
		reputations: make(map[string]ReputationRecord),
		audits:      make([]AuditEventRecord, 0, 128),
		nextJobID:   1,
		nextAuditID: 1,
	}
}

func (m *MemoryStore) NextJobID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextJobID
	m.nextJobID++
	return id, nil
}

func (m *MemoryStore) PutJob(_ context.Context, job JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID int64) (JobRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok, nil
}

func (m *MemoryStore) ListJobsByStatus(_ context.Context, status string, limit int) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]JobRecord, 0, limit)
	for id := int64(1); id < m.nextJobID; id++ {
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetStakeAccount(_ context.Context, address string) (StakeAccountRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.stakes[address]
	return acct, ok, nil
}

func (m *MemoryStore) PutStakeAccount(_ context.Context, account StakeAccountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.UpdatedAt = time.Now().UTC()
	m.stakes[account.Address] = account
	return nil
}

func (m *MemoryStore) ListStakeAccounts(_ context.Context) ([]StakeAccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StakeAccountRecord, 0, len(m.stakes))
	for _, a := range m.stakes {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryStore) GetRound(_ context.Context, jobID int64) (ValidationRoundRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[jobID]
	if !ok {
		return ValidationRoundRecord{}, false, nil
	}
	return cloneRound(r), true, nil
}

func (m *MemoryStore) PutRound(_ context.Context, round ValidationRoundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if round.CreatedAt.IsZero() {
		round.CreatedAt = now
	}
	round.UpdatedAt = now
	m.rounds[round.JobID] = cloneRound(round)
	return nil
}

func (m *MemoryStore) GetDispute(_ context.Context, jobID int64) (DisputeRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[jobID]
	return d, ok, nil
}

func (m *MemoryStore) PutDispute(_ context.Context, dispute DisputeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[dispute.JobID] = dispute
	return nil
}

func (m *MemoryStore) GetReputation(_ context.Context, address string) (ReputationRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reputations[address]
	return r, ok, nil
}

func (m *MemoryStore) PutReputation(_ context.Context, rec ReputationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	m.reputations[rec.Address] = rec
	return nil
}

func (m *MemoryStore) GetFeeTotals(_ context.Context) (FeeTotalsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees, nil
}

func (m *MemoryStore) PutFeeTotals(_ context.Context, totals FeeTotalsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals.UpdatedAt = time.Now().UTC()
	m.fees = totals
	return nil
}

func (m *MemoryStore) AppendAuditEvent(_ context.Context, event AuditEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(m.audits) > 0 {
		event.PrevHash = m.audits[len(m.audits)-1].EventHash
	}
	event.EventHash = ComputeAuditHash(event)
	event.ID = m.nextAuditID
	m.nextAuditID++
	m.audits = append(m.audits, event)
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := query.Limit
	offset := query.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	// Newest first, matching the Postgres store's pagination.
	filtered := make([]AuditEventRecord, 0, len(m.audits))
	for i := len(m.audits) - 1; i >= 0; i-- {
		a := m.audits[i]
		if query.Action != "" && a.Action != query.Action {
			continue
		}
		if query.Actor != "" && a.Actor != query.Actor {
			continue
		}
		if query.JobID != 0 && a.JobID != query.JobID {
			continue
		}
		if query.Result != "" && a.Result != query.Result {
			continue
		}
		if !query.From.IsZero() && a.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && a.CreatedAt.After(query.To) {
			continue
		}
		filtered = append(filtered, a)
	}
	if offset > len(filtered) {
		offset = len(filtered)
	}
	out := filtered[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func cloneRound(r ValidationRoundRecord) ValidationRoundRecord {
	out := r
	if r.Commitments != nil {
		out.Commitments = make(map[string]string, len(r.Commitments))
		for k, v := range r.Commitments {
			out.Commitments[k] = v
		}
	}
	if r.Revealed != nil {
		out.Revealed = make(map[string]bool, len(r.Revealed))
		for k, v := range r.Revealed {
			out.Revealed[k] = v
		}
	}
	return out
}

func ComputeAuditHash(event AuditEventRecord) string {
	payload := map[string]any{
		"action":       event.Action,
		"actor":        event.Actor,
		"resource":     event.Resource,
		"job_id":       event.JobID,
		"payload_hash": event.PayloadHash,
		"prev_hash":    event.PrevHash,
		"result":       event.Result,
		"details":      event.Details,
		"created_at":   event.CreatedAt.UnixNano(),
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
