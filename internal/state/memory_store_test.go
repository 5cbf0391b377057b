package state

import (
	"context"
	"testing"
	"time"
)

func TestAuditEventsAreHashChained(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.AppendAuditEvent(ctx, AuditEventRecord{
			Action:   "job_created",
			Actor:    "client-1",
			Resource: "jobs",
			JobID:    int64(i + 1),
			Result:   "ok",
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	events, err := s.ListAuditEvents(ctx, AuditQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Newest first: events[0] chains onto events[1], and so on.
	for i := 0; i < len(events)-1; i++ {
		if events[i].PrevHash != events[i+1].EventHash {
			t.Fatalf("event %d prev hash %q does not chain onto %q", events[i].ID, events[i].PrevHash, events[i+1].EventHash)
		}
		if events[i].EventHash != ComputeAuditHash(events[i]) {
			t.Fatalf("event %d hash does not recompute", events[i].ID)
		}
	}
	if events[len(events)-1].PrevHash != "" {
		t.Fatalf("genesis event must have empty prev hash")
	}
}

func TestAuditQueryFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := []AuditEventRecord{
		{Action: "job_created", Actor: "client-1", JobID: 1, Result: "ok"},
		{Action: "job_committed", Actor: "worker-1", JobID: 1, Result: "ok"},
		{Action: "job_created", Actor: "client-2", JobID: 2, Result: "ok"},
	}
	for _, e := range base {
		if err := s.AppendAuditEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	byAction, err := s.ListAuditEvents(ctx, AuditQuery{Action: "job_created", Limit: 10})
	if err != nil {
		t.Fatalf("list by action: %v", err)
	}
	if len(byAction) != 2 {
		t.Fatalf("expected 2 job_created events, got %d", len(byAction))
	}
	byJob, err := s.ListAuditEvents(ctx, AuditQuery{JobID: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list by job: %v", err)
	}
	if len(byJob) != 2 {
		t.Fatalf("expected 2 events for job 1, got %d", len(byJob))
	}
	limited, err := s.ListAuditEvents(ctx, AuditQuery{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].JobID != 2 {
		t.Fatalf("limit pages newest first, got %+v", limited)
	}
}

func TestRoundsAreIsolatedFromCallerMutation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	round := ValidationRoundRecord{
		JobID:       1,
		Commitments: map[string]string{"v1": "sealed"},
		Revealed:    map[string]bool{},
	}
	if err := s.PutRound(ctx, round); err != nil {
		t.Fatalf("put round: %v", err)
	}
	round.Commitments["v2"] = "tampered"

	got, ok, err := s.GetRound(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("get round: ok=%v err=%v", ok, err)
	}
	if len(got.Commitments) != 1 {
		t.Fatalf("stored round must not share maps with the caller, got %v", got.Commitments)
	}
	got.Commitments["v3"] = "also-tampered"
	again, _, _ := s.GetRound(ctx, 1)
	if len(again.Commitments) != 1 {
		t.Fatalf("returned round must not share maps with the store, got %v", again.Commitments)
	}
}

func TestNextJobIDIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, err := s.NextJobID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	b, err := s.NextJobID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if a != 1 || b != 2 {
		t.Fatalf("expected 1 then 2, got %d then %d", a, b)
	}
}

func TestPutJobStampsTimestamps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.PutJob(ctx, JobRecord{ID: 1, Client: "client-1", Status: JobCreated}); err != nil {
		t.Fatalf("put job: %v", err)
	}
	job, ok, err := s.GetJob(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be stamped, got %+v", job)
	}
	created := job.CreatedAt
	time.Sleep(time.Millisecond)
	job.Status = JobCommitted
	if err := s.PutJob(ctx, job); err != nil {
		t.Fatalf("update job: %v", err)
	}
	job, _, _ = s.GetJob(ctx, 1)
	if !job.CreatedAt.Equal(created) {
		t.Fatalf("created at must be preserved on update")
	}
}

func TestStakeAccountAvailable(t *testing.T) {
	acct := StakeAccountRecord{Total: 500, Locked: 120}
	if acct.Available() != 380 {
		t.Fatalf("expected available 380, got %d", acct.Available())
	}
}
