package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/example/stakemarket/internal/dispute"
	"github.com/example/stakemarket/internal/eligibility"
	"github.com/example/stakemarket/internal/evidence"
	"github.com/example/stakemarket/internal/fees"
	"github.com/example/stakemarket/internal/quorum"
	"github.com/example/stakemarket/internal/registry"
	"github.com/example/stakemarket/internal/reputation"
	"github.com/example/stakemarket/internal/stake"
	"github.com/example/stakemarket/internal/state"
)

// ControlPlane bundles the wired market components for the daemon and for
// end to end tests.
type ControlPlane struct {
	Store      state.Store
	Registry   *registry.Registry
	Ledger     *stake.Ledger
	Votes      *quorum.Engine
	Pool       *fees.Pool
	Reputation *reputation.Ledger
	Relay      *dispute.Relay
	Evidence   evidence.Store
}

func NewControlPlaneFromEnv() (*ControlPlane, error) {
	store, err := newStore(getenv("MARKET_STORE", "memory"))
	if err != nil {
		return nil, err
	}
	ev, err := newEvidenceStore(getenv("MARKET_EVIDENCE", "local"))
	if err != nil {
		return nil, err
	}
	elig, err := eligibility.LoadFromEnv()
	if err != nil {
		return nil, err
	}

	pool := fees.NewPool(store, getenv("MARKET_BURN_DESTINATION", "burn"))
	ledger := stake.NewLedger(store, pool)
	rep := reputation.NewLedger(store)
	relay := dispute.NewRelay(rep)
	votes := quorum.NewEngine(store)

	reg := registry.New(store, registry.Options{
		Eligibility: elig,
		Certifier:   auditCertifier{store: store},
	})
	if err := reg.SetModules(registry.Modules{
		Escrow: ledger.Escrow(),
		Votes:  votes,
		Relay:  relay,
	}); err != nil {
		return nil, err
	}
	if err := reg.SetTimings(registry.Timings{
		CommitWindow:  time.Duration(getenvInt("MARKET_COMMIT_WINDOW_SECONDS", 3600)) * time.Second,
		RevealWindow:  time.Duration(getenvInt("MARKET_REVEAL_WINDOW_SECONDS", 3600)) * time.Second,
		DisputeWindow: time.Duration(getenvInt("MARKET_DISPUTE_WINDOW_SECONDS", 7200)) * time.Second,
	}); err != nil {
		return nil, err
	}
	if err := reg.SetThresholds(registry.Thresholds{
		ApprovalThresholdBps: getenvInt("MARKET_APPROVAL_THRESHOLD_BPS", 6600),
		QuorumMin:            getenvInt("MARKET_QUORUM_MIN", 1),
		QuorumMax:            getenvInt("MARKET_QUORUM_MAX", 0),
		FeeBps:               getenvInt("MARKET_FEE_BPS", 250),
		SlashBpsMax:          getenvInt("MARKET_SLASH_BPS_MAX", 5000),
		RevealCutoff:         time.Duration(getenvInt("MARKET_REVEAL_CUTOFF_SECONDS", 0)) * time.Second,
	}); err != nil {
		return nil, err
	}

	return &ControlPlane{
		Store:      store,
		Registry:   reg,
		Ledger:     ledger,
		Votes:      votes,
		Pool:       pool,
		Reputation: rep,
		Relay:      relay,
		Evidence:   ev,
	}, nil
}

// auditCertifier is the default completion certifier. Real deployments swap
// in an external issuer; out of the box a certificate is a signed-off audit
// entry on the job's trail.
type auditCertifier struct {
	store state.AuditStore
}

func (c auditCertifier) IssueCompletion(ctx context.Context, job state.JobRecord) {
	_ = c.store.AppendAuditEvent(ctx, state.AuditEventRecord{
		Action:   "completion_certified",
		Actor:    "certifier",
		Resource: "jobs",
		JobID:    job.ID,
		Result:   "ok",
		Details:  fmt.Sprintf("worker=%s stake=%d", job.Worker, job.StakeAmount),
	})
}

func newStore(kind string) (state.Store, error) {
	switch kind {
	case "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		dsn := os.Getenv("MARKET_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("MARKET_POSTGRES_DSN is required when MARKET_STORE=postgres")
		}
		return state.NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported MARKET_STORE value %q", kind)
	}
}

func newEvidenceStore(kind string) (evidence.Store, error) {
	switch kind {
	case "local":
		return evidence.NewLocalStore(os.Getenv("MARKET_EVIDENCE_DIR")), nil
	case "minio":
		return evidence.NewMinIOStore(evidence.MinIOConfig{
			Endpoint:  os.Getenv("MARKET_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MARKET_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MARKET_MINIO_SECRET_KEY"),
			Bucket:    os.Getenv("MARKET_MINIO_BUCKET"),
			UseSSL:    getenvBool("MARKET_MINIO_USE_SSL", false),
		})
	default:
		return nil, fmt.Errorf("unsupported MARKET_EVIDENCE value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
