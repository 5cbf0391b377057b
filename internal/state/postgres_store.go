package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/example/stakemarket/db/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (p *PostgresStore) NextJobID(ctx context.Context) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `SELECT nextval('job_ids')`).Scan(&id)
	return id, err
}

func (p *PostgresStore) PutJob(ctx context.Context, job JobRecord) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO jobs (id, client, worker, stake_amount, status, commitment, commit_deadline, reveal_deadline, dispute_deadline, fee_amount, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO UPDATE SET
		   worker=EXCLUDED.worker, stake_amount=EXCLUDED.stake_amount, status=EXCLUDED.status,
		   commitment=EXCLUDED.commitment, commit_deadline=EXCLUDED.commit_deadline,
		   reveal_deadline=EXCLUDED.reveal_deadline, dispute_deadline=EXCLUDED.dispute_deadline,
		   fee_amount=EXCLUDED.fee_amount, updated_at=EXCLUDED.updated_at`,
		job.ID, job.Client, job.Worker, job.StakeAmount, job.Status, job.Commitment,
		nullTime(job.CommitDeadline), nullTime(job.RevealDeadline), nullTime(job.DisputeDeadline),
		job.FeeAmount, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetJob(ctx context.Context, jobID int64) (JobRecord, bool, error) {
	var j JobRecord
	var commitDeadline, revealDeadline, disputeDeadline sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT id, client, worker, stake_amount, status, commitment, commit_deadline, reveal_deadline, dispute_deadline, fee_amount, created_at, updated_at
		 FROM jobs WHERE id = $1`, jobID,
	).Scan(&j.ID, &j.Client, &j.Worker, &j.StakeAmount, &j.Status, &j.Commitment,
		&commitDeadline, &revealDeadline, &disputeDeadline, &j.FeeAmount, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, false, nil
	}
	if err != nil {
		return JobRecord{}, false, err
	}
	j.CommitDeadline = timeOrZero(commitDeadline)
	j.RevealDeadline = timeOrZero(revealDeadline)
	j.DisputeDeadline = timeOrZero(disputeDeadline)
	return j, true, nil
}

func (p *PostgresStore) ListJobsByStatus(ctx context.Context, status string, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, client, worker, stake_amount, status, commitment, commit_deadline, reveal_deadline, dispute_deadline, fee_amount, created_at, updated_at
		 FROM jobs WHERE ($1 = '' OR status = $1) ORDER BY id ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]JobRecord, 0, limit)
	for rows.Next() {
		var j JobRecord
		var commitDeadline, revealDeadline, disputeDeadline sql.NullTime
		if err := rows.Scan(&j.ID, &j.Client, &j.Worker, &j.StakeAmount, &j.Status, &j.Commitment,
			&commitDeadline, &revealDeadline, &disputeDeadline, &j.FeeAmount, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.CommitDeadline = timeOrZero(commitDeadline)
		j.RevealDeadline = timeOrZero(revealDeadline)
		j.DisputeDeadline = timeOrZero(disputeDeadline)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetStakeAccount(ctx context.Context, address string) (StakeAccountRecord, bool, error) {
	var a StakeAccountRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT address, total, locked, updated_at FROM stake_accounts WHERE address = $1`, address,
	).Scan(&a.Address, &a.Total, &a.Locked, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StakeAccountRecord{}, false, nil
	}
	if err != nil {
		return StakeAccountRecord{}, false, err
	}
	return a, true, nil
}

func (p *PostgresStore) PutStakeAccount(ctx context.Context, account StakeAccountRecord) error {
	account.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO stake_accounts (address, total, locked, updated_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (address) DO UPDATE SET total=EXCLUDED.total, locked=EXCLUDED.locked, updated_at=EXCLUDED.updated_at`,
		account.Address, account.Total, account.Locked, account.UpdatedAt)
	return err
}

func (p *PostgresStore) ListStakeAccounts(ctx context.Context) ([]StakeAccountRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT address, total, locked, updated_at FROM stake_accounts ORDER BY address ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]StakeAccountRecord, 0, 16)
	for rows.Next() {
		var a StakeAccountRecord
		if err := rows.Scan(&a.Address, &a.Total, &a.Locked, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetRound(ctx context.Context, jobID int64) (ValidationRoundRecord, bool, error) {
	var r ValidationRoundRecord
	var commitments, revealed string
	var revealOpenedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT job_id, commitments_json, revealed_json, approvals, revealed_count, sealed, reveal_opened_at,
		        finalize_consumed, resolve_consumed, dispute_opened, closed, created_at, updated_at
		 FROM validation_rounds WHERE job_id = $1`, jobID,
	).Scan(&r.JobID, &commitments, &revealed, &r.Approvals, &r.RevealedCount, &r.Sealed, &revealOpenedAt,
		&r.FinalizeConsumed, &r.ResolveConsumed, &r.DisputeOpened, &r.Closed, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ValidationRoundRecord{}, false, nil
	}
	if err != nil {
		return ValidationRoundRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(commitments), &r.Commitments); err != nil {
		return ValidationRoundRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(revealed), &r.Revealed); err != nil {
		return ValidationRoundRecord{}, false, err
	}
	r.RevealOpenedAt = timeOrZero(revealOpenedAt)
	return r, true, nil
}

func (p *PostgresStore) PutRound(ctx context.Context, round ValidationRoundRecord) error {
	now := time.Now().UTC()
	if round.CreatedAt.IsZero() {
		round.CreatedAt = now
	}
	round.UpdatedAt = now
	if round.Commitments == nil {
		round.Commitments = map[string]string{}
	}
	if round.Revealed == nil {
		round.Revealed = map[string]bool{}
	}
	commitments, err := json.Marshal(round.Commitments)
	if err != nil {
		return err
	}
	revealed, err := json.Marshal(round.Revealed)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO validation_rounds (job_id, commitments_json, revealed_json, approvals, revealed_count, sealed, reveal_opened_at,
		   finalize_consumed, resolve_consumed, dispute_opened, closed, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (job_id) DO UPDATE SET
		   commitments_json=EXCLUDED.commitments_json, revealed_json=EXCLUDED.revealed_json,
		   approvals=EXCLUDED.approvals, revealed_count=EXCLUDED.revealed_count, sealed=EXCLUDED.sealed,
		   reveal_opened_at=EXCLUDED.reveal_opened_at, finalize_consumed=EXCLUDED.finalize_consumed,
		   resolve_consumed=EXCLUDED.resolve_consumed, dispute_opened=EXCLUDED.dispute_opened,
		   closed=EXCLUDED.closed, updated_at=EXCLUDED.updated_at`,
		round.JobID, string(commitments), string(revealed), round.Approvals, round.RevealedCount, round.Sealed,
		nullTime(round.RevealOpenedAt), round.FinalizeConsumed, round.ResolveConsumed, round.DisputeOpened,
		round.Closed, round.CreatedAt, round.UpdatedAt)
	return err
}

func (p *PostgresStore) GetDispute(ctx context.Context, jobID int64) (DisputeRecord, bool, error) {
	var d DisputeRecord
	var resolvedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT job_id, raiser, outcome, evidence_uri, raised_at, resolved_at FROM disputes WHERE job_id = $1`, jobID,
	).Scan(&d.JobID, &d.Raiser, &d.Outcome, &d.EvidenceURI, &d.RaisedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DisputeRecord{}, false, nil
	}
	if err != nil {
		return DisputeRecord{}, false, err
	}
	d.ResolvedAt = timeOrZero(resolvedAt)
	return d, true, nil
}

func (p *PostgresStore) PutDispute(ctx context.Context, dispute DisputeRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO disputes (job_id, raiser, outcome, evidence_uri, raised_at, resolved_at) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (job_id) DO UPDATE SET outcome=EXCLUDED.outcome, evidence_uri=EXCLUDED.evidence_uri, resolved_at=EXCLUDED.resolved_at`,
		dispute.JobID, dispute.Raiser, dispute.Outcome, dispute.EvidenceURI, dispute.RaisedAt, nullTime(dispute.ResolvedAt))
	return err
}

func (p *PostgresStore) GetReputation(ctx context.Context, address string) (ReputationRecord, bool, error) {
	var r ReputationRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT address, score, updated_at FROM reputations WHERE address = $1`, address,
	).Scan(&r.Address, &r.Score, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReputationRecord{}, false, nil
	}
	if err != nil {
		return ReputationRecord{}, false, err
	}
	return r, true, nil
}

func (p *PostgresStore) PutReputation(ctx context.Context, rec ReputationRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO reputations (address, score, updated_at) VALUES ($1,$2,$3)
		 ON CONFLICT (address) DO UPDATE SET score=EXCLUDED.score, updated_at=EXCLUDED.updated_at`,
		rec.Address, rec.Score, rec.UpdatedAt)
	return err
}

func (p *PostgresStore) GetFeeTotals(ctx context.Context) (FeeTotalsRecord, error) {
	var f FeeTotalsRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT total, held, burned, updated_at FROM fee_totals WHERE singleton = TRUE`,
	).Scan(&f.Total, &f.Held, &f.Burned, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FeeTotalsRecord{}, nil
	}
	return f, err
}

func (p *PostgresStore) PutFeeTotals(ctx context.Context, totals FeeTotalsRecord) error {
	totals.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO fee_totals (singleton, total, held, burned, updated_at) VALUES (TRUE,$1,$2,$3,$4)
		 ON CONFLICT (singleton) DO UPDATE SET total=EXCLUDED.total, held=EXCLUDED.held, burned=EXCLUDED.burned, updated_at=EXCLUDED.updated_at`,
		totals.Total, totals.Held, totals.Burned, totals.UpdatedAt)
	return err
}

func (p *PostgresStore) AppendAuditEvent(ctx context.Context, event AuditEventRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var prevHash sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT event_hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&prevHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	event.PrevHash = prevHash.String
	event.EventHash = ComputeAuditHash(event)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_events (action, actor, resource, job_id, result, details, payload_hash, prev_hash, event_hash, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		event.Action, event.Actor, event.Resource, event.JobID, event.Result, event.Details,
		event.PayloadHash, event.PrevHash, event.EventHash, event.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	limit := query.Limit
	offset := query.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 8)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if query.Action != "" {
		add("action = $%d", query.Action)
	}
	if query.Actor != "" {
		add("actor = $%d", query.Actor)
	}
	if query.JobID != 0 {
		add("job_id = $%d", query.JobID)
	}
	if query.Result != "" {
		add("result = $%d", query.Result)
	}
	if !query.From.IsZero() {
		add("created_at >= $%d", query.From)
	}
	if !query.To.IsZero() {
		add("created_at <= $%d", query.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit, offset)
	q := fmt.Sprintf(
		`SELECT id, action, actor, resource, job_id, result, details, payload_hash, prev_hash, event_hash, created_at
		 FROM audit_events%s ORDER BY id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AuditEventRecord, 0, limit)
	for rows.Next() {
		var a AuditEventRecord
		if err := rows.Scan(&a.ID, &a.Action, &a.Actor, &a.Resource, &a.JobID, &a.Result, &a.Details,
			&a.PayloadHash, &a.PrevHash, &a.EventHash, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func timeOrZero(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
