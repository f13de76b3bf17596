package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vibespan/automation-engine/pkg/models"
)

// PostgresLedger is a PostgreSQL implementation of the Ledger interface.
// The executions table is append-only: no UPDATE or DELETE is ever issued.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate creates the executions table if it does not exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		dedup_key TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		record JSONB NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS executions_dedup_idx ON executions (dedup_key);
	CREATE INDEX IF NOT EXISTS executions_tenant_idx ON executions (tenant_id, started_at)`)
	return err
}

// Append implements Ledger. A conflict on either the record id or the dedup
// key leaves the first writer's row in place and reports ErrImmutable.
func (l *PostgresLedger) Append(ctx context.Context, record *models.ExecutionRecord) error {
	if !record.Terminal() {
		return fmt.Errorf("record %s is not terminal", record.ID)
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	ct, err := l.db.Exec(ctx,
		`INSERT INTO executions (id, dedup_key, tenant_id, workflow_id, status, record, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING`,
		record.ID, record.DedupKey, record.TenantID, record.WorkflowID,
		string(record.Status), doc, record.StartedAt, record.EndedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", record.ID, ErrImmutable)
	}
	return nil
}

// FindByDedupKey implements Ledger. The dedup key is unique, so at most one
// row can match; it is the idempotency anchor.
func (l *PostgresLedger) FindByDedupKey(ctx context.Context, key string) (*models.ExecutionRecord, error) {
	row := l.db.QueryRow(ctx,
		`SELECT record FROM executions WHERE dedup_key = $1`, key)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var rec models.ExecutionRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// ListByTenant implements Ledger.
func (l *PostgresLedger) ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*models.ExecutionRecord, error) {
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}
	rows, err := l.db.Query(ctx,
		`SELECT record FROM executions
		 WHERE tenant_id = $1 AND started_at >= $2 AND started_at <= $3
		 ORDER BY started_at ASC`,
		tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByStatus implements Ledger.
func (l *PostgresLedger) ListByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	rows, err := l.db.Query(ctx,
		`SELECT record FROM executions WHERE tenant_id = $1 AND status = $2 ORDER BY started_at ASC`,
		tenantID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]*models.ExecutionRecord, error) {
	var out []*models.ExecutionRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec models.ExecutionRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
