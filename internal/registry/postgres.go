package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vibespan/automation-engine/pkg/models"
)

// PostgresStore persists tenant configuration as JSONB documents.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tenants table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		domain TEXT,
		config JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

// SaveTenant upserts a tenant document.
func (s *PostgresStore) SaveTenant(ctx context.Context, tenant *models.Tenant) error {
	doc, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("marshal tenant %s: %w", tenant.ID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO tenants (id, domain, config, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET domain = $2, config = $3, updated_at = $4`,
		tenant.ID, tenant.Domain, doc, tenant.UpdatedAt)
	return err
}

// ListTenants returns all persisted tenants.
func (s *PostgresStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.db.Query(ctx, `SELECT config FROM tenants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t models.Tenant
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("unmarshal tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}
