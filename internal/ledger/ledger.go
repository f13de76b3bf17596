// Package ledger implements the Execution Ledger: the durable, append-only
// record of trigger -> execution -> outcome, used for idempotency and audit.
//
// Terminal records are never updated or deleted; corrections are represented
// as new compensating records.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/vibespan/automation-engine/pkg/models"
)

// ErrImmutable is returned when an append would overwrite an existing
// terminal record for the same execution id.
var ErrImmutable = errors.New("terminal execution records are immutable")

// Ledger is the Execution Ledger contract.
type Ledger interface {
	// Append stores a terminal execution record.
	Append(ctx context.Context, record *models.ExecutionRecord) error
	// FindByDedupKey returns the terminal record for a dedup key, or nil.
	FindByDedupKey(ctx context.Context, key string) (*models.ExecutionRecord, error)
	// ListByTenant returns a tenant's records within [from, to], newest last.
	ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*models.ExecutionRecord, error)
	// ListByStatus returns a tenant's records with the given status.
	ListByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.ExecutionRecord, error)
}
