package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adpilot_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Execution statuses.
const (
	StatusSkippedEmpty     = "skipped_empty"
	StatusReported         = "reported"
	StatusAwaitingApproval = "awaiting_approval"
	StatusDispatched       = "dispatched"
	StatusFailed           = "failed"
)

// ExecutionRecord is the append-only audit row for one tenant run. The run
// key is unique: re-running the same tenant in the same hour hits the
// conflict and is dropped.
type ExecutionRecord struct {
	ID         uuid.UUID  `db:"id"`
	RunKey     string     `db:"run_key"`
	TenantID   uuid.UUID  `db:"tenant_id"`
	Trigger    string     `db:"trigger"` // scheduled, manual
	Mode       string     `db:"mode"`
	Status     string     `db:"status"`
	Plan       []byte     `db:"plan"`       // action envelopes, JSON
	Advisories []byte     `db:"advisories"` // fatigue and class distribution, JSON
	Report     []byte     `db:"report"`     // dispatch report, JSON
	Error      *string    `db:"error"`
	CreatedAt  time.Time  `db:"created_at"`
	DecidedAt  *time.Time `db:"decided_at"` // approval/rejection time for semi_auto
}

const executionColumns = `id, run_key, tenant_id, trigger, mode, status, plan, advisories, report, error, created_at, decided_at`

// InsertExecution appends one record. A duplicate run key returns a conflict
// so a second run in the same slot cannot double-book the tenant.
func (r *Repository) InsertExecution(ctx context.Context, rec *ExecutionRecord) error {
	query := `
		INSERT INTO apb_execution_records (id, run_key, tenant_id, trigger, mode, status, plan, advisories, report, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_key) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		rec.ID, rec.RunKey, rec.TenantID, rec.Trigger, rec.Mode, rec.Status,
		rec.Plan, rec.Advisories, rec.Report, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("execution record already exists for run key " + rec.RunKey)
	}

	return nil
}

// GetExecution retrieves a record by run key.
func (r *Repository) GetExecution(ctx context.Context, runKey string) (*ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM apb_execution_records WHERE run_key = $1`

	var rec ExecutionRecord
	err := r.pool.QueryRow(ctx, query, runKey).Scan(
		&rec.ID, &rec.RunKey, &rec.TenantID, &rec.Trigger, &rec.Mode, &rec.Status,
		&rec.Plan, &rec.Advisories, &rec.Report, &rec.Error, &rec.CreatedAt, &rec.DecidedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("execution record not found")
		}
		return nil, fmt.Errorf("failed to get execution record: %w", err)
	}

	return &rec, nil
}

// UpdateExecutionStatus moves a record to its terminal status, attaching the
// dispatch report or error when present.
func (r *Repository) UpdateExecutionStatus(ctx context.Context, runKey, status string, report []byte, errMsg *string) error {
	query := `
		UPDATE apb_execution_records
		SET status = $2, report = COALESCE($3, report), error = $4, decided_at = NOW()
		WHERE run_key = $1`

	tag, err := r.pool.Exec(ctx, query, runKey, status, report, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("execution record not found")
	}

	return nil
}

// ListExecutions returns a tenant's most recent records, newest first.
func (r *Repository) ListExecutions(ctx context.Context, tenantID uuid.UUID, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + executionColumns + ` FROM apb_execution_records WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunKey, &rec.TenantID, &rec.Trigger, &rec.Mode, &rec.Status,
			&rec.Plan, &rec.Advisories, &rec.Report, &rec.Error, &rec.CreatedAt, &rec.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}
