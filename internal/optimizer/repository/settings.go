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

// Operating modes for a tenant's optimizer.
const (
	ModeAutopilot  = "autopilot"
	ModeSemiAuto   = "semi_auto"
	ModeReportOnly = "report_only"
	ModeDisabled   = "disabled"
)

// TenantSettings represents the per-tenant optimizer settings database model
type TenantSettings struct {
	TenantID     uuid.UUID  `db:"tenant_id"`
	Mode         string     `db:"mode"`
	ScheduleHour int        `db:"schedule_hour"` // local hour 0-23
	Timezone     string     `db:"timezone"`      // IANA name
	LastRunAt    *time.Time `db:"last_run_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

const settingsColumns = `tenant_id, mode, schedule_hour, timezone, last_run_at, created_at, updated_at`

// GetSettings retrieves one tenant's settings.
func (r *Repository) GetSettings(ctx context.Context, tenantID uuid.UUID) (*TenantSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM apb_tenant_settings WHERE tenant_id = $1`

	var s TenantSettings
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&s.TenantID, &s.Mode, &s.ScheduleHour, &s.Timezone, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("tenant settings not found")
		}
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}

	return &s, nil
}

// ListEnabled returns the settings of every tenant whose optimizer is not
// disabled. The scheduler filters by local hour and dedupe window itself.
func (r *Repository) ListEnabled(ctx context.Context) ([]TenantSettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM apb_tenant_settings WHERE mode != $1 ORDER BY tenant_id`

	rows, err := r.pool.Query(ctx, query, ModeDisabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled tenants: %w", err)
	}
	defer rows.Close()

	var out []TenantSettings
	for rows.Next() {
		var s TenantSettings
		if err := rows.Scan(&s.TenantID, &s.Mode, &s.ScheduleHour, &s.Timezone, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant settings: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// UpsertSettings creates or replaces a tenant's settings.
func (r *Repository) UpsertSettings(ctx context.Context, s *TenantSettings) error {
	query := `
		INSERT INTO apb_tenant_settings (tenant_id, mode, schedule_hour, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			schedule_hour = EXCLUDED.schedule_hour,
			timezone = EXCLUDED.timezone,
			updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, s.TenantID, s.Mode, s.ScheduleHour, s.Timezone); err != nil {
		return fmt.Errorf("failed to upsert tenant settings: %w", err)
	}

	return nil
}

// MarkRan stamps the tenant's last completed run. The scheduler's dedupe
// window reads this stamp.
func (r *Repository) MarkRan(ctx context.Context, tenantID uuid.UUID, at time.Time) error {
	query := `UPDATE apb_tenant_settings SET last_run_at = $2, updated_at = NOW() WHERE tenant_id = $1`

	if _, err := r.pool.Exec(ctx, query, tenantID, at); err != nil {
		return fmt.Errorf("failed to mark tenant run: %w", err)
	}

	return nil
}
