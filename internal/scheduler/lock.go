package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLockHeld is returned when another instance owns the batch lease.
var ErrLockHeld = errors.New("batch lease held by another instance")

// LeaseLock is a postgres-backed lease. One row per lock key; an expired
// lease can be taken over, so a crashed holder never blocks the batch for
// longer than the TTL.
type LeaseLock struct {
	pool  *pgxpool.Pool
	key   string
	owner string
	ttl   time.Duration
}

func NewLeaseLock(pool *pgxpool.Pool, key, owner string, ttl time.Duration) *LeaseLock {
	return &LeaseLock{pool: pool, key: key, owner: owner, ttl: ttl}
}

// Key returns the lock key the lease guards.
func (l *LeaseLock) Key() string { return l.key }

// Acquire takes the lease or returns ErrLockHeld with the current owner.
func (l *LeaseLock) Acquire(ctx context.Context) error {
	query := `
		INSERT INTO apb_batch_locks (lock_key, owner, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (lock_key) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE apb_batch_locks.expires_at < NOW() OR apb_batch_locks.owner = EXCLUDED.owner`

	tag, err := l.pool.Exec(ctx, query, l.key, l.owner, l.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("failed to acquire batch lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockHeld
	}

	return nil
}

// Holder returns the current lease owner, or "" when the lease is free.
func (l *LeaseLock) Holder(ctx context.Context) (string, error) {
	query := `SELECT owner FROM apb_batch_locks WHERE lock_key = $1 AND expires_at >= NOW()`

	var owner string
	err := l.pool.QueryRow(ctx, query, l.key).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read batch lease: %w", err)
	}

	return owner, nil
}

// Extend pushes the expiry forward. Only the owner can extend.
func (l *LeaseLock) Extend(ctx context.Context) error {
	query := `UPDATE apb_batch_locks SET expires_at = NOW() + make_interval(secs => $3) WHERE lock_key = $1 AND owner = $2`

	tag, err := l.pool.Exec(ctx, query, l.key, l.owner, l.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("failed to extend batch lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockHeld
	}

	return nil
}

// Release frees the lease. Releasing a lease owned by someone else is a
// no-op; the takeover already happened.
func (l *LeaseLock) Release(ctx context.Context) error {
	query := `DELETE FROM apb_batch_locks WHERE lock_key = $1 AND owner = $2`

	if _, err := l.pool.Exec(ctx, query, l.key, l.owner); err != nil {
		return fmt.Errorf("failed to release batch lease: %w", err)
	}

	return nil
}
