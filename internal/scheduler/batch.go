// Package scheduler drives the hourly optimization batch: a ticker loop that
// takes a postgres lease, selects the tenants whose local schedule hour has
// arrived and fans them out in bounded chunks. Manual triggers and approved
// plan executions run through the asynq worker instead.
package scheduler

import (
	"context"
	"errors"
	"time"

	"adpilot_backend/internal/optimizer/repository"
	"adpilot_backend/internal/optimizer/service"
	"adpilot_backend/platform/config"
	"adpilot_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

// TenantLister is the slice of the repository the batch needs.
type TenantLister interface {
	ListEnabled(ctx context.Context) ([]repository.TenantSettings, error)
}

// Lease is the mutual-exclusion primitive guarding the batch. The production
// implementation is the postgres LeaseLock.
type Lease interface {
	Acquire(ctx context.Context) error
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
	Holder(ctx context.Context) (string, error)
	Key() string
}

// Batch is the hourly scheduler loop.
type Batch struct {
	lock      Lease
	store     TenantLister
	optimizer Optimizer
	log       *logger.Logger

	tickInterval time.Duration
	chunkSize    int
	chunkPause   time.Duration
	dedupeWindow time.Duration

	now func() time.Time
}

func NewBatch(cfg config.SchedulerConfig, lock Lease, store TenantLister, optimizer Optimizer, log *logger.Logger) *Batch {
	chunkSize := cfg.GetChunkSize()
	if chunkSize < 1 {
		chunkSize = 5
	}
	tick := cfg.GetTickInterval()
	if tick <= 0 {
		tick = time.Hour
	}

	return &Batch{
		lock:         lock,
		store:        store,
		optimizer:    optimizer,
		log:          log,
		tickInterval: tick,
		chunkSize:    chunkSize,
		chunkPause:   cfg.GetChunkPause(),
		dedupeWindow: cfg.GetDedupeWindow(),
		now:          time.Now,
	}
}

// Run blocks until the context is cancelled, firing one tick per interval.
// The first tick runs immediately so a restarted scheduler does not sit idle
// for up to an hour.
func (b *Batch) Run(ctx context.Context) {
	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()

	b.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// tick runs one batch pass under the lease. Lock contention means another
// instance is doing the work; skipping is the correct outcome.
func (b *Batch) tick(ctx context.Context) {
	if err := b.lock.Acquire(ctx); err != nil {
		if errors.Is(err, ErrLockHeld) {
			owner, _ := b.lock.Holder(ctx)
			b.log.LockContention(b.lock.Key(), owner)
			return
		}
		b.log.Error("batch lease acquisition failed", "error", err)
		return
	}
	defer func() {
		if err := b.lock.Release(ctx); err != nil {
			b.log.Error("batch lease release failed", "error", err)
		}
	}()

	tenants, err := b.store.ListEnabled(ctx)
	if err != nil {
		b.log.DatabaseError("scheduler.ListEnabled", err)
		return
	}

	now := b.now()
	due := make([]repository.TenantSettings, 0, len(tenants))
	for _, t := range tenants {
		if b.due(t, now) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return
	}

	b.log.Info("batch tick", "enabled", len(tenants), "due", len(due))
	b.runChunks(ctx, due)
}

// due reports whether the tenant's scheduled local hour matches now and the
// dedupe window since its last run has passed. An unknown timezone falls
// back to UTC rather than silently dropping the tenant.
func (b *Batch) due(t repository.TenantSettings, now time.Time) bool {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if now.In(loc).Hour() != t.ScheduleHour {
		return false
	}
	if t.LastRunAt != nil && now.Sub(*t.LastRunAt) < b.dedupeWindow {
		return false
	}
	return true
}

// runChunks fans the due tenants out with bounded concurrency, pausing
// between chunks to spread load on the metrics collaborator. One tenant's
// failure never stops the batch.
func (b *Batch) runChunks(ctx context.Context, due []repository.TenantSettings) {
	for start := 0; start < len(due); start += b.chunkSize {
		if ctx.Err() != nil {
			return
		}
		// A large batch can outlive the lease TTL; renew before each chunk
		// so no second instance takes over mid-run. Losing the lease means
		// another holder may already be processing: stop immediately.
		if err := b.lock.Extend(ctx); err != nil {
			b.log.Error("batch lease renewal failed, stopping batch", "error", err)
			return
		}
		end := start + b.chunkSize
		if end > len(due) {
			end = len(due)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.chunkSize)
		for _, t := range due[start:end] {
			t := t
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						b.log.Error("tenant run panicked", "tenant_id", t.TenantID.String(), "panic", r)
					}
				}()
				if _, err := b.optimizer.RunTenant(gctx, t.TenantID, service.TriggerScheduled); err != nil {
					b.log.RunError(t.TenantID.String(), err)
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(due) && b.chunkPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.chunkPause):
			}
		}
	}
}
