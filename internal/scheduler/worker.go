package scheduler

import (
	"context"
	"fmt"

	"adpilot_backend/internal/optimizer/service"
	"adpilot_backend/platform/apperr"
	"adpilot_backend/platform/config"
	"adpilot_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Optimizer is the slice of the optimizer service the worker needs.
type Optimizer interface {
	RunTenant(ctx context.Context, tenantID uuid.UUID, trigger string) (*service.RunResult, error)
	ExecuteApproved(ctx context.Context, runKey string) (*service.RunResult, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	optimizer Optimizer
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, optimizer Optimizer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		mux:       mux,
		optimizer: optimizer,
		log:       log,
	}

	mux.HandleFunc(TaskTenantRun, w.handleTenantRun)
	mux.HandleFunc(TaskPlanExecute, w.handlePlanExecute)

	return w, nil
}

func (w *Worker) handleTenantRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTenantRunPayload(task)
	if err != nil {
		return err
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id %q: %w", payload.TenantID, err)
	}

	trigger := payload.Trigger
	if trigger == "" {
		trigger = service.TriggerManual
	}

	result, err := w.optimizer.RunTenant(ctx, tenantID, trigger)
	if err != nil {
		// A missing tenant will never succeed on retry.
		if apperr.GetKind(err) == apperr.KindNotFound {
			w.log.Warn("tenant run dropped", "tenant_id", payload.TenantID, "error", err)
			return nil
		}
		return err
	}

	w.log.Info("tenant run task done",
		"tenant_id", payload.TenantID,
		"run_key", result.RunKey,
		"status", result.Status,
		"actions", result.ActionCount,
	)
	return nil
}

func (w *Worker) handlePlanExecute(ctx context.Context, task *asynq.Task) error {
	payload, err := ParsePlanExecutePayload(task)
	if err != nil {
		return err
	}

	result, err := w.optimizer.ExecuteApproved(ctx, payload.RunKey)
	if err != nil {
		// Already executed or withdrawn: retrying cannot change that.
		switch apperr.GetKind(err) {
		case apperr.KindConflict, apperr.KindNotFound:
			w.log.Warn("plan execute dropped", "run_key", payload.RunKey, "error", err)
			return nil
		}
		return err
	}

	w.log.Info("approved plan dispatched",
		"run_key", payload.RunKey,
		"approved_by", payload.ApprovedBy,
		"actions", result.ActionCount,
	)
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
