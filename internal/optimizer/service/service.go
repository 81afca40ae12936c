// Package service orchestrates one tenant optimization run: collect, score,
// fuse, plan, validate, then report, park for approval or dispatch depending
// on the tenant's mode.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adpilot_backend/internal/action"
	"adpilot_backend/internal/dispatch"
	"adpilot_backend/internal/events"
	"adpilot_backend/internal/health"
	"adpilot_backend/internal/metrics"
	"adpilot_backend/internal/optimizer/repository"
	"adpilot_backend/internal/rebalance"
	"adpilot_backend/internal/risk"
	"adpilot_backend/platform/apperr"
	"adpilot_backend/platform/logger"
)

// Run triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Store is the persistence port. The production implementation is the pgx
// repository; tests use in-memory fakes.
type Store interface {
	GetSettings(ctx context.Context, tenantID uuid.UUID) (*repository.TenantSettings, error)
	MarkRan(ctx context.Context, tenantID uuid.UUID, at time.Time) error
	InsertExecution(ctx context.Context, rec *repository.ExecutionRecord) error
	GetExecution(ctx context.Context, runKey string) (*repository.ExecutionRecord, error)
	UpdateExecutionStatus(ctx context.Context, runKey, status string, report []byte, errMsg *string) error
}

// Dispatcher sends a validated batch to the executor.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, runKey, tenantID string, batch []action.Action) (dispatch.Report, error)
}

// Refiner optionally revises the deterministic plan. A nil Refiner disables
// the stage entirely.
type Refiner interface {
	Refine(ctx context.Context, snapshot *metrics.AccountSnapshot, assessments map[string]risk.UnifiedAssessment, plan rebalance.Plan) ([]action.Action, error)
}

// RiskProvider computes per-unit risk signals for a snapshot.
type RiskProvider interface {
	Compute(snapshot *metrics.AccountSnapshot) map[string]risk.Signal
}

// RunResult summarizes one completed run for the caller.
type RunResult struct {
	RunKey      string `json:"runKey"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`
	ActionCount int    `json:"actionCount"`
}

// Service is the optimizer decision engine.
type Service struct {
	repo       Store
	aggregator metrics.Aggregator
	riskScorer RiskProvider
	dispatcher Dispatcher
	refiner    Refiner
	bus        events.Bus
	log        *logger.Logger

	healthCfg    health.Config
	rebalanceCfg rebalance.Config
	maxActions   int
	now          func() time.Time
}

// New creates the optimizer service. refiner may be nil.
func New(
	repo Store,
	aggregator metrics.Aggregator,
	riskScorer RiskProvider,
	dispatcher Dispatcher,
	refiner Refiner,
	bus events.Bus,
	log *logger.Logger,
	healthCfg health.Config,
	rebalanceCfg rebalance.Config,
	maxActions int,
) *Service {
	return &Service{
		repo:         repo,
		aggregator:   aggregator,
		riskScorer:   riskScorer,
		dispatcher:   dispatcher,
		refiner:      refiner,
		bus:          bus,
		log:          log,
		healthCfg:    healthCfg,
		rebalanceCfg: rebalanceCfg,
		maxActions:   maxActions,
		now:          time.Now,
	}
}

// RunKey returns the idempotency key for a tenant's run in the given hour.
// Scheduled and manual triggers in the same hour share the key, so the
// executor sees the tenant at most once per slot.
func RunKey(tenantID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s:%s", tenantID, at.UTC().Format("2006-01-02T15"))
}

// RunTenant executes the full pipeline for one tenant.
func (s *Service) RunTenant(ctx context.Context, tenantID uuid.UUID, trigger string) (*RunResult, error) {
	started := s.now()
	runID := uuid.New()
	runKey := RunKey(tenantID, started)

	// Downstream stages (dispatcher retries in particular) log through the
	// context, so every line of this run carries both ids.
	ctx = context.WithValue(ctx, logger.RunIDKey, runID.String())
	ctx = context.WithValue(ctx, logger.TenantIDKey, tenantID.String())
	log := s.log.WithContext(ctx)

	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if settings.Mode == repository.ModeDisabled {
		return &RunResult{RunKey: runKey, Mode: settings.Mode, Status: "disabled"}, nil
	}

	snapshot, err := s.aggregator.Collect(ctx, tenantID)
	if err != nil {
		s.failRun(ctx, runID, tenantID, "collect", err)
		return nil, err
	}

	if snapshot.Empty() {
		// Nothing spent, nothing serving: record the fact and move on.
		rec := s.newRecord(runID, runKey, tenantID, trigger, settings.Mode, repository.StatusSkippedEmpty, nil, nil)
		if err := s.repo.InsertExecution(ctx, rec); err != nil && apperr.GetKind(err) != apperr.KindConflict {
			return nil, err
		}
		_ = s.repo.MarkRan(ctx, tenantID, started)
		log.RunEvent("skipped_empty", tenantID.String(), 0, s.now().Sub(started))
		return &RunResult{RunKey: runKey, Mode: settings.Mode, Status: repository.StatusSkippedEmpty}, nil
	}

	assessments, dist := s.assess(snapshot)
	log.Info("units assessed", "units", len(assessments), "distribution", dist)
	plan := rebalance.PlanAccount(snapshot, assessments, s.rebalanceCfg, started)

	batch := plan.Actions
	if s.refiner != nil && len(batch) > 0 {
		if refined, err := s.refineBatch(ctx, snapshot, assessments, plan); err != nil {
			log.Warn("advisor refinement rejected, keeping deterministic plan", "error", err)
		} else {
			batch = refined
		}
	}

	validated, err := action.ValidateBatch(batch, s.rebalanceCfg.Bounds)
	if err != nil {
		s.failRun(ctx, runID, tenantID, "validate", err)
		return nil, err
	}
	if s.maxActions > 0 && len(validated) > s.maxActions {
		log.Warn("plan exceeds action cap, truncating", "planned", len(validated), "cap", s.maxActions)
		validated = validated[:s.maxActions]
	}

	planJSON, err := marshalEnvelopes(validated)
	if err != nil {
		s.failRun(ctx, runID, tenantID, "marshal", err)
		return nil, err
	}
	advisoriesJSON, _ := json.Marshal(plan.Advisories)

	status := statusForMode(settings.Mode, len(validated))
	rec := s.newRecord(runID, runKey, tenantID, trigger, settings.Mode, status, planJSON, advisoriesJSON)
	if err := s.repo.InsertExecution(ctx, rec); err != nil {
		if apperr.GetKind(err) == apperr.KindConflict {
			// Another worker already ran this slot.
			log.Info("run slot already recorded, skipping", "run_key", runKey)
			return &RunResult{RunKey: runKey, Mode: settings.Mode, Status: "duplicate"}, nil
		}
		return nil, err
	}

	result := &RunResult{RunKey: runKey, Mode: settings.Mode, Status: status, ActionCount: len(validated)}

	switch status {
	case repository.StatusAwaitingApproval:
		s.bus.Publish(ctx, events.PlanAwaitingApproval{
			BaseEvent:   events.NewBaseEvent(),
			RunID:       runID,
			TenantID:    tenantID,
			ActionCount: len(validated),
		})

	case repository.StatusDispatched:
		report, err := s.dispatcher.DispatchBatch(ctx, runKey, tenantID.String(), validated)
		reportJSON, _ := json.Marshal(report)
		if err != nil {
			msg := err.Error()
			_ = s.repo.UpdateExecutionStatus(ctx, runKey, repository.StatusFailed, reportJSON, &msg)
			s.publishExhausted(ctx, runID, tenantID, runKey, report)
			s.failRun(ctx, runID, tenantID, "dispatch", err)
			return nil, err
		}
		if err := s.repo.UpdateExecutionStatus(ctx, runKey, repository.StatusDispatched, reportJSON, nil); err != nil {
			return nil, err
		}
	}

	if err := s.repo.MarkRan(ctx, tenantID, started); err != nil {
		return nil, err
	}

	duration := s.now().Sub(started)
	log.RunEvent("completed", tenantID.String(), len(validated), duration)
	s.bus.Publish(ctx, events.RunCompleted{
		BaseEvent:      events.NewBaseEvent(),
		RunID:          runID,
		TenantID:       tenantID,
		IdempotencyKey: runKey,
		Mode:           settings.Mode,
		ActionCount:    len(validated),
		Dispatched:     status == repository.StatusDispatched,
		Duration:       duration,
	})

	return result, nil
}

// ExecuteApproved dispatches a semi-auto plan that a human approved. The
// stored, already-validated plan is sent verbatim under its original run key.
func (s *Service) ExecuteApproved(ctx context.Context, runKey string) (*RunResult, error) {
	rec, err := s.repo.GetExecution(ctx, runKey)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusAwaitingApproval {
		return nil, apperr.Conflict(fmt.Sprintf("run %s is %s, not awaiting approval", runKey, rec.Status))
	}

	var envelopes []action.Envelope
	if err := json.Unmarshal(rec.Plan, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to decode stored plan: %w", err)
	}
	batch, err := action.UnmarshalBatch(envelopes)
	if err != nil {
		return nil, err
	}

	report, err := s.dispatcher.DispatchBatch(ctx, runKey, rec.TenantID.String(), batch)
	reportJSON, _ := json.Marshal(report)
	if err != nil {
		msg := err.Error()
		_ = s.repo.UpdateExecutionStatus(ctx, runKey, repository.StatusFailed, reportJSON, &msg)
		return nil, err
	}
	if err := s.repo.UpdateExecutionStatus(ctx, runKey, repository.StatusDispatched, reportJSON, nil); err != nil {
		return nil, err
	}

	return &RunResult{
		RunKey:      runKey,
		Mode:        rec.Mode,
		Status:      repository.StatusDispatched,
		ActionCount: len(batch),
	}, nil
}

// assess scores every active unit and fuses health with risk. CPM medians
// are taken over the unit's direction peers.
func (s *Service) assess(snapshot *metrics.AccountSnapshot) (map[string]risk.UnifiedAssessment, health.Distribution) {
	signals := map[string]risk.Signal{}
	if s.riskScorer != nil {
		signals = s.riskScorer.Compute(snapshot)
	}

	dist := health.Distribution{}
	out := make(map[string]risk.UnifiedAssessment)
	for i := range snapshot.Directions {
		dir := &snapshot.Directions[i]

		var cpms []float64
		for j := range dir.Units {
			if dir.Units[j].Active() {
				if cpm := dir.Units[j].Windows[metrics.WindowYesterday].CPM; cpm > 0 {
					cpms = append(cpms, cpm)
				}
			}
		}
		medianCPM := health.MedianCPM(cpms)

		for j := range dir.Units {
			u := dir.Units[j]
			if !u.Active() {
				continue
			}
			h := health.Score(health.BuildInput(u, dir.TargetCostCents, medianCPM), s.healthCfg)
			dist[h.Class]++

			var sig *risk.Signal
			if sg, ok := signals[u.ID]; ok {
				sig = &sg
			}
			out[u.ID] = risk.Fuse(h, sig)
		}
	}
	return out, dist
}

func (s *Service) refineBatch(ctx context.Context, snapshot *metrics.AccountSnapshot, assessments map[string]risk.UnifiedAssessment, plan rebalance.Plan) ([]action.Action, error) {
	refined, err := s.refiner.Refine(ctx, snapshot, assessments, plan)
	if err != nil {
		return nil, err
	}
	// The refined batch passes the same gate; a validation failure here
	// discards the refinement, not the run.
	validated, err := action.ValidateBatch(refined, s.rebalanceCfg.Bounds)
	if err != nil {
		return nil, err
	}
	return validated, nil
}

func (s *Service) newRecord(runID uuid.UUID, runKey string, tenantID uuid.UUID, trigger, mode, status string, plan, advisories []byte) *repository.ExecutionRecord {
	return &repository.ExecutionRecord{
		ID:         runID,
		RunKey:     runKey,
		TenantID:   tenantID,
		Trigger:    trigger,
		Mode:       mode,
		Status:     status,
		Plan:       plan,
		Advisories: advisories,
		CreatedAt:  s.now(),
	}
}

func (s *Service) failRun(ctx context.Context, runID, tenantID uuid.UUID, stage string, err error) {
	s.log.RunError(tenantID.String(), err)
	s.bus.Publish(ctx, events.RunFailed{
		BaseEvent: events.NewBaseEvent(),
		RunID:     runID,
		TenantID:  tenantID,
		Stage:     stage,
		Reason:    err.Error(),
	})
}

func (s *Service) publishExhausted(ctx context.Context, runID, tenantID uuid.UUID, runKey string, report dispatch.Report) {
	attempts := 0
	lastStatus := 0
	if n := len(report.Results); n > 0 {
		attempts = report.Results[n-1].Attempts
		lastStatus = report.Results[n-1].HTTPCode
	}
	s.bus.Publish(ctx, events.DispatchExhausted{
		BaseEvent:      events.NewBaseEvent(),
		RunID:          runID,
		TenantID:       tenantID,
		IdempotencyKey: runKey,
		Attempts:       attempts,
		LastStatus:     lastStatus,
	})
}

// statusForMode maps the tenant mode to the record's initial status. An empty
// validated batch is a plain report regardless of mode.
func statusForMode(mode string, actionCount int) string {
	if actionCount == 0 {
		return repository.StatusReported
	}
	switch mode {
	case repository.ModeAutopilot:
		return repository.StatusDispatched
	case repository.ModeSemiAuto:
		return repository.StatusAwaitingApproval
	default:
		return repository.StatusReported
	}
}

func marshalEnvelopes(batch []action.Action) ([]byte, error) {
	envelopes, err := action.MarshalBatch(batch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopes)
}
