package service

import (
	"context"
	"errors"
	"testing"
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

// ---------------------------------------------------------------------------
// fakes

type fakeStore struct {
	settings   map[uuid.UUID]*repository.TenantSettings
	executions map[string]*repository.ExecutionRecord
	ranAt      map[uuid.UUID]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:   map[uuid.UUID]*repository.TenantSettings{},
		executions: map[string]*repository.ExecutionRecord{},
		ranAt:      map[uuid.UUID]time.Time{},
	}
}

func (f *fakeStore) GetSettings(_ context.Context, tenantID uuid.UUID) (*repository.TenantSettings, error) {
	s, ok := f.settings[tenantID]
	if !ok {
		return nil, apperr.NotFound("tenant settings not found")
	}
	return s, nil
}

func (f *fakeStore) MarkRan(_ context.Context, tenantID uuid.UUID, at time.Time) error {
	f.ranAt[tenantID] = at
	return nil
}

func (f *fakeStore) InsertExecution(_ context.Context, rec *repository.ExecutionRecord) error {
	if _, exists := f.executions[rec.RunKey]; exists {
		return apperr.Conflict("execution record already exists for run key " + rec.RunKey)
	}
	cp := *rec
	f.executions[rec.RunKey] = &cp
	return nil
}

func (f *fakeStore) GetExecution(_ context.Context, runKey string) (*repository.ExecutionRecord, error) {
	rec, ok := f.executions[runKey]
	if !ok {
		return nil, apperr.NotFound("execution record not found")
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) UpdateExecutionStatus(_ context.Context, runKey, status string, report []byte, errMsg *string) error {
	rec, ok := f.executions[runKey]
	if !ok {
		return apperr.NotFound("execution record not found")
	}
	rec.Status = status
	if report != nil {
		rec.Report = report
	}
	rec.Error = errMsg
	return nil
}

type fakeAggregator struct {
	snapshot *metrics.AccountSnapshot
	err      error
}

func (f *fakeAggregator) Collect(context.Context, uuid.UUID) (*metrics.AccountSnapshot, error) {
	return f.snapshot, f.err
}

type fakeRisk struct{ signals map[string]risk.Signal }

func (f *fakeRisk) Compute(*metrics.AccountSnapshot) map[string]risk.Signal { return f.signals }

type fakeDispatcher struct {
	batches [][]action.Action
	err     error
}

func (f *fakeDispatcher) DispatchBatch(_ context.Context, runKey, _ string, batch []action.Action) (dispatch.Report, error) {
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return dispatch.Report{RunKey: runKey, Failed: len(batch)}, f.err
	}
	return dispatch.Report{RunKey: runKey, Dispatched: len(batch)}, nil
}

type fakeRefiner struct {
	batch []action.Action
	err   error
}

func (f *fakeRefiner) Refine(context.Context, *metrics.AccountSnapshot, map[string]risk.UnifiedAssessment, rebalance.Plan) ([]action.Action, error) {
	return f.batch, f.err
}

// ---------------------------------------------------------------------------
// fixtures

var (
	tenantID = uuid.MustParse("0b6a0cb3-9a04-4c3e-b3a3-111111111111")
	baseTime = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
)

// overspendSnapshot yields a unit at 2.5x target cost, which the pipeline
// cuts by the maximum step.
func overspendSnapshot() *metrics.AccountSnapshot {
	return &metrics.AccountSnapshot{
		TenantID:    tenantID,
		CollectedAt: baseTime,
		Directions: []metrics.DirectionSnapshot{{
			ID: "dir-1", CampaignID: "camp-1", EnvelopeCents: 2500, TargetCostCents: 500,
			Units: []metrics.UnitSnapshot{{
				ID: "u1", DirectionID: "dir-1", CampaignID: "camp-1",
				Status: "active", Objective: metrics.ObjectiveLeadGen,
				DailyBudgetCents: 5000,
				CreatedAt:        baseTime.Add(-30 * 24 * time.Hour),
				Windows: map[metrics.Window]metrics.WindowMetrics{
					metrics.WindowYesterday: {
						SpendCents:  5000,
						Impressions: 6000,
						CTR:         1.5,
						Conversions: map[string]int64{metrics.ConversionLead: 4},
					},
				},
			}},
		}},
	}
}

func emptySnapshot() *metrics.AccountSnapshot {
	return &metrics.AccountSnapshot{TenantID: tenantID, CollectedAt: baseTime}
}

func newService(store *fakeStore, agg *fakeAggregator, disp *fakeDispatcher, ref Refiner) *Service {
	log := logger.New("development")
	svc := New(
		store, agg, &fakeRisk{}, disp, ref,
		events.NewInMemoryBus(log), log,
		health.DefaultConfig(),
		rebalance.DefaultConfig(action.Bounds{MinBudgetCents: 300, MaxBudgetCents: 100000}),
		40,
	)
	svc.now = func() time.Time { return baseTime }
	return svc
}

func withMode(store *fakeStore, mode string) {
	store.settings[tenantID] = &repository.TenantSettings{
		TenantID: tenantID, Mode: mode, ScheduleHour: 9, Timezone: "UTC",
	}
}

// ---------------------------------------------------------------------------
// tests

func TestRunTenantEmptySnapshotShortCircuits(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{}
	svc := newService(store, &fakeAggregator{snapshot: emptySnapshot()}, disp, nil)

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.Status != repository.StatusSkippedEmpty {
		t.Fatalf("status = %s, want %s", res.Status, repository.StatusSkippedEmpty)
	}
	if len(disp.batches) != 0 {
		t.Fatalf("dispatcher called for an empty account")
	}
	if _, ok := store.ranAt[tenantID]; !ok {
		t.Fatalf("last run not stamped for empty account")
	}
}

func TestRunTenantDisabledMode(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeDisabled)
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, &fakeDispatcher{}, nil)

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.Status != "disabled" {
		t.Fatalf("status = %s, want disabled", res.Status)
	}
	if len(store.executions) != 0 {
		t.Fatalf("disabled tenant produced an execution record")
	}
}

func TestRunTenantReportOnlyNeverDispatches(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeReportOnly)
	disp := &fakeDispatcher{}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp, nil)

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.Status != repository.StatusReported {
		t.Fatalf("status = %s, want %s", res.Status, repository.StatusReported)
	}
	if res.ActionCount == 0 {
		t.Fatalf("report-only run produced no plan for an overspending unit")
	}
	if len(disp.batches) != 0 {
		t.Fatalf("report-only mode dispatched actions")
	}
}

func TestRunTenantAutopilotDispatches(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp, nil)

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.Status != repository.StatusDispatched {
		t.Fatalf("status = %s, want %s", res.Status, repository.StatusDispatched)
	}
	if len(disp.batches) != 1 {
		t.Fatalf("dispatcher called %d times, want 1", len(disp.batches))
	}
	if disp.batches[0][0].ActionType() != action.TypeStatusRead {
		t.Fatalf("batch does not start with a status read: %+v", disp.batches[0])
	}
	rec := store.executions[res.RunKey]
	if rec == nil || rec.Status != repository.StatusDispatched {
		t.Fatalf("execution record = %+v, want dispatched", rec)
	}
}

func TestRunTenantSemiAutoAwaitsApproval(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeSemiAuto)
	disp := &fakeDispatcher{}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp, nil)

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.Status != repository.StatusAwaitingApproval {
		t.Fatalf("status = %s, want %s", res.Status, repository.StatusAwaitingApproval)
	}
	if len(disp.batches) != 0 {
		t.Fatalf("semi-auto run dispatched before approval")
	}

	approved, err := svc.ExecuteApproved(context.Background(), res.RunKey)
	if err != nil {
		t.Fatalf("ExecuteApproved: %v", err)
	}
	if approved.Status != repository.StatusDispatched || len(disp.batches) != 1 {
		t.Fatalf("approval did not dispatch the stored plan: %+v", approved)
	}

	// A second approval of the same run must be rejected.
	if _, err := svc.ExecuteApproved(context.Background(), res.RunKey); apperr.GetKind(err) != apperr.KindConflict {
		t.Fatalf("second approval error = %v, want conflict", err)
	}
}

func TestRunTenantAdvisorFallbackOnError(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp,
		&fakeRefiner{err: errors.New("model timeout")})

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.ActionCount == 0 || len(disp.batches) != 1 {
		t.Fatalf("deterministic plan not dispatched after advisor failure: %+v", res)
	}
}

func TestRunTenantAdvisorInvalidBatchFallsBack(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{}
	// Refiner proposes an action with a missing required parameter.
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp,
		&fakeRefiner{batch: []action.Action{action.PauseUnit{}}})

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if len(disp.batches) != 1 {
		t.Fatalf("dispatcher called %d times, want 1", len(disp.batches))
	}
	for _, a := range disp.batches[0] {
		if p, ok := a.(action.PauseUnit); ok && p.UnitID == "" {
			t.Fatalf("invalid advisor action reached dispatch")
		}
	}
	if res.ActionCount == 0 {
		t.Fatalf("fallback plan is empty")
	}
}

func TestRunTenantAdvisorRefinementApplied(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{}
	refined := []action.Action{
		action.StatusRead{CampaignID: "camp-1"},
		action.UpdateUnitBudget{UnitID: "u1", NewBudgetCents: 3000},
	}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp,
		&fakeRefiner{batch: refined})

	res, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunTenant: %v", err)
	}
	if res.ActionCount != 2 {
		t.Fatalf("action count = %d, want refined batch of 2", res.ActionCount)
	}
	upd, ok := disp.batches[0][1].(action.UpdateUnitBudget)
	if !ok || upd.NewBudgetCents != 3000 {
		t.Fatalf("refined budget not dispatched: %+v", disp.batches[0])
	}
}

func TestRunTenantDuplicateSlotSkipped(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp, nil)

	first, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.RunTenant(context.Background(), tenantID, TriggerManual)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Status != "duplicate" {
		t.Fatalf("second run status = %s, want duplicate", second.Status)
	}
	if second.RunKey != first.RunKey {
		t.Fatalf("run keys differ within the hour: %s vs %s", first.RunKey, second.RunKey)
	}
	if len(disp.batches) != 1 {
		t.Fatalf("dispatcher called %d times, want 1", len(disp.batches))
	}
}

func TestRunTenantDispatchFailureRecorded(t *testing.T) {
	store := newFakeStore()
	withMode(store, repository.ModeAutopilot)
	disp := &fakeDispatcher{err: apperr.Unavailable("executor down")}
	svc := newService(store, &fakeAggregator{snapshot: overspendSnapshot()}, disp, nil)

	_, err := svc.RunTenant(context.Background(), tenantID, TriggerScheduled)
	if err == nil {
		t.Fatalf("expected dispatch failure to propagate")
	}

	var rec *repository.ExecutionRecord
	for _, r := range store.executions {
		rec = r
	}
	if rec == nil || rec.Status != repository.StatusFailed {
		t.Fatalf("execution record = %+v, want failed", rec)
	}
	if rec.Error == nil {
		t.Fatalf("failure reason not persisted")
	}
}
