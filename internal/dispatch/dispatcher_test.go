package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"adpilot_backend/internal/action"
	"adpilot_backend/platform/apperr"
	"adpilot_backend/platform/logger"
)

func testDispatcher(t *testing.T, serverURL string) (*Dispatcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Dispatcher{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: serverURL,
		policy:  RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond},
		limiter: rate.NewLimiter(rate.Inf, 1),
		guard:   NewGuard(rdb, time.Hour),
		log:     logger.New("development"),
		sleep:   func(context.Context, time.Duration) error { return nil },
	}, mr
}

func testBatch() []action.Action {
	return []action.Action{
		action.StatusRead{CampaignID: "camp-1"},
		action.UpdateUnitBudget{UnitID: "u1", NewBudgetCents: 4000},
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t, srv.URL)
	report, err := d.DispatchBatch(context.Background(), "run-1", "tenant-1", testBatch()[:1])
	if err != nil {
		t.Fatalf("DispatchBatch: %v", err)
	}
	if report.Dispatched != 1 || report.Results[0].Attempts != 2 {
		t.Fatalf("report = %+v, want 1 dispatched on attempt 2", report)
	}
}

func TestDispatchNonRetryableFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d, mr := testDispatcher(t, srv.URL)
	report, err := d.DispatchBatch(context.Background(), "run-1", "tenant-1", testBatch()[:1])
	if err == nil {
		t.Fatalf("expected error on 422, got report %+v", report)
	}
	if apperr.GetKind(err) != apperr.KindUnavailable {
		t.Fatalf("error kind = %v, want unavailable", apperr.GetKind(err))
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("executor called %d times, want 1 (no retry on 4xx)", got)
	}
	if mr.Exists(guardKeyPrefix + "run-1") {
		t.Fatalf("guard key not released after failed dispatch")
	}
}

func TestDispatchExhaustsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t, srv.URL)
	report, err := d.DispatchBatch(context.Background(), "run-1", "tenant-1", testBatch()[:1])
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("executor called %d times, want 4", got)
	}
	if report.Results[0].Status != StatusFailed {
		t.Fatalf("result = %+v, want failed", report.Results[0])
	}
}

func TestDispatchGuardSkipsSecondDispatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t, srv.URL)
	ctx := context.Background()

	first, err := d.DispatchBatch(ctx, "run-1", "tenant-1", testBatch())
	if err != nil || first.Dispatched != 2 {
		t.Fatalf("first dispatch: %+v, %v", first, err)
	}

	second, err := d.DispatchBatch(ctx, "run-1", "tenant-1", testBatch())
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if !second.Skipped || second.Dispatched != 0 {
		t.Fatalf("second dispatch = %+v, want skipped", second)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("executor called %d times, want 2", got)
	}
}

func TestDispatchAbortsBatchOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t, srv.URL)
	report, err := d.DispatchBatch(context.Background(), "run-1", "tenant-1", testBatch())
	if err == nil {
		t.Fatalf("expected abort error")
	}
	if report.Dispatched != 1 || report.Failed != 1 || len(report.Results) != 2 {
		t.Fatalf("report = %+v, want abort after first failure", report)
	}
}

func TestDispatchEmptyBatchNoGuard(t *testing.T) {
	d, mr := testDispatcher(t, "http://unreachable.invalid")
	report, err := d.DispatchBatch(context.Background(), "run-1", "tenant-1", nil)
	if err != nil || report.Dispatched != 0 {
		t.Fatalf("empty batch: %+v, %v", report, err)
	}
	if mr.Exists(guardKeyPrefix + "run-1") {
		t.Fatalf("guard claimed for an empty batch")
	}
}

func TestRetryPolicyDelayDoubles(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: 2 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
