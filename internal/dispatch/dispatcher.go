package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"adpilot_backend/internal/action"
	"adpilot_backend/platform/apperr"
	"adpilot_backend/platform/config"
	"adpilot_backend/platform/logger"
)

// Status of one dispatched action.
type Status string

const (
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
)

// ActionResult records the outcome of one action's dispatch.
type ActionResult struct {
	Index    int         `json:"index"`
	Type     action.Type `json:"type"`
	Status   Status      `json:"status"`
	Attempts int         `json:"attempts"`
	HTTPCode int         `json:"httpCode,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Report summarizes a batch dispatch.
type Report struct {
	RunKey     string         `json:"runKey"`
	Skipped    bool           `json:"skipped"` // guard already held, nothing sent
	Dispatched int            `json:"dispatched"`
	Failed     int            `json:"failed"`
	Results    []ActionResult `json:"results"`
}

// executorRequest is the wire form of one action sent to the executor.
type executorRequest struct {
	RunKey   string          `json:"runKey"`
	TenantID string          `json:"tenantId"`
	Index    int             `json:"index"`
	Action   action.Envelope `json:"action"`
}

// Dispatcher sends validated batches to the external executor, one action at
// a time, rate-limited and retried per policy. The guard makes the whole
// batch at-most-once per run key.
type Dispatcher struct {
	client  *http.Client
	baseURL string
	apiKey  string
	policy  RetryPolicy
	limiter *rate.Limiter
	guard   *Guard
	log     *logger.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg config.DispatchConfig, guard *Guard, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: cfg.GetExecutorURL(),
		apiKey:  cfg.GetExecutorAPIKey(),
		policy: RetryPolicy{
			MaxAttempts: cfg.GetDispatchMaxAttempts(),
			BaseDelay:   cfg.GetDispatchBaseDelay(),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.GetDispatchRatePerSecond()), 1),
		guard:   guard,
		log:     log,
		sleep:   sleepCtx,
	}
}

// DispatchBatch sends the batch in order. The run key is claimed before the
// first action goes out; if another dispatch already holds it the batch is
// skipped entirely. On any exhausted action the key is released so the next
// run can retry the account.
func (d *Dispatcher) DispatchBatch(ctx context.Context, runKey, tenantID string, batch []action.Action) (Report, error) {
	report := Report{RunKey: runKey}
	if len(batch) == 0 {
		return report, nil
	}

	log := d.log.WithContext(ctx)

	acquired, err := d.guard.Acquire(ctx, runKey)
	if err != nil {
		return report, err
	}
	if !acquired {
		report.Skipped = true
		log.Info("dispatch_skipped", "run_key", runKey, "reason", "guard held")
		return report, nil
	}

	envelopes, err := action.MarshalBatch(batch)
	if err != nil {
		_ = d.guard.Release(ctx, runKey)
		return report, err
	}

	for i, env := range envelopes {
		res := d.sendOne(ctx, executorRequest{
			RunKey:   runKey,
			TenantID: tenantID,
			Index:    i,
			Action:   env,
		})
		report.Results = append(report.Results, res)
		if res.Status == StatusDispatched {
			report.Dispatched++
			continue
		}
		report.Failed++
		// Actions are ordered (status reads before mutations); once one
		// fails for good, sending the rest could act on stale state.
		break
	}

	if report.Failed > 0 {
		if err := d.guard.Release(ctx, runKey); err != nil {
			log.Error("guard release failed", "run_key", runKey, "error", err)
		}
		last := report.Results[len(report.Results)-1]
		return report, apperr.Unavailable(
			fmt.Sprintf("dispatch %s aborted at action %d (%s): %s", runKey, last.Index, last.Type, last.Error),
		).WithOp("dispatch.DispatchBatch")
	}

	return report, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, req executorRequest) ActionResult {
	res := ActionResult{Index: req.Index, Type: req.Action.Type}
	key := fmt.Sprintf("%s:%d", req.RunKey, req.Index)

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		if err := d.limiter.Wait(ctx); err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			return res
		}

		status, err := d.post(ctx, key, req)
		res.HTTPCode = status
		if err == nil && status >= 200 && status < 300 {
			res.Status = StatusDispatched
			res.Error = ""
			return res
		}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Error = fmt.Sprintf("executor returned %d", status)
		}

		if !d.policy.Retryable(status, err) || d.policy.Exhausted(attempt) {
			res.Status = StatusFailed
			return res
		}

		d.log.WithContext(ctx).DispatchRetry(key, attempt, status, err)
		if err := d.sleep(ctx, d.policy.Delay(attempt)); err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			return res
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, idempotencyKey string, req executorRequest) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/actions", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
