package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"adpilot_backend/platform/apperr"
	"adpilot_backend/platform/logger"
	"adpilot_backend/platform/validator"

	"github.com/google/uuid"
)

// Client is the HTTP adapter to the external metrics aggregator.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	val        *validator.Validator
	log        *logger.Logger
}

// NewClient creates a new metrics aggregator client.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		val:        validator.New(),
		log:        log,
	}
}

// Collect fetches the windowed account snapshot for one tenant.
func (c *Client) Collect(ctx context.Context, tenantID uuid.UUID) (*AccountSnapshot, error) {
	reqURL := fmt.Sprintf("%s/v1/accounts/%s/snapshot", c.baseURL, tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "metrics aggregator unreachable", err).WithOp("metrics.Collect")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound("account snapshot not found").WithOp("metrics.Collect")
	case resp.StatusCode != http.StatusOK:
		return nil, apperr.Unavailable(fmt.Sprintf("metrics aggregator status %d", resp.StatusCode)).WithOp("metrics.Collect")
	}

	var snapshot AccountSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode snapshot", err).WithOp("metrics.Collect")
	}
	if err := c.val.Struct(&snapshot); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "snapshot failed validation", err).WithOp("metrics.Collect")
	}
	if snapshot.TenantID == uuid.Nil {
		snapshot.TenantID = tenantID
	}
	if snapshot.CollectedAt.IsZero() {
		snapshot.CollectedAt = time.Now().UTC()
	}

	return &snapshot, nil
}
