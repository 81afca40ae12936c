// Package events is the optimizer's internal monitoring channel: run
// lifecycle events published to an in-process bus. Failures surface here and
// in the structured log only, never to tenant-facing collaborators.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every run lifecycle event.
type Event interface {
	// EventName returns the unique name handlers subscribe to.
	EventName() string
	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time
}

// BaseEvent carries the occurrence timestamp shared by all events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events of one name.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes run events to subscribed handlers.
type Bus interface {
	// Publish delivers the event asynchronously; handler errors are logged,
	// never returned to the publisher.
	Publish(ctx context.Context, event Event)

	// PublishSync delivers the event inline and joins handler errors.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler for the given Event.EventName value.
	Subscribe(eventName string, handler Handler)
}

// RunCompleted is published when a tenant optimization run finishes.
type RunCompleted struct {
	BaseEvent
	RunID          uuid.UUID     `json:"runId"`
	TenantID       uuid.UUID     `json:"tenantId"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Mode           string        `json:"mode"`
	ActionCount    int           `json:"actionCount"`
	Dispatched     bool          `json:"dispatched"`
	Duration       time.Duration `json:"duration"`
}

func (e RunCompleted) EventName() string { return "optimizer.run.completed" }

// RunFailed is published when a tenant optimization run fails at any stage.
type RunFailed struct {
	BaseEvent
	RunID    uuid.UUID `json:"runId"`
	TenantID uuid.UUID `json:"tenantId"`
	Stage    string    `json:"stage"`
	Reason   string    `json:"reason"`
}

func (e RunFailed) EventName() string { return "optimizer.run.failed" }

// DispatchExhausted is published when the dispatcher gives up after its retry
// ceiling. The plan is already persisted for audit by the time this fires.
type DispatchExhausted struct {
	BaseEvent
	RunID          uuid.UUID `json:"runId"`
	TenantID       uuid.UUID `json:"tenantId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Attempts       int       `json:"attempts"`
	LastStatus     int       `json:"lastStatus"`
}

func (e DispatchExhausted) EventName() string { return "optimizer.dispatch.exhausted" }

// PlanAwaitingApproval is published when a semi-auto tenant's plan is persisted
// for manual review instead of being dispatched.
type PlanAwaitingApproval struct {
	BaseEvent
	RunID       uuid.UUID `json:"runId"`
	TenantID    uuid.UUID `json:"tenantId"`
	ActionCount int       `json:"actionCount"`
}

func (e PlanAwaitingApproval) EventName() string { return "optimizer.plan.awaiting_approval" }
