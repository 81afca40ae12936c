package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := NewInMemoryBus(nil)
	ev := RunFailed{BaseEvent: NewBaseEvent(), RunID: uuid.New(), Stage: "collect"}

	bus.Subscribe(ev.EventName(), HandlerFunc(func(context.Context, Event) error {
		return errors.New("pager down")
	}))
	bus.Subscribe(ev.EventName(), HandlerFunc(func(context.Context, Event) error {
		return nil
	}))

	if err := bus.PublishSync(context.Background(), ev); err == nil {
		t.Fatalf("PublishSync swallowed a handler error")
	}
}

func TestPublishOnlyReachesMatchingName(t *testing.T) {
	bus := NewInMemoryBus(nil)
	got := make(chan string, 2)

	bus.Subscribe(RunCompleted{}.EventName(), HandlerFunc(func(_ context.Context, e Event) error {
		got <- e.EventName()
		return nil
	}))

	bus.Publish(context.Background(), RunFailed{BaseEvent: NewBaseEvent()})
	bus.Publish(context.Background(), RunCompleted{BaseEvent: NewBaseEvent()})

	select {
	case name := <-got:
		if name != (RunCompleted{}).EventName() {
			t.Fatalf("handler received %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribed handler never ran")
	}
	select {
	case name := <-got:
		t.Fatalf("handler received unsubscribed event %q", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSurvivesCancelledContext(t *testing.T) {
	bus := NewInMemoryBus(nil)
	ran := make(chan struct{})

	bus.Subscribe(DispatchExhausted{}.EventName(), HandlerFunc(func(ctx context.Context, _ Event) error {
		if ctx.Err() != nil {
			t.Errorf("handler context already cancelled: %v", ctx.Err())
		}
		close(ran)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, DispatchExhausted{BaseEvent: NewBaseEvent()})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never ran after publisher context was cancelled")
	}
}
