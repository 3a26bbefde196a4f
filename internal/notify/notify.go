package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is a best-effort analytics notification.
type Event struct {
	Name       string            `json:"name"`
	UserID     string            `json:"userId"`
	Properties map[string]string `json:"properties,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log. It is the fallback when Redis is not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event Event) error {
	slog.InfoContext(ctx, "analytics event", "name", event.Name, "user_id", event.UserID, "properties", event.Properties)
	return nil
}

// Dispatcher delivers events on a background goroutine. Publish never blocks the caller and
// delivery failures are only logged.
type Dispatcher struct {
	notifier Notifier
	events   chan Event
	timeout  time.Duration
	done     chan struct{}

	mutex  sync.RWMutex
	closed bool
}

func NewDispatcher(notifier Notifier, buffer int, timeout time.Duration) *Dispatcher {
	dispatcher := &Dispatcher{
		notifier: notifier,
		events:   make(chan Event, buffer),
		timeout:  timeout,
		done:     make(chan struct{}),
	}
	go dispatcher.run()
	return dispatcher
}

// Publish queues event and reports whether it was accepted. A full queue drops the event.
func (dispatcher *Dispatcher) Publish(event Event) bool {
	dispatcher.mutex.RLock()
	defer dispatcher.mutex.RUnlock()
	if dispatcher.closed {
		return false
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	select {
	case dispatcher.events <- event:
		return true
	default:
		slog.Warn("analytics queue full, dropping event", "name", event.Name)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (dispatcher *Dispatcher) Close() {
	dispatcher.mutex.Lock()
	if !dispatcher.closed {
		dispatcher.closed = true
		close(dispatcher.events)
	}
	dispatcher.mutex.Unlock()

	<-dispatcher.done
}

func (dispatcher *Dispatcher) run() {
	defer close(dispatcher.done)

	for event := range dispatcher.events {
		ctx, cancel := context.WithTimeout(context.Background(), dispatcher.timeout)
		if err := dispatcher.notifier.Notify(ctx, event); err != nil {
			slog.Warn("delivering analytics event", "name", event.Name, "error", err)
		}
		cancel()
	}
}
