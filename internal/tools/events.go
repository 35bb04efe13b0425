package tools

import (
	"context"
	"sync"

	"github.com/ashureev/unfolding/internal/domain"
)

// EventQueue collects side-channel events raised by handlers during one
// turn. Safe for concurrent use.
type EventQueue struct {
	mu     sync.Mutex
	events []domain.PendingEvent
}

// Push appends an event.
func (q *EventQueue) Push(ev domain.PendingEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain empties the queue and returns its contents in push order.
func (q *EventQueue) Drain() []domain.PendingEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Caller identifies who a tool call is made on behalf of.
type Caller struct {
	UserID    string
	SessionID string
	Stage     domain.Stage
}

type ctxKey int

const (
	queueKey ctxKey = iota
	callerKey
)

// WithQueue returns a context carrying q.
func WithQueue(ctx context.Context, q *EventQueue) context.Context {
	return context.WithValue(ctx, queueKey, q)
}

// WithCaller returns a context carrying the caller identity.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok && c.UserID != "" && c.SessionID != ""
}

// Emit enqueues ev on the turn's queue. It reports false when ctx carries
// no queue, which happens when a handler is invoked outside a dispatcher.
func Emit(ctx context.Context, ev domain.PendingEvent) bool {
	q, ok := ctx.Value(queueKey).(*EventQueue)
	if !ok || q == nil {
		return false
	}
	q.Push(ev)
	return true
}
