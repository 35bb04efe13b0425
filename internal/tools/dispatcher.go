package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// Outcomes reported to a DispatchObserver.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeFailed      = "failed"
)

// Result is the outcome of one dispatched call, ready to be fed back to
// the model.
type Result struct {
	Name    string
	Content string
	IsError bool
	Kind    domain.ErrorKind
}

// DispatchObserver is notified after each dispatch.
type DispatchObserver interface {
	ToolDispatched(tool, outcome string, elapsed time.Duration)
}

// Dispatcher runs tool calls for a single turn and owns that turn's event
// queue. Create one per turn; do not share across sessions.
type Dispatcher struct {
	registry *Registry
	caller   Caller
	queue    *EventQueue
	observer DispatchObserver
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher bound to caller.
func NewDispatcher(registry *Registry, caller Caller, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		caller:   caller,
		queue:    &EventQueue{},
		logger:   logger.With("session_id", caller.SessionID, "user_id", caller.UserID),
	}
}

// SetObserver installs an optional observer (metrics).
func (d *Dispatcher) SetObserver(obs DispatchObserver) { d.observer = obs }

// Dispatch executes call. It never returns a Go error and never panics:
// every failure is folded into an IsError result.
func (d *Dispatcher) Dispatch(ctx context.Context, call domain.ToolCall) Result {
	start := time.Now()
	res, outcome := d.dispatch(ctx, call)
	if d.observer != nil {
		d.observer.ToolDispatched(call.Name, outcome, time.Since(start))
	}
	d.logger.Info("Tool dispatched", "tool", call.Name, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
	return res
}

const handlerFailurePrefix = "tool failed: "

func (d *Dispatcher) dispatch(ctx context.Context, call domain.ToolCall) (res Result, outcome string) {
	tool, ok := d.registry.Lookup(call.Name)
	if !ok {
		return Result{
			Name:    call.Name,
			Content: fmt.Sprintf("unknown tool: %s", call.Name),
			IsError: true,
			Kind:    domain.KindUnknownTool,
		}, OutcomeUnknownTool
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tool handler panicked", "tool", call.Name, "panic", r)
			res = Result{
				Name:    call.Name,
				Content: handlerFailurePrefix + call.Name,
				IsError: true,
				Kind:    domain.KindHandlerError,
			}
			outcome = OutcomeFailed
		}
	}()

	args := call.Input
	if args == nil {
		args = map[string]any{}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = args

	ctx = WithQueue(WithCaller(ctx, d.caller), d.queue)
	out, err := tool.Handler(ctx, req)
	if err != nil {
		d.logger.Warn("Tool handler failed", "tool", call.Name, "error", err)
		return Result{
			Name:    call.Name,
			Content: handlerFailurePrefix + domain.PublicMessage(err),
			IsError: true,
			Kind:    domain.KindHandlerError,
		}, OutcomeFailed
	}

	res = Result{Name: call.Name, Content: ResultText(out)}
	if out != nil && out.IsError {
		res.IsError = true
		res.Kind = domain.KindHandlerError
		return res, OutcomeRejected
	}
	return res, OutcomeOK
}

// DrainEvents returns and clears the events raised so far this turn.
func (d *Dispatcher) DrainEvents() []domain.PendingEvent {
	return d.queue.Drain()
}

// ResultText concatenates the text parts of a tool result.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
