package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/unfolding/internal/compress"
	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/llm"
	"github.com/ashureev/unfolding/internal/session"
	"github.com/ashureev/unfolding/internal/store"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/ashureev/unfolding/internal/transcript"
	"github.com/ashureev/unfolding/internal/unfolding"
	"github.com/google/uuid"
)

// Turn outcomes reported to a TurnObserver.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// SessionLoader loads an owned session with its state. session.Service
// implements it.
type SessionLoader interface {
	Load(ctx context.Context, sessionID, userID string) (*session.Snapshot, error)
}

// TurnObserver receives per-turn measurements.
type TurnObserver interface {
	tools.DispatchObserver
	TurnFinished(stage domain.Stage, outcome string, elapsed time.Duration)
	HistoryCompressed(dropped int)
}

// Options tunes an Orchestrator.
type Options struct {
	MaxToolRounds int
	Compress      compress.Options
	RatePerMinute int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		MaxToolRounds: 5,
		Compress:      compress.DefaultOptions(),
		RatePerMinute: 20,
	}
}

// Emitter delivers frames to the client in order.
type Emitter func(Frame) error

// Orchestrator runs one streaming turn at a time per session.
type Orchestrator struct {
	sessions SessionLoader
	messages store.MessageRepository
	registry *tools.Registry
	catalog  *unfolding.Catalog
	model    llm.Client
	opts     Options

	limiter    *RateLimiter
	inFlight   sync.Map // turnKey(user, session) -> struct{}
	observer   TurnObserver
	transcript transcript.Logger
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(sessions SessionLoader, messages store.MessageRepository, registry *tools.Registry, catalog *unfolding.Catalog, model llm.Client, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultOptions().MaxToolRounds
	}
	return &Orchestrator{
		sessions:   sessions,
		messages:   messages,
		registry:   registry,
		catalog:    catalog,
		model:      model,
		opts:       opts,
		limiter:    NewRateLimiter(opts.RatePerMinute),
		transcript: transcript.Nop{},
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SetObserver installs an optional metrics observer.
func (o *Orchestrator) SetObserver(obs TurnObserver) { o.observer = obs }

// SetTranscript installs a transcript logger.
func (o *Orchestrator) SetTranscript(l transcript.Logger) {
	if l == nil {
		l = transcript.Nop{}
	}
	o.transcript = l
}

// InFlight reports whether userID has a turn streaming for sessionID.
func (o *Orchestrator) InFlight(userID, sessionID string) bool {
	_, ok := o.inFlight.Load(turnKey(userID, sessionID))
	return ok
}

// turnKey scopes the turn lock to the caller, so a request naming a
// session the caller does not own never holds the owner's slot.
func turnKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// RunTurn handles one chat:send. Validation failures are returned before
// any frame is emitted. Once stream:start has been emitted, stream:end is
// always emitted, followed by the turn's tool events, even if the turn
// fails; the failure is then returned for the caller to report.
func (o *Orchestrator) RunTurn(ctx context.Context, userID, sessionID, content string, emit Emitter) error {
	content = strings.TrimSpace(content)
	switch {
	case userID == "":
		return domain.NewError(domain.KindUnauthorized, "caller identity is required")
	case strings.TrimSpace(sessionID) == "":
		return domain.ErrInvalidInput("sessionId is required")
	case content == "":
		return domain.ErrInvalidInput("content is required")
	}

	key := turnKey(userID, sessionID)
	if _, busy := o.inFlight.LoadOrStore(key, struct{}{}); busy {
		return domain.ErrConflict("turn in progress")
	}
	defer o.inFlight.Delete(key)

	if !o.limiter.Allow(userID) {
		return domain.ErrConflict("too many messages, slow down")
	}

	snap, err := o.sessions.Load(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !snap.Session.IsActive {
		return domain.ErrInvalidTransition("inactive session")
	}

	start := o.now()
	stage := snap.Session.Stage
	logger := o.logger.With("session_id", sessionID, "user_id", userID, "stage", stage)

	err = o.runTurn(ctx, logger, snap, userID, content, emit)

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
		if domain.KindOf(err) != domain.KindUpstreamFailure {
			outcome = OutcomeRejected
		}
		logger.Warn("Chat turn failed", "error", err)
	}
	if o.observer != nil {
		o.observer.TurnFinished(stage, outcome, o.now().Sub(start))
	}
	return err
}

func (o *Orchestrator) runTurn(ctx context.Context, logger *slog.Logger, snap *session.Snapshot, userID, content string, emit Emitter) error {
	sess := snap.Session
	// Persistence must survive a client disconnect mid-turn.
	writeCtx := context.WithoutCancel(ctx)

	userMsg := &domain.Message{
		ID:        o.newID(),
		SessionID: sess.ID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: o.now(),
	}
	if err := o.messages.AppendMessage(writeCtx, userMsg); err != nil {
		logger.Error("Failed to persist user message", "error", err)
		return domain.ErrUpstream(err, "failed to save message")
	}
	o.record(sess, transcript.DirectionInbound, TypeSend, content, "", nil)

	history, err := o.messages.ListMessages(ctx, sess.ID)
	if err != nil {
		logger.Error("Failed to load history", "error", err)
		return domain.ErrUpstream(err, "failed to load history")
	}
	compressed := compress.Compress(history, o.opts.Compress)
	if o.observer != nil {
		o.observer.HistoryCompressed(compressed.DroppedCount)
	}
	logger.Debug("History compressed",
		"original", compressed.OriginalCount,
		"compressed", compressed.CompressedCount,
		"dropped", compressed.DroppedCount)

	dispatcher := tools.NewDispatcher(o.registry, tools.Caller{
		UserID:    userID,
		SessionID: sess.ID,
		Stage:     sess.Stage,
	}, o.logger)
	if o.observer != nil {
		dispatcher.SetObserver(o.observer)
	}

	req := llm.Request{
		System: llm.BuildSystemPrompt(sess.Title, sess.Stage, snap.State),
		Turns:  llm.TurnsFromHistory(compressed.Messages),
		Tools:  o.registry.Definitions(o.catalog.ToolsFor(sess.Stage)...),
	}

	messageID := o.newID()
	if err := emit(Frame{Type: TypeStart, SessionID: sess.ID, MessageID: messageID}); err != nil {
		return err
	}

	text, calls, tokens, turnErr := o.stream(ctx, logger, dispatcher, req, sess, emit)

	if text != "" || len(calls) > 0 {
		assistant := &domain.Message{
			ID:        messageID,
			SessionID: sess.ID,
			Role:      domain.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
			CreatedAt: o.now(),
		}
		if tokens > 0 {
			assistant.TokenCount = &tokens
		}
		if err := o.messages.AppendMessage(writeCtx, assistant); err != nil {
			logger.Error("Failed to persist assistant message", "error", err)
			if turnErr == nil {
				turnErr = domain.ErrUpstream(err, "failed to save reply")
			}
		}
		o.record(sess, transcript.DirectionOutbound, "assistant", text, "", nil)
	}

	endErr := emit(Frame{Type: TypeEnd, SessionID: sess.ID, MessageID: messageID})

	for _, ev := range dispatcher.DrainEvents() {
		o.record(sess, transcript.DirectionOutbound, ev.Type, "", "", ev.Data)
		if err := emit(EventFrame(sess.ID, ev)); err != nil && endErr == nil {
			endErr = err
		}
	}

	if turnErr != nil {
		return turnErr
	}
	return endErr
}

// stream drives the model through up to MaxToolRounds rounds of tool use.
// It returns the full reply text and every tool call made.
func (o *Orchestrator) stream(ctx context.Context, logger *slog.Logger, d *tools.Dispatcher, req llm.Request, sess *domain.Session, emit Emitter) (string, []domain.ToolCall, int, error) {
	var (
		full     strings.Builder
		allCalls []domain.ToolCall
		tokens   int
	)

	for round := 0; ; round++ {
		var (
			roundText strings.Builder
			calls     []domain.ToolCall
			// Each round reports a running count; the last one is its total.
			roundTokens int
		)
		for chunk, err := range o.model.Stream(ctx, req) {
			if err != nil {
				tokens += roundTokens
				if ctx.Err() != nil {
					return full.String(), allCalls, tokens, domain.ErrUpstream(ctx.Err(), "turn cancelled")
				}
				return full.String(), allCalls, tokens, classifyUpstream(err)
			}
			if chunk.Tokens > 0 {
				roundTokens = max(roundTokens, chunk.Tokens)
			}
			if chunk.Text != "" {
				roundText.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
				if err := emit(Frame{Type: TypeChunk, SessionID: sess.ID, Content: chunk.Text}); err != nil {
					return full.String(), allCalls, tokens + roundTokens, err
				}
			}
			calls = append(calls, chunk.ToolCalls...)
		}
		tokens += roundTokens

		if len(calls) == 0 {
			return full.String(), allCalls, tokens, nil
		}

		results := make([]llm.ToolResult, 0, len(calls))
		for i, call := range calls {
			res := d.Dispatch(ctx, call)
			calls[i].Result, calls[i].IsError = res.Content, res.IsError
			results = append(results, llm.ToolResult{Name: res.Name, Content: res.Content, IsError: res.IsError})
			o.record(sess, transcript.DirectionOutbound, "tool", res.Content, call.Name, call.Input)
		}
		allCalls = append(allCalls, calls...)

		if round+1 >= o.opts.MaxToolRounds {
			logger.Warn("Tool round limit reached", "rounds", round+1)
			return full.String(), allCalls, tokens, nil
		}

		req.Turns = append(req.Turns,
			llm.Turn{Role: domain.RoleAssistant, Text: roundText.String(), ToolCalls: calls},
			llm.Turn{Role: domain.RoleUser, ToolResults: results},
		)
	}
}

// classifyUpstream keeps classified model errors and wraps the rest.
func classifyUpstream(err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return domain.ErrUpstream(err, "model request failed")
}

func (o *Orchestrator) record(sess *domain.Session, direction, eventType, content, tool string, data any) {
	o.transcript.Log(transcript.Event{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Stage:     string(sess.Stage),
		Direction: direction,
		EventType: eventType,
		Content:   content,
		Tool:      tool,
		Data:      data,
	})
}
