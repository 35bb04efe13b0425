package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/identity"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// ConnectionObserver is notified when sockets open and close.
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

// TurnRunner runs a chat turn. *Orchestrator implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID, sessionID, content string, emit Emitter) error
}

// Handler serves the chat WebSocket.
type Handler struct {
	turns         TurnRunner
	conns         *ConnectionRegistry
	observer      ConnectionObserver
	allowedOrigin string
	isDev         bool

	// active counts sockets being served, their turns included.
	active sync.WaitGroup
}

// NewHandler creates a chat WebSocket handler.
func NewHandler(turns TurnRunner, conns *ConnectionRegistry, allowedOrigin string, isDev bool) *Handler {
	if conns == nil {
		conns = NewConnectionRegistry()
	}
	return &Handler{
		turns:         turns,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// SetObserver installs an optional connection observer (metrics).
func (h *Handler) SetObserver(obs ConnectionObserver) { h.observer = obs }

// Wait blocks until every accepted socket has finished, including the
// turns it started, or ctx is done. Hijacked sockets are not tracked by
// http.Server.Shutdown, so call Wait before closing the store.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connWriter serializes frame writes; turns run concurrently with the
// read loop.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) send(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.conn.Write(writeCtx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("Chat connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Counted before the upgrade, while Shutdown still tracks the request.
	h.active.Add(1)
	defer h.active.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}

	h.conns.Register(userID, ws)
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.conns.Unregister(userID, ws)
		if h.observer != nil {
			h.observer.ConnectionClosed()
		}
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	out := &connWriter{conn: ws}
	if err := out.send(ctx, Frame{Type: TypeConnected, Message: "connected"}); err != nil {
		slog.Debug("Failed to send connected frame", "error", err, "user_id", userID)
		return
	}

	h.readLoop(ctx, ws, out, &wg, userID)
	slog.Info("Chat connection ended", "user_id", userID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, out *connWriter, wg *sync.WaitGroup, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg ClientFrame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(ctx, out, "", domain.ErrInvalidInput("malformed frame"))
			continue
		}

		switch msg.Type {
		case TypePing:
			if err := out.send(ctx, Frame{Type: TypePong}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case TypeSend:
			wg.Add(1)
			go func(msg ClientFrame) {
				defer wg.Done()
				emit := func(f Frame) error { return out.send(ctx, f) }
				if err := h.turns.RunTurn(ctx, userID, msg.SessionID, msg.Content, emit); err != nil {
					h.sendError(ctx, out, msg.SessionID, err)
				}
			}(msg)
		default:
			h.sendError(ctx, out, msg.SessionID, domain.ErrInvalidInput("unknown frame type: %s", msg.Type))
		}
	}
}

func (h *Handler) sendError(ctx context.Context, out *connWriter, sessionID string, err error) {
	if ctx.Err() != nil {
		return
	}
	if sendErr := out.send(ctx, ErrorFrame(sessionID, err)); sendErr != nil {
		slog.Debug("Failed to send error frame", "error", sendErr)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
