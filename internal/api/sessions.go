package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/identity"
	"github.com/ashureev/unfolding/internal/session"
	"github.com/ashureev/unfolding/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionService is the lifecycle surface the REST handlers need.
// *session.Service implements it.
type SessionService interface {
	Create(ctx context.Context, userID, title string) (*session.Snapshot, error)
	Load(ctx context.Context, sessionID, userID string) (*session.Snapshot, error)
	List(ctx context.Context, userID string) ([]*domain.Session, error)
	ActiveSession(ctx context.Context, userID string) (*session.Snapshot, error)
	Advance(ctx context.Context, sessionID, userID string) (*domain.Session, error)
	Abandon(ctx context.Context, sessionID, userID string) (*domain.Session, error)
	Complete(ctx context.Context, sessionID, userID string) (*domain.Session, error)
}

// SessionHandler serves session lifecycle endpoints.
type SessionHandler struct {
	sessions SessionService
	messages store.MessageRepository
	users    store.UserRepository
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions SessionService, messages store.MessageRepository, users store.UserRepository) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages, users: users}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/stages", h.GetStages)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/", h.List)
			r.Get("/active", h.Active)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Get("/messages", h.Messages)
				r.Post("/advance", h.Advance)
				r.Post("/abandon", h.Abandon)
				r.Post("/complete", h.Complete)
			})
		})
	})
}

type createRequest struct {
	Title string `json:"title"`
}

// callerID returns the caller identity or writes 401.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, domain.NewError(domain.KindUnauthorized, "unauthorized"))
		return "", false
	}
	return userID, true
}

// GetMe returns the current user's information.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to get user", "error", err, "user_id", userID)
		Error(w, domain.ErrUpstream(err, "failed to load user"))
		return
	}
	if user == nil {
		Error(w, domain.NewError(domain.KindUnauthorized, "user not found"))
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

// GetStages returns the fixed stage order for the frontend.
func (h *SessionHandler) GetStages(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"stages":  domain.StageOrder,
		"initial": domain.InitialStage(),
		"final":   domain.FinalStage(),
	})
}

// Create starts a new session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}

	snap, err := h.sessions.Create(r.Context(), userID, req.Title)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, snap)
}

// List returns the caller's sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessions.List(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Active returns the caller's active session.
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	snap, err := h.sessions.ActiveSession(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Get returns one session with its state.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	snap, err := h.sessions.Load(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Messages returns the full chat history of a session.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	// Ownership check; messages are keyed by session only.
	if _, err := h.sessions.Load(r.Context(), sessionID, userID); err != nil {
		Error(w, err)
		return
	}

	history, err := h.messages.ListMessages(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "session_id", sessionID)
		Error(w, domain.ErrUpstream(err, "failed to load messages"))
		return
	}
	if history == nil {
		history = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": history})
}

// Advance moves the session to its next stage.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Advance)
}

// Abandon deactivates the session.
func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Abandon)
}

// Complete finishes a session at the final stage.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Complete)
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, sessionID, userID string) (*domain.Session, error)) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	sess, err := op(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}
