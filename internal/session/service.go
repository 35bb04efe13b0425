// Package session owns the lifecycle of Unfolding sessions: creation,
// ownership-checked loading, stage advancement, abandonment, completion,
// and edits to the per-session adventure state.
//
// Every operation returns a *domain.Error on failure; nothing panics or
// leaks raw store errors across the package boundary.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/store"
	"github.com/google/uuid"
)

// maxTitleLength bounds session titles after trimming.
const maxTitleLength = 200

// Snapshot is a session together with its adventure state.
type Snapshot struct {
	Session *domain.Session        `json:"session"`
	State   *domain.AdventureState `json:"state"`
}

// TransitionObserver is notified after a successful lifecycle change.
type TransitionObserver interface {
	SessionTransition(op string, from, to domain.Stage)
}

// Service is the session state machine.
type Service struct {
	repo     store.SessionRepository
	observer TransitionObserver
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a session service on top of repo.
func NewService(repo store.SessionRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetObserver installs an optional transition observer (metrics).
func (s *Service) SetObserver(obs TransitionObserver) { s.observer = obs }

func (s *Service) notify(op string, from, to domain.Stage) {
	if s.observer != nil {
		s.observer.SessionTransition(op, from, to)
	}
}

func (s *Service) upstream(err error, op, sessionID string) *domain.Error {
	s.logger.Error("session store failure", "op", op, "session_id", sessionID, "error", err)
	return domain.ErrUpstream(err, "failed to %s session", op)
}

// Create starts a new session at the initial stage with an empty state.
func (s *Service) Create(ctx context.Context, userID, title string) (*Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.NewError(domain.KindUnauthorized, "caller identity is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.ErrInvalidInput("title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return nil, domain.ErrInvalidInput("title must be at most %d characters", maxTitleLength)
	}

	active, err := s.repo.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, s.upstream(err, "create", "")
	}
	if active != nil {
		return nil, domain.ErrConflict("an active session already exists")
	}

	now := s.now()
	sess := &domain.Session{
		ID:        s.newID(),
		UserID:    userID,
		Title:     title,
		Stage:     domain.InitialStage(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	state := domain.NewAdventureState(sess.ID)

	if err := s.repo.CreateSession(ctx, sess, state); err != nil {
		// A concurrent create can still win the unique index race.
		if errors.Is(err, store.ErrActiveSessionExists) {
			return nil, domain.ErrConflict("an active session already exists")
		}
		return nil, s.upstream(err, "create", sess.ID)
	}

	s.logger.Info("Session created", "session_id", sess.ID, "user_id", userID)
	s.notify("create", "", sess.Stage)
	return &Snapshot{Session: sess, State: state}, nil
}

// Load returns the session and its state. Sessions owned by another user
// are reported as not found.
func (s *Service) Load(ctx context.Context, sessionID, userID string) (*Snapshot, error) {
	if sessionID == "" || userID == "" {
		return nil, domain.ErrNotFound("session not found")
	}

	sess, err := s.repo.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, s.upstream(err, "load", sessionID)
	}
	if !sess.OwnedBy(userID) {
		return nil, domain.ErrNotFound("session not found")
	}

	state, err := s.repo.GetState(ctx, sessionID)
	if err != nil {
		return nil, s.upstream(err, "load", sessionID)
	}
	if state == nil {
		s.logger.Warn("Session has no state row", "session_id", sessionID)
		return nil, domain.ErrNotFound("session not found")
	}

	return &Snapshot{Session: sess, State: state}, nil
}

// List returns all sessions of a user, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.Session, error) {
	if userID == "" {
		return nil, domain.NewError(domain.KindUnauthorized, "caller identity is required")
	}
	sessions, err := s.repo.ListSessions(ctx, userID)
	if err != nil {
		return nil, s.upstream(err, "list", "")
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	return sessions, nil
}

// ActiveSession returns the user's active session.
func (s *Service) ActiveSession(ctx context.Context, userID string) (*Snapshot, error) {
	sess, err := s.repo.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, s.upstream(err, "load", "")
	}
	if sess == nil {
		return nil, domain.ErrNotFound("no active session")
	}
	return s.Load(ctx, sess.ID, userID)
}

// Abandon deactivates a session regardless of stage. Abandoning an
// already inactive session succeeds.
func (s *Service) Abandon(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	snap, err := s.Load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Deactivate(ctx, sessionID, userID, ""); err != nil {
		return nil, s.upstream(err, "abandon", sessionID)
	}

	sess := *snap.Session
	sess.IsActive = false
	sess.UpdatedAt = s.now()
	s.logger.Info("Session abandoned", "session_id", sessionID, "user_id", userID, "stage", sess.Stage)
	s.notify("abandon", sess.Stage, sess.Stage)
	return &sess, nil
}

// Advance moves an active session to the next stage.
func (s *Service) Advance(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	snap, err := s.Load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	current := snap.Session

	if !current.IsActive {
		return nil, domain.ErrInvalidTransition("inactive session")
	}
	next, ok := domain.NextStage(current.Stage)
	if !ok {
		return nil, domain.ErrInvalidTransition("final stage")
	}

	if err := s.repo.UpdateStage(ctx, sessionID, userID, current.Stage, next); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return nil, domain.ErrInvalidTransition("stage changed concurrently")
		}
		return nil, s.upstream(err, "advance", sessionID)
	}

	sess := *current
	sess.Stage = next
	sess.UpdatedAt = s.now()
	s.logger.Info("Session advanced", "session_id", sessionID, "from", current.Stage, "to", next)
	s.notify("advance", current.Stage, next)
	return &sess, nil
}

// Complete deactivates a session that has reached the final stage.
func (s *Service) Complete(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	snap, err := s.Load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	current := snap.Session

	if !current.IsActive {
		return nil, domain.ErrInvalidTransition("inactive session")
	}
	if !current.Stage.IsFinal() {
		return nil, domain.ErrInvalidTransition("session must reach %s before completing", domain.FinalStage())
	}

	if err := s.repo.Deactivate(ctx, sessionID, userID, domain.FinalStage()); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return nil, domain.ErrInvalidTransition("session changed concurrently")
		}
		return nil, s.upstream(err, "complete", sessionID)
	}

	sess := *current
	sess.IsActive = false
	sess.UpdatedAt = s.now()
	s.logger.Info("Session completed", "session_id", sessionID, "user_id", userID)
	s.notify("complete", current.Stage, current.Stage)
	return &sess, nil
}

// UpdateState applies fn to the session's adventure state and persists the
// result. fn may return a *domain.Error to reject the edit; nothing is
// written in that case.
func (s *Service) UpdateState(ctx context.Context, sessionID, userID string, fn func(*domain.Session, *domain.AdventureState) error) (*domain.AdventureState, error) {
	snap, err := s.Load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !snap.Session.IsActive {
		return nil, domain.ErrInvalidTransition("inactive session")
	}

	if err := fn(snap.Session, snap.State); err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, derr
		}
		return nil, domain.WrapError(domain.KindHandlerError, err, "state edit rejected")
	}

	if err := s.repo.PutState(ctx, snap.State); err != nil {
		return nil, s.upstream(err, "update", sessionID)
	}
	return snap.State, nil
}
