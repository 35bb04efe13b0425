// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
)

var (
	// ErrActiveSessionExists is returned by CreateSession when the user
	// already owns an active session.
	ErrActiveSessionExists = errors.New("active session already exists")

	// ErrStaleWrite is returned when a conditional update matched no row
	// because the stored value changed since it was read.
	ErrStaleWrite = errors.New("optimistic lock failed: row changed since read")
)

// UserRepository persists anonymous caller identities.
type UserRepository interface {
	// GetUser retrieves a user by ID. Returns (nil, nil) when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// SessionRepository persists sessions and their adventure state. Every
// session lookup is scoped by owner.
type SessionRepository interface {
	// CreateSession inserts the session and its initial state in a single
	// transaction. Returns ErrActiveSessionExists if the user already has
	// an active session.
	CreateSession(ctx context.Context, session *domain.Session, state *domain.AdventureState) error

	// GetSession returns the session owned by userID. Returns (nil, nil)
	// when no such row exists.
	GetSession(ctx context.Context, sessionID, userID string) (*domain.Session, error)

	// GetActiveSession returns the user's active session or (nil, nil).
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)

	// ListSessions returns all sessions of a user, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// UpdateStage moves an active session from one stage to another.
	// Returns ErrStaleWrite if the stored stage is no longer from or the
	// session is no longer active.
	UpdateStage(ctx context.Context, sessionID, userID string, from, to domain.Stage) error

	// Deactivate clears is_active. With an empty requireStage the update is
	// unconditional; otherwise it only applies to an active session at
	// requireStage and returns ErrStaleWrite when nothing matched.
	Deactivate(ctx context.Context, sessionID, userID string, requireStage domain.Stage) error

	// GetState returns the raw-decoded state for a session or (nil, nil).
	GetState(ctx context.Context, sessionID string) (*domain.AdventureState, error)

	// PutState replaces the state document and touches the session's
	// updated_at.
	PutState(ctx context.Context, state *domain.AdventureState) error
}

// MessageRepository persists chat history.
type MessageRepository interface {
	// AppendMessage stores a message at the end of the session history.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns the full history, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// Repository is the complete row store.
type Repository interface {
	UserRepository
	SessionRepository
	MessageRepository

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
