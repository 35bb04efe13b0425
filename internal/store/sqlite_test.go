package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "unfolding.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newSession(id, userID string, at time.Time) *domain.Session {
	return &domain.Session{
		ID:        id,
		UserID:    userID,
		Title:     "Title " + id,
		Stage:     domain.InitialStage(),
		IsActive:  true,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestSQLite_CreateAndGetSession(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := newSession("s1", "u1", now)
	if err := repo.CreateSession(ctx, sess, domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "s1", "u1")
	if err != nil || got == nil {
		t.Fatalf("GetSession = %v, %v", got, err)
	}
	if got.Stage != domain.StageInvoking || !got.IsActive || got.Title != "Title s1" {
		t.Errorf("unexpected session: %+v", got)
	}

	state, err := repo.GetState(ctx, "s1")
	if err != nil || state == nil {
		t.Fatalf("GetState = %v, %v", state, err)
	}
	if state.SceneArcs == nil {
		t.Error("state should be default-filled")
	}
}

func TestSQLite_GetSessionEnforcesOwnership(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateSession(ctx, newSession("s1", "u1", time.Now()), domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "s1", "intruder")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for foreign owner, got %+v", got)
	}
}

func TestSQLite_OneActiveSessionPerUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateSession(ctx, newSession("s1", "u1", time.Now()), domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	err := repo.CreateSession(ctx, newSession("s2", "u1", time.Now()), domain.NewAdventureState("s2"))
	if !errors.Is(err, ErrActiveSessionExists) {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}

	// The failed create must not leave an orphan state row.
	if st, err := repo.GetState(ctx, "s2"); err != nil || st != nil {
		t.Fatalf("expected no state for s2, got %v, %v", st, err)
	}

	// Another user is unaffected.
	if err := repo.CreateSession(ctx, newSession("s3", "u2", time.Now()), domain.NewAdventureState("s3")); err != nil {
		t.Fatalf("CreateSession for other user failed: %v", err)
	}

	if err := repo.Deactivate(ctx, "s1", "u1", ""); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if err := repo.CreateSession(ctx, newSession("s4", "u1", time.Now()), domain.NewAdventureState("s4")); err != nil {
		t.Fatalf("CreateSession after deactivate failed: %v", err)
	}
}

func TestSQLite_UpdateStageIsCompareAndSwap(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateSession(ctx, newSession("s1", "u1", time.Now()), domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := repo.UpdateStage(ctx, "s1", "u1", domain.StageInvoking, domain.StageAttuning); err != nil {
		t.Fatalf("UpdateStage failed: %v", err)
	}
	// A second writer that read the old stage loses.
	if err := repo.UpdateStage(ctx, "s1", "u1", domain.StageInvoking, domain.StageAttuning); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	got, _ := repo.GetSession(ctx, "s1", "u1")
	if got.Stage != domain.StageAttuning {
		t.Errorf("stage = %s, want attuning", got.Stage)
	}
}

func TestSQLite_DeactivateWithRequiredStage(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateSession(ctx, newSession("s1", "u1", time.Now()), domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := repo.Deactivate(ctx, "s1", "u1", domain.StageDelivering); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite for wrong stage, got %v", err)
	}
	if err := repo.Deactivate(ctx, "s1", "u1", domain.StageInvoking); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if err := repo.Deactivate(ctx, "s1", "u1", domain.StageInvoking); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("second conditional deactivate should fail, got %v", err)
	}
	// Unconditional deactivate is idempotent.
	if err := repo.Deactivate(ctx, "s1", "u1", ""); err != nil {
		t.Fatalf("unconditional deactivate failed: %v", err)
	}
}

func TestSQLite_ListSessionsMostRecentFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		sess := newSession(id, "u1", base.Add(time.Duration(i)*time.Minute))
		sess.IsActive = false
		if err := repo.CreateSession(ctx, sess, domain.NewAdventureState(id)); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", id, err)
		}
	}

	list, err := repo.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		ids := make([]string, len(list))
		for i, s := range list {
			ids[i] = s.ID
		}
		t.Fatalf("unexpected order: %v", ids)
	}

	empty, err := repo.ListSessions(ctx, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", empty, err)
	}
}

func TestSQLite_PutStateTouchesSession(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)
	if err := repo.CreateSession(ctx, newSession("s1", "u1", created), domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	state := domain.NewAdventureState("s1")
	state.AdventureName = "The Lantern Road"
	if err := repo.PutState(ctx, state); err != nil {
		t.Fatalf("PutState failed: %v", err)
	}

	got, _ := repo.GetState(ctx, "s1")
	if got.AdventureName != "The Lantern Road" {
		t.Errorf("adventure name = %q", got.AdventureName)
	}
	sess, _ := repo.GetSession(ctx, "s1", "u1")
	if !sess.UpdatedAt.After(created) {
		t.Errorf("updated_at not touched: %v", sess.UpdatedAt)
	}

	if err := repo.PutState(ctx, domain.NewAdventureState("missing")); err == nil {
		t.Error("PutState for unknown session should fail")
	}
}

func TestSQLite_Messages(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	if err := repo.CreateSession(ctx, newSession("s1", "u1", time.Now()), domain.NewAdventureState("s1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	at := time.Now()
	tokens := 12
	msgs := []*domain.Message{
		{ID: "m1", SessionID: "s1", Role: domain.RoleUser, Content: "hello", CreatedAt: at},
		{ID: "m2", SessionID: "s1", Role: domain.RoleAssistant, Content: "hi", CreatedAt: at, TokenCount: &tokens,
			ToolCalls: []domain.ToolCall{{Name: "set_spark", Input: map[string]any{"name": "Ember"}}}},
	}
	for _, m := range msgs {
		if err := repo.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage(%s) failed: %v", m.ID, err)
		}
	}

	got, err := repo.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", got)
	}
	if got[1].TokenCount == nil || *got[1].TokenCount != 12 {
		t.Errorf("token count = %v", got[1].TokenCount)
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Input["name"] != "Ember" {
		t.Errorf("tool calls = %+v", got[1].ToolCalls)
	}
	if got[0].ToolCalls != nil {
		t.Errorf("expected nil tool calls, got %+v", got[0].ToolCalls)
	}
}

func TestSQLite_Users(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if u, err := repo.GetUser(ctx, "anon"); err != nil || u != nil {
		t.Fatalf("expected nil user, got %v, %v", u, err)
	}

	now := time.Now()
	if err := repo.UpsertUser(ctx, &domain.User{UserID: "anon", Username: "anon-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	later := now.Add(time.Minute)
	if err := repo.UpdateLastSeen(ctx, "anon", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}
	u, err := repo.GetUser(ctx, "anon")
	if err != nil || u == nil {
		t.Fatalf("GetUser = %v, %v", u, err)
	}
	if u.LastSeenAt.UnixMilli() != later.UnixMilli() {
		t.Errorf("last seen = %v, want %v", u.LastSeenAt, later)
	}
}
