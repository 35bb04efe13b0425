package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/unfolding/internal/domain"
)

type fakeUsers struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	touched  int
	failRead error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]*domain.User)}
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead != nil {
		return nil, f.failRead
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.UserID] = &cp
	return nil
}

func (f *fakeUsers) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	if u, ok := f.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func serve(t *testing.T, repo *fakeUsers, cookie *http.Cookie) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	Middleware(repo, true)(next).ServeHTTP(w, req)
	return w, seen
}

func TestMiddleware_IssuesIdentity(t *testing.T) {
	repo := newFakeUsers()
	w, userID := serve(t, repo, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if !IsValidAnonID(userID) {
		t.Fatalf("invalid id in context: %q", userID)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != userID {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatal("dev mode cookie should not be Secure")
	}
	if _, ok := repo.users[userID]; !ok {
		t.Fatal("user row not created")
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	repo := newFakeUsers()
	id, err := NewAnonID()
	if err != nil {
		t.Fatal(err)
	}
	repo.users[id] = &domain.User{UserID: id, LastSeenAt: time.Now()}

	_, userID := serve(t, repo, &http.Cookie{Name: AnonCookieName, Value: id})
	if userID != id {
		t.Fatalf("user id = %q, want %q", userID, id)
	}
	if repo.touched != 0 {
		t.Fatal("recently seen user should not be touched")
	}

	repo.users[id].LastSeenAt = time.Now().Add(-5 * time.Minute)
	serve(t, repo, &http.Cookie{Name: AnonCookieName, Value: id})
	if repo.touched != 1 {
		t.Fatalf("idle user should be touched once, got %d", repo.touched)
	}
}

func TestMiddleware_ReplacesForgedCookie(t *testing.T) {
	repo := newFakeUsers()
	_, userID := serve(t, repo, &http.Cookie{Name: AnonCookieName, Value: "anon_../../etc"})
	if userID == "anon_../../etc" || !IsValidAnonID(userID) {
		t.Fatalf("forged cookie accepted: %q", userID)
	}
}

func TestMiddleware_StoreFailure(t *testing.T) {
	repo := newFakeUsers()
	repo.failRead = errors.New("database is locked")

	w, _ := serve(t, repo, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestWithUser(t *testing.T) {
	ctx := WithUser(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	if UserIDFromContext(ctx) == "" {
		t.Fatal("user id missing")
	}
	if got := UsernameFromContext(ctx); got != "anon-89abcdef" {
		t.Fatalf("username = %q", got)
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Fatal("empty context should carry no user")
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Fatalf("ip = %q", got)
	}
	req.RemoteAddr = "weird"
	if got := IPFromRequest(req); got != "weird" {
		t.Fatalf("ip = %q", got)
	}
}
