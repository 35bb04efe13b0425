package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/unfolding/internal/chat"
	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/identity"
	"github.com/coder/websocket"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeServer speaks the chat protocol. closeWith, when non-zero, closes
// the first accepted socket with that status right after the connected
// frame.
type fakeServer struct {
	accepts   atomic.Int64
	closeWith websocket.StatusCode
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	n := s.accepts.Add(1)

	ctx := r.Context()
	send := func(f chat.Frame) error {
		data, _ := json.Marshal(f)
		return conn.Write(ctx, websocket.MessageText, data)
	}
	if send(chat.Frame{Type: chat.TypeConnected}) != nil {
		return
	}
	if s.closeWith != 0 && n == 1 {
		_ = conn.Close(s.closeWith, "test closure")
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var in chat.ClientFrame
		_ = json.Unmarshal(data, &in)
		switch in.Type {
		case chat.TypePing:
			_ = send(chat.Frame{Type: chat.TypePong})
		case chat.TypeSend:
			_ = send(chat.Frame{Type: chat.TypeStart, SessionID: in.SessionID, MessageID: "m1"})
			for _, part := range strings.SplitAfter(in.Content, " ") {
				_ = send(chat.Frame{Type: chat.TypeChunk, SessionID: in.SessionID, Content: part})
			}
			_ = send(chat.Frame{Type: chat.TypeEnd, SessionID: in.SessionID, MessageID: "m1"})
		}
	}
}

type statusLog chan Status

func (l statusLog) record(s Status) {
	select {
	case l <- s:
	default:
	}
}

func (l statusLog) waitFor(t *testing.T, want Status) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-l:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func start(t *testing.T, srv *httptest.Server, frames chan chat.Frame) (*Client, statusLog) {
	t.Helper()
	log := make(statusLog, 64)
	c := New(Options{
		URL:               wsURL(srv),
		ReconnectInterval: 20 * time.Millisecond,
		OnStatus:          log.record,
		OnFrame: func(f chat.Frame) {
			if frames != nil {
				select {
				case frames <- f:
				default:
				}
			}
		},
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, log
}

func TestClient_StreamAccumulatesChunks(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	t.Cleanup(srv.Close)

	frames := make(chan chat.Frame, 32)
	c, log := start(t, srv, frames)
	log.waitFor(t, StatusConnected)

	if err := c.Send(context.Background(), "s1", "the bell tolls"); err != nil {
		t.Fatalf("send: %v", err)
	}
	log.waitFor(t, StatusStreaming)
	log.waitFor(t, StatusConnected)

	if got := c.Reply("m1"); got != "the bell tolls" {
		t.Fatalf("reply = %q", got)
	}
	if c.IsStreaming() {
		t.Fatal("streaming should be over")
	}

	c.Disconnect()
	if c.Status() != StatusDisconnected {
		t.Fatalf("status = %q after Disconnect", c.Status())
	}
}

func TestClient_SendValidation(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})

	err := c.Send(context.Background(), "s1", "   ")
	if domain.KindOf(err) != domain.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := c.Send(context.Background(), "s1", "hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("initial status = %q", c.Status())
	}
}

func TestClient_ReconnectsAfterAbnormalClosure(t *testing.T) {
	fs := &fakeServer{closeWith: websocket.StatusInternalError}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	c, log := start(t, srv, nil)
	log.waitFor(t, StatusConnected)
	log.waitFor(t, StatusReconnecting)
	log.waitFor(t, StatusConnected)

	if fs.accepts.Load() < 2 {
		t.Fatalf("accepts = %d, want a reconnect", fs.accepts.Load())
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping after reconnect: %v", err)
	}
}

func TestClient_NormalClosureIsTerminal(t *testing.T) {
	fs := &fakeServer{closeWith: websocket.StatusNormalClosure}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	c, log := start(t, srv, nil)
	log.waitFor(t, StatusDisconnected)

	time.Sleep(100 * time.Millisecond)
	if fs.accepts.Load() != 1 {
		t.Fatalf("accepts = %d, expected no reconnect", fs.accepts.Load())
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("status = %q", c.Status())
	}
}

func TestClient_DisconnectStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	log := make(statusLog, 64)
	c := New(Options{URL: url, ReconnectInterval: 10 * time.Millisecond, OnStatus: log.record})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	log.waitFor(t, StatusReconnecting)

	c.Disconnect()
	if c.Status() != StatusDisconnected {
		t.Fatalf("status = %q", c.Status())
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

type idleTurns struct{}

func (idleTurns) RunTurn(context.Context, string, string, string, chat.Emitter) error { return nil }

func TestClient_ReconnectsAfterServerShutdown(t *testing.T) {
	conns := chat.NewConnectionRegistry()
	h := chat.NewHandler(idleTurns{}, conns, "*", true)
	var accepts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepts.Add(1)
		h.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), "u1")))
	}))
	t.Cleanup(srv.Close)

	c, log := start(t, srv, nil)
	log.waitFor(t, StatusConnected)
	deadline := time.Now().Add(5 * time.Second)
	for conns.Count("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	conns.CloseAll("server shutdown")
	log.waitFor(t, StatusReconnecting)
	log.waitFor(t, StatusConnected)

	if accepts.Load() < 2 {
		t.Fatalf("accepts = %d, want a reconnect after shutdown", accepts.Load())
	}
	if c.Status() == StatusDisconnected {
		t.Fatal("client gave up after server shutdown")
	}
}

func TestClient_ReplyBookkeeping(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})

	c.handle(chat.Frame{Type: chat.TypeStart, MessageID: "m1"})
	c.handle(chat.Frame{Type: chat.TypeChunk, Content: "bell"})
	c.handle(chat.Frame{Type: chat.TypeEnd, MessageID: "m1"})
	c.handle(chat.Frame{Type: chat.TypeChunk, Content: " stray"})
	if got := c.Reply("m1"); got != "bell" {
		t.Fatalf("reply = %q, chunk after end must be ignored", got)
	}

	for i := range maxReplies + 5 {
		id := fmt.Sprintf("n%d", i)
		c.handle(chat.Frame{Type: chat.TypeStart, MessageID: id})
		c.handle(chat.Frame{Type: chat.TypeEnd, MessageID: id})
	}
	c.mu.Lock()
	kept, order := len(c.replies), len(c.order)
	c.mu.Unlock()
	if kept != maxReplies || order != maxReplies {
		t.Fatalf("kept %d replies (%d ordered), want %d", kept, order, maxReplies)
	}
	if c.Reply("m1") != "" {
		t.Fatal("oldest reply should have been pruned")
	}
}
