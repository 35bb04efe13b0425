// Package chatclient is a reconnecting WebSocket client for the chat
// endpoint.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/unfolding/internal/chat"
	"github.com/ashureev/unfolding/internal/domain"
	"github.com/coder/websocket"
)

// Status is the connection state reported through OnStatus.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusStreaming    Status = "streaming"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// DefaultReconnectInterval is the wait between reconnect attempts.
const DefaultReconnectInterval = time.Second

// maxReplies bounds the accumulated replies kept for Reply.
const maxReplies = 32

var (
	ErrNotConnected   = errors.New("chat client is not connected")
	ErrAlreadyStarted = errors.New("chat client already started")
)

// Options configures a Client.
type Options struct {
	URL               string
	Header            http.Header
	ReconnectInterval time.Duration
	OnStatus          func(Status)
	OnFrame           func(chat.Frame)
	Logger            *slog.Logger
}

// Client keeps a chat socket open, reconnecting after abnormal closures.
// A normal closure (1000) from either side is terminal.
type Client struct {
	opts Options

	mu        sync.Mutex
	conn      *websocket.Conn
	status    Status
	streaming bool
	stopped   bool
	current   string
	replies   map[string]*strings.Builder
	order     []string // reply ids, oldest first
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a client. Call Connect to start it.
func New(opts Options) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		status:  StatusDisconnected,
		replies: make(map[string]*strings.Builder),
	}
}

// Connect starts the connection loop in the background. It returns
// immediately; progress is reported through OnStatus.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Disconnect closes the socket with a normal closure and stops
// reconnecting. It blocks until the connection loop has exited.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	conn, cancel, done := c.conn, c.cancel, c.done
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			c.opts.Logger.Debug("Chat close handshake failed", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.setStatus(StatusDisconnected)
}

// Send submits a chat turn. Blank content is rejected without a round trip.
func (c *Client) Send(ctx context.Context, sessionID, content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.ErrInvalidInput("content is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.ErrInvalidInput("sessionId is required")
	}
	return c.write(ctx, chat.ClientFrame{Type: chat.TypeSend, SessionID: sessionID, Content: content})
}

// Ping sends a heartbeat frame.
func (c *Client) Ping(ctx context.Context) error {
	return c.write(ctx, chat.ClientFrame{Type: chat.TypePing})
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsStreaming reports whether a reply is being streamed.
func (c *Client) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Reply returns the text accumulated so far for messageID. Only the most
// recent replies are kept.
func (c *Client) Reply(messageID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.replies[messageID]; ok {
		return b.String()
	}
	return ""
}

func (c *Client) write(ctx context.Context, f chat.ClientFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	c.setStatus(StatusConnecting)
	for {
		conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{HTTPHeader: c.opts.Header})
		switch {
		case err == nil:
			if c.serve(ctx, conn) {
				c.setStatus(StatusDisconnected)
				return
			}
		case ctx.Err() != nil || c.isStopped():
			c.setStatus(StatusDisconnected)
			return
		default:
			c.opts.Logger.Debug("Chat dial failed", "url", c.opts.URL, "error", err)
		}

		c.setStatus(StatusReconnecting)
		timer := time.NewTimer(c.opts.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(StatusDisconnected)
			return
		case <-timer.C:
		}
	}
}

// serve reads frames until the socket closes. It reports true when the
// closure is terminal.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return true
	}
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.streaming = false
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isStopped() {
				return true
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.opts.Logger.Info("Chat connection closed by server")
				return true
			}
			c.opts.Logger.Warn("Chat connection lost", "error", err)
			return false
		}

		var f chat.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.opts.Logger.Debug("Ignoring malformed frame", "error", err)
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f chat.Frame) {
	var next Status
	c.mu.Lock()
	switch f.Type {
	case chat.TypeStart:
		c.streaming = true
		c.current = f.MessageID
		c.startReply(f.MessageID)
		next = StatusStreaming
	case chat.TypeChunk:
		if b, ok := c.replies[c.current]; ok {
			b.WriteString(f.Content)
		}
	case chat.TypeEnd:
		c.streaming = false
		c.current = ""
		next = StatusConnected
	}
	c.mu.Unlock()

	if next != "" {
		c.setStatus(next)
	}
	if c.opts.OnFrame != nil {
		c.opts.OnFrame(f)
	}
}

// startReply must be called with c.mu held.
func (c *Client) startReply(id string) {
	if _, ok := c.replies[id]; !ok {
		c.order = append(c.order, id)
	}
	c.replies[id] = &strings.Builder{}
	for len(c.order) > maxReplies {
		delete(c.replies, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}
