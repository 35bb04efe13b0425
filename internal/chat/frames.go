// Package chat runs streaming authoring turns over WebSocket.
package chat

import "github.com/ashureev/unfolding/internal/domain"

// Frame types exchanged over the socket.
const (
	TypeSend      = "chat:send"
	TypePing      = "ping"
	TypeConnected = "connected"
	TypeStart     = "stream:start"
	TypeChunk     = "stream:chunk"
	TypeEnd       = "stream:end"
	TypeError     = "error"
	TypePong      = "pong"
)

// ClientFrame is a client to server message.
type ClientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Frame is a server to client message. Tool events are forwarded with
// their own Type and the payload in Data.
type Frame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ErrorFrame builds the client-safe error frame for err.
func ErrorFrame(sessionID string, err error) Frame {
	return Frame{
		Type:      TypeError,
		SessionID: sessionID,
		Kind:      string(domain.KindOf(err)),
		Message:   domain.PublicMessage(err),
	}
}

// EventFrame wraps a drained tool event.
func EventFrame(sessionID string, ev domain.PendingEvent) Frame {
	return Frame{Type: ev.Type, SessionID: sessionID, Data: ev.Data}
}
