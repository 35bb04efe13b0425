// Package llm streams completions with function calling from the upstream
// language model.
package llm

import (
	"context"
	"iter"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolResult is the outcome of a tool call fed back to the model.
type ToolResult struct {
	Name    string
	Content string
	IsError bool
}

// Turn is one entry of the conversation sent upstream. A model turn may
// carry tool calls; the following user turn then carries their results.
type Turn struct {
	Role        domain.Role
	Text        string
	ToolCalls   []domain.ToolCall
	ToolResults []ToolResult
}

// Request is a single streaming completion request.
type Request struct {
	System string
	Turns  []Turn
	Tools  []mcp.Tool
}

// Chunk is one increment of a streamed response. Text chunks arrive in
// generation order; tool calls are delivered as they are decoded.
type Chunk struct {
	Text      string
	ToolCalls []domain.ToolCall
	// Tokens is the output token count reported so far, or 0.
	Tokens int
}

// Client streams model output.
type Client interface {
	// Stream sends req and yields chunks until the model finishes. Errors
	// end the sequence.
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// ResultNotRetained is replayed for tool calls persisted without a result.
const ResultNotRetained = "result not retained"

// TurnsFromHistory converts persisted messages into upstream turns.
// Tool calls recorded on an assistant message are replayed with their
// recorded result so the model sees a well-formed exchange.
func TurnsFromHistory(history []domain.Message) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, m := range history {
		turn := Turn{Role: m.Role, Text: m.Content}
		if m.Role == domain.RoleAssistant && len(m.ToolCalls) > 0 {
			turn.ToolCalls = m.ToolCalls
			turns = append(turns, turn)

			results := make([]ToolResult, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				content := c.Result
				if content == "" {
					content = ResultNotRetained
				}
				results[i] = ToolResult{Name: c.Name, Content: content, IsError: c.IsError}
			}
			turns = append(turns, Turn{Role: domain.RoleUser, ToolResults: results})
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}
