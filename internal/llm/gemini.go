package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/genai"
)

// Gemini streams completions from the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// Ensure Gemini implements Client.
var _ Client = (*Gemini)(nil)

// NewGemini creates a Gemini client for model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{client: client, model: model, temperature: 0.7}, nil
}

// Stream implements Client.
func (g *Gemini) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		cfg := &genai.GenerateContentConfig{
			Temperature: ptrFloat(g.temperature),
		}
		if req.System != "" {
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.System)}}
		}
		if decls := FunctionDeclarations(req.Tools); len(decls) > 0 {
			cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		}

		contents := ToContents(req.Turns)
		if len(contents) == 0 {
			yield(Chunk{}, domain.ErrInvalidInput("empty conversation"))
			return
		}

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				slog.Warn("Gemini stream failed", "model", g.model, "error", err)
				yield(Chunk{}, domain.ErrUpstream(err, "model request failed"))
				return
			}

			chunk := chunkFromResponse(resp)
			if chunk.Text == "" && len(chunk.ToolCalls) == 0 && chunk.Tokens == 0 {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func chunkFromResponse(resp *genai.GenerateContentResponse) Chunk {
	var chunk Chunk
	if resp == nil {
		return chunk
	}
	if resp.UsageMetadata != nil {
		chunk.Tokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return chunk
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.Text != "" {
			chunk.Text += p.Text
		}
		if p.FunctionCall != nil {
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			chunk.ToolCalls = append(chunk.ToolCalls, domain.ToolCall{Name: p.FunctionCall.Name, Input: args})
		}
	}
	return chunk
}

// ToContents converts turns into genai contents, skipping empty turns.
func ToContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := string(genai.RoleUser)
		if t.Role == domain.RoleAssistant {
			role = string(genai.RoleModel)
		}

		c := &genai.Content{Role: role}
		if t.Text != "" {
			c.Parts = append(c.Parts, genai.NewPartFromText(t.Text))
		}
		for _, call := range t.ToolCalls {
			c.Parts = append(c.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: call.Name, Args: call.Input},
			})
		}
		for _, r := range t.ToolResults {
			response := map[string]any{"output": r.Content}
			if r.IsError {
				response = map[string]any{"error": r.Content}
			}
			c.Parts = append(c.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: r.Name, Response: response},
			})
		}
		if len(c.Parts) > 0 {
			contents = append(contents, c)
		}
	}
	return contents
}

// FunctionDeclarations converts tool schemas into genai declarations. The
// JSON schema is passed through as-is.
func FunctionDeclarations(defs []mcp.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 def.Name,
			Description:          def.Description,
			ParametersJsonSchema: inputSchema(def),
		})
	}
	return decls
}

func inputSchema(def mcp.Tool) map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}

	raw, err := json.Marshal(def)
	if err != nil {
		return fallback
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil || wire.InputSchema == nil {
		return fallback
	}
	if _, ok := wire.InputSchema["properties"]; !ok {
		wire.InputSchema["properties"] = map[string]any{}
	}
	return wire.InputSchema
}

func ptrFloat(f float32) *float32 { return &f }
