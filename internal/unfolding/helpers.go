// Package unfolding holds the tool handlers for each stage of the
// Unfolding. Every handler edits the adventure state of the session bound
// to the call and reports business-level problems as tool errors so the
// model can correct itself.
package unfolding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

// StateEditor applies an edit to a session's adventure state and
// persists it. session.Service implements it.
type StateEditor interface {
	UpdateState(ctx context.Context, sessionID, userID string, fn func(*domain.Session, *domain.AdventureState) error) (*domain.AdventureState, error)
}

// editFunc mutates the state and returns the text reported to the model.
type editFunc func(sess *domain.Session, st *domain.AdventureState) (string, error)

// apply runs fn against the caller's session. Classified failures become
// tool errors; store failures are returned so the dispatcher reports them
// as handler failures.
func apply(ctx context.Context, editor StateEditor, fn editFunc) (*mcp.CallToolResult, error) {
	caller, ok := tools.CallerFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("no session is bound to this call"), nil
	}

	var text string
	_, err := editor.UpdateState(ctx, caller.SessionID, caller.UserID, func(sess *domain.Session, st *domain.AdventureState) error {
		out, err := fn(sess, st)
		text = out
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindUpstreamFailure {
			return nil, err
		}
		return mcp.NewToolResultError(domain.PublicMessage(err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// bind decodes the call arguments into dst.
func bind(req mcp.CallToolRequest, dst any) *mcp.CallToolResult {
	if err := req.BindArguments(dst); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("malformed arguments for %s: %v", req.Params.Name, err))
	}
	return nil
}

// firstMissing takes name/value pairs and returns the first name whose
// value is blank.
func firstMissing(pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return pairs[i]
		}
	}
	return ""
}

func requiredError(field string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("'%s' is required", field))
}

// cleanList trims entries and drops blanks and exact duplicates.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
