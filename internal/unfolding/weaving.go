package unfolding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	ToolSetSceneArcs   = "set_scene_arcs"
	ToolUpdateSceneArc = "update_scene_arc"
)

// maxSceneArcs bounds a single plan.
const maxSceneArcs = 12

var arcSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":          map[string]any{"type": "string", "description": "Stable id; generated when omitted"},
		"title":       map[string]any{"type": "string"},
		"sceneType":   map[string]any{"type": "string", "description": "e.g. combat, social, exploration, puzzle"},
		"description": map[string]any{"type": "string"},
		"location":    map[string]any{"type": "string"},
	},
	"required": []string{"title"},
}

// SetSceneArcsTool replaces the scene plan.
type SetSceneArcsTool struct {
	editor StateEditor
}

func (t *SetSceneArcsTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolSetSceneArcs,
		mcp.WithDescription("Lay out the scene arcs of the adventure in play order. Replaces the current plan; "+
			"keep ids stable for arcs that survive a revision."),
		mcp.WithArray("arcs", mcp.Required(), mcp.Items(arcSchema), mcp.Description("Scene arcs in order")),
	)
}

func (t *SetSceneArcsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in struct {
		Arcs []domain.SceneArc `json:"arcs"`
	}
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	if len(in.Arcs) == 0 {
		return requiredError("arcs"), nil
	}
	if len(in.Arcs) > maxSceneArcs {
		return mcp.NewToolResultError(fmt.Sprintf("at most %d scene arcs are allowed, got %d", maxSceneArcs, len(in.Arcs))), nil
	}

	arcs := make([]domain.SceneArc, 0, len(in.Arcs))
	seen := make(map[string]bool, len(in.Arcs))
	for i, a := range in.Arcs {
		a = trimArc(a)
		if a.Title == "" {
			return mcp.NewToolResultError(fmt.Sprintf("arc %d: 'title' is required", i+1)), nil
		}
		if a.ID == "" {
			a.ID = nextArcID(seen, len(arcs)+1)
		}
		if seen[a.ID] {
			return mcp.NewToolResultError(fmt.Sprintf("arc %d: duplicate id %q", i+1, a.ID)), nil
		}
		seen[a.ID] = true
		arcs = append(arcs, a)
	}

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		st.RecordVersion("sceneArcs", st.SceneArcs)
		st.SceneArcs = arcs
		ids := make([]string, len(arcs))
		for i, a := range arcs {
			ids[i] = a.ID
		}
		return fmt.Sprintf("%d scene arcs woven: %s", len(arcs), strings.Join(ids, ", ")), nil
	})
}

// UpdateSceneArcTool edits a single arc in place.
type UpdateSceneArcTool struct {
	editor StateEditor
}

func (t *UpdateSceneArcTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolUpdateSceneArc,
		mcp.WithDescription("Revise one scene arc. Only the fields provided are changed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the arc to revise")),
		mcp.WithString("title"),
		mcp.WithString("sceneType"),
		mcp.WithString("description"),
		mcp.WithString("location"),
	)
}

func (t *UpdateSceneArcTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in domain.SceneArc
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	in = trimArc(in)
	if in.ID == "" {
		return requiredError("id"), nil
	}
	if in.Title == "" && in.SceneType == "" && in.Description == "" && in.Location == "" {
		return mcp.NewToolResultError("nothing to update; provide at least one of title, sceneType, description, location"), nil
	}

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		idx := st.FindArc(in.ID)
		if idx < 0 {
			return "", domain.ErrInvalidInput("no scene arc with id %q", in.ID)
		}
		prev := st.SceneArcs[idx]
		st.RecordVersion("sceneArcs."+in.ID, prev)

		next := prev
		if in.Title != "" {
			next.Title = in.Title
		}
		if in.SceneType != "" {
			next.SceneType = in.SceneType
		}
		if in.Description != "" {
			next.Description = in.Description
		}
		if in.Location != "" {
			next.Location = in.Location
		}
		st.SceneArcs[idx] = next
		return fmt.Sprintf("Scene arc %s updated", in.ID), nil
	})
}

func trimArc(a domain.SceneArc) domain.SceneArc {
	return domain.SceneArc{
		ID:          strings.TrimSpace(a.ID),
		Title:       strings.TrimSpace(a.Title),
		SceneType:   strings.TrimSpace(a.SceneType),
		Description: strings.TrimSpace(a.Description),
		Location:    strings.TrimSpace(a.Location),
	}
}

func nextArcID(taken map[string]bool, n int) string {
	for {
		id := fmt.Sprintf("arc-%d", n)
		if !taken[id] {
			return id
		}
		n++
	}
}

// RegisterWeaving registers the weaving stage tools.
func RegisterWeaving(reg *tools.Registry, editor StateEditor) {
	set := &SetSceneArcsTool{editor: editor}
	reg.Register(set.Definition(), set.Handle)

	update := &UpdateSceneArcTool{editor: editor}
	reg.Register(update.Definition(), update.Handle)
}
