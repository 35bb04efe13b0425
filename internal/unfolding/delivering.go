package unfolding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

const ToolFinalizeAdventure = "finalize_adventure"

// FinalizeAdventureTool closes out the authoring flow and tells the UI the
// adventure is ready for delivery.
type FinalizeAdventureTool struct {
	editor StateEditor
}

func (t *FinalizeAdventureTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolFinalizeAdventure,
		mcp.WithDescription("Finalize the adventure once every scene arc is inscribed. "+
			"Provide a short pitch summarizing the finished adventure."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Pitch for the finished adventure")),
	)
}

func (t *FinalizeAdventureTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary := strings.TrimSpace(req.GetString("summary", ""))
	if summary == "" {
		return requiredError("summary"), nil
	}

	res, err := apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		if missing := unwrittenArcs(st); len(missing) > 0 {
			return "", domain.ErrInvalidInput("scene arcs not yet inscribed: %s", strings.Join(missing, ", "))
		}
		name := st.AdventureName
		if name == "" && st.Spark != nil {
			name = st.Spark.Name
		}
		return fmt.Sprintf("Adventure %q finalized", name), nil
	})
	if err != nil || res.IsError {
		return res, err
	}

	tools.Emit(ctx, domain.PendingEvent{
		Type: domain.EventUIReady,
		Data: domain.ReadyData{Stage: domain.StageDelivering, Summary: summary},
	})
	return res, nil
}

func unwrittenArcs(st *domain.AdventureState) []string {
	written := make(map[string]bool, len(st.InscribedScenes))
	for _, s := range st.InscribedScenes {
		written[s.ArcID] = true
	}
	var missing []string
	for _, a := range st.SceneArcs {
		if !written[a.ID] {
			missing = append(missing, a.ID)
		}
	}
	return missing
}

// RegisterDelivering registers the delivering stage tools.
func RegisterDelivering(reg *tools.Registry, editor StateEditor) {
	finalize := &FinalizeAdventureTool{editor: editor}
	reg.Register(finalize.Definition(), finalize.Handle)
}
