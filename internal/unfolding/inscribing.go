package unfolding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

const ToolInscribeScene = "inscribe_scene"

// InscribeSceneTool writes the full content of one planned scene.
type InscribeSceneTool struct {
	editor StateEditor
}

func (t *InscribeSceneTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolInscribeScene,
		mcp.WithDescription("Inscribe a scene arc in full: narrative, NPCs, adversaries, and items. "+
			"Inscribing the same arc again replaces the earlier version."),
		mcp.WithString("arcId", mcp.Required(), mcp.Description("Id of the scene arc being inscribed")),
		mcp.WithString("title", mcp.Description("Scene title; defaults to the arc title")),
		mcp.WithString("narrative", mcp.Required(), mcp.Description("Read-aloud and GM-facing narrative")),
		mcp.WithArray("npcs", mcp.WithStringItems()),
		mcp.WithArray("adversaries", mcp.WithStringItems()),
		mcp.WithArray("items", mcp.WithStringItems()),
	)
}

func (t *InscribeSceneTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in domain.InscribedScene
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	if missing := firstMissing("arcId", in.ArcID, "narrative", in.Narrative); missing != "" {
		return requiredError(missing), nil
	}

	scene := domain.InscribedScene{
		ArcID:       strings.TrimSpace(in.ArcID),
		Title:       strings.TrimSpace(in.Title),
		Narrative:   strings.TrimSpace(in.Narrative),
		NPCs:        cleanList(in.NPCs),
		Adversaries: cleanList(in.Adversaries),
		Items:       cleanList(in.Items),
	}

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		idx := st.FindArc(scene.ArcID)
		if idx < 0 {
			return "", domain.ErrInvalidInput("no scene arc with id %q; weave it first", scene.ArcID)
		}
		if scene.Title == "" {
			scene.Title = st.SceneArcs[idx].Title
		}
		if prev := st.UpsertInscribed(scene); prev != nil {
			st.RecordVersion("inscribedScenes."+scene.ArcID, prev)
		}
		return fmt.Sprintf("Scene %q inscribed (%d of %d arcs)", scene.Title, len(st.InscribedScenes), len(st.SceneArcs)), nil
	})
}

// RegisterInscribing registers the inscribing stage tools.
func RegisterInscribing(reg *tools.Registry, editor StateEditor) {
	inscribe := &InscribeSceneTool{editor: editor}
	reg.Register(inscribe.Definition(), inscribe.Handle)
}
