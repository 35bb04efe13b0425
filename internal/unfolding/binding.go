package unfolding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

const ToolSetFrame = "set_frame"

// SetFrameTool binds the setting the adventure takes place in.
type SetFrameTool struct {
	editor StateEditor
}

func (t *SetFrameTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolSetFrame,
		mcp.WithDescription("Bind the frame of the adventure: the setting, its tone, and the themes it explores. "+
			"Replaces any earlier frame."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the frame or setting")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the frame feels like to play in")),
		mcp.WithArray("themes", mcp.WithStringItems(), mcp.Description("Themes the frame emphasizes")),
	)
}

func (t *SetFrameTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in domain.Frame
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	if missing := firstMissing("name", in.Name, "description", in.Description); missing != "" {
		return requiredError(missing), nil
	}

	frame := domain.Frame{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Themes:      cleanList(in.Themes),
	}
	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		if st.Frame != nil {
			st.RecordVersion("frame", st.Frame)
		}
		st.Frame = &frame
		if len(frame.Themes) == 0 {
			return fmt.Sprintf("Frame bound: %s", frame.Name), nil
		}
		return fmt.Sprintf("Frame bound: %s (themes: %s)", frame.Name, strings.Join(frame.Themes, ", ")), nil
	})
}

// RegisterBinding registers the binding stage tools.
func RegisterBinding(reg *tools.Registry, editor StateEditor) {
	frame := &SetFrameTool{editor: editor}
	reg.Register(frame.Definition(), frame.Handle)
}
