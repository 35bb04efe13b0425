package unfolding

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names owned by the invoking stage.
const (
	ToolSetSpark             = "set_spark"
	ToolSuggestAdventureName = "suggest_adventure_name"
	ToolSignalReady          = "signal_ready"
)

// SetSparkTool records the seed premise.
type SetSparkTool struct {
	editor StateEditor
}

func (t *SetSparkTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolSetSpark,
		mcp.WithDescription("Record the spark of the adventure: a short evocative name and a one or two sentence vision. "+
			"Call again to revise; the previous spark is kept in the version history."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Short name for the spark, e.g. 'The Drowned Bell'")),
		mcp.WithString("vision", mcp.Required(), mcp.Description("What the adventure is about, in the user's own framing")),
	)
}

func (t *SetSparkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in domain.Spark
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	if missing := firstMissing("name", in.Name, "vision", in.Vision); missing != "" {
		return requiredError(missing), nil
	}

	spark := domain.Spark{Name: strings.TrimSpace(in.Name), Vision: strings.TrimSpace(in.Vision)}
	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		if st.Spark != nil {
			st.RecordVersion("spark", st.Spark)
		}
		st.Spark = &spark
		return fmt.Sprintf("Spark set: %s", spark.Name), nil
	})
}

// SuggestNameTool sets the working title of the adventure.
type SuggestNameTool struct {
	editor StateEditor
}

func (t *SuggestNameTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolSuggestAdventureName,
		mcp.WithDescription("Propose a working name for the adventure. The latest suggestion becomes the adventure name."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Suggested adventure name")),
	)
}

func (t *SuggestNameTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in struct {
		Name string `json:"name"`
	}
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return requiredError("name"), nil
	}

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		if st.AdventureName == name {
			return fmt.Sprintf("Adventure is already named %q", name), nil
		}
		st.RecordVersion("adventureName", st.AdventureName)
		st.AdventureName = name
		return fmt.Sprintf("Adventure name set to %q", name), nil
	})
}

// SignalReadyTool tells the UI the current stage has what it needs.
type SignalReadyTool struct{}

func (t *SignalReadyTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolSignalReady,
		mcp.WithDescription("Signal that the current stage has everything it needs and the user may advance. "+
			"Summarize what was decided in this stage."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Short summary of the stage outcome")),
	)
}

func (t *SignalReadyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary := strings.TrimSpace(req.GetString("summary", ""))
	if summary == "" {
		return requiredError("summary"), nil
	}
	caller, ok := tools.CallerFrom(ctx)
	if !ok {
		return mcp.NewToolResultError("no session is bound to this call"), nil
	}

	tools.Emit(ctx, domain.PendingEvent{
		Type: domain.EventUIReady,
		Data: domain.ReadyData{Stage: caller.Stage, Summary: summary},
	})
	return mcp.NewToolResultText(fmt.Sprintf("Ready signal sent for %s", caller.Stage)), nil
}

// RegisterInvoking registers the invoking stage tools.
func RegisterInvoking(reg *tools.Registry, editor StateEditor) {
	spark := &SetSparkTool{editor: editor}
	reg.Register(spark.Definition(), spark.Handle)

	name := &SuggestNameTool{editor: editor}
	reg.Register(name.Definition(), name.Handle)

	ready := &SignalReadyTool{}
	reg.Register(ready.Definition(), ready.Handle)
}
