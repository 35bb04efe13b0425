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
	ToolSetComponent     = "set_component"
	ToolConfirmComponent = "confirm_component"
	ToolAddThread        = "add_thread"
)

// SetComponentTool fills one of the fixed component slots.
type SetComponentTool struct {
	editor StateEditor
}

func (t *SetComponentTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolSetComponent,
		mcp.WithDescription("Set the value of one adventure component. Setting a component clears its confirmation."),
		mcp.WithString("component", mcp.Required(),
			mcp.Enum(domain.ComponentSlots...),
			mcp.Description("Which component to set")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The chosen value, e.g. 'one-shot' for span")),
	)
}

func (t *SetComponentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in struct {
		Component string `json:"component"`
		Value     string `json:"value"`
	}
	if res := bind(req, &in); res != nil {
		return res, nil
	}
	if missing := firstMissing("component", in.Component, "value", in.Value); missing != "" {
		return requiredError(missing), nil
	}
	slot := strings.ToLower(strings.TrimSpace(in.Component))
	if !domain.IsComponentSlot(slot) {
		return unknownComponent(slot), nil
	}
	value := strings.TrimSpace(in.Value)

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		prev, _ := st.Components.SetSlot(slot, value)
		if prev != nil {
			if *prev == value {
				return fmt.Sprintf("%s is already %q", slot, value), nil
			}
			st.RecordVersion("components."+slot, *prev)
		}
		st.Components.Confirmed = without(st.Components.Confirmed, slot)
		return fmt.Sprintf("%s set to %q", slot, value), nil
	})
}

// ConfirmComponentTool marks a filled slot as agreed with the user.
type ConfirmComponentTool struct {
	editor StateEditor
}

func (t *ConfirmComponentTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolConfirmComponent,
		mcp.WithDescription("Mark a component as confirmed by the user. The component must already have a value."),
		mcp.WithString("component", mcp.Required(),
			mcp.Enum(domain.ComponentSlots...),
			mcp.Description("Which component to confirm")),
	)
}

func (t *ConfirmComponentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slot := strings.ToLower(strings.TrimSpace(req.GetString("component", "")))
	if slot == "" {
		return requiredError("component"), nil
	}
	if !domain.IsComponentSlot(slot) {
		return unknownComponent(slot), nil
	}

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		value, _ := st.Components.Slot(slot)
		if value == nil {
			return "", domain.ErrInvalidInput("%s has no value yet; set it before confirming", slot)
		}
		st.Components.Confirm(slot)
		return fmt.Sprintf("%s confirmed (%d of %d)", slot, len(st.Components.Confirmed), len(domain.ComponentSlots)), nil
	})
}

// AddThreadTool appends a narrative thread.
type AddThreadTool struct {
	editor StateEditor
}

func (t *AddThreadTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolAddThread,
		mcp.WithDescription("Add a narrative thread the adventure should weave through its scenes."),
		mcp.WithString("thread", mcp.Required(), mcp.Description("The thread, as a short phrase")),
	)
}

func (t *AddThreadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	thread := strings.TrimSpace(req.GetString("thread", ""))
	if thread == "" {
		return requiredError("thread"), nil
	}

	return apply(ctx, t.editor, func(_ *domain.Session, st *domain.AdventureState) (string, error) {
		for _, existing := range st.Components.Threads {
			if strings.EqualFold(existing, thread) {
				return fmt.Sprintf("Thread %q already recorded", existing), nil
			}
		}
		st.Components.Threads = append(st.Components.Threads, thread)
		return fmt.Sprintf("Thread added (%d total)", len(st.Components.Threads)), nil
	})
}

func unknownComponent(slot string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("unknown component %q; expected one of: %s",
		slot, strings.Join(domain.ComponentSlots, ", ")))
}

func without(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

// RegisterAttuning registers the attuning stage tools.
func RegisterAttuning(reg *tools.Registry, editor StateEditor) {
	set := &SetComponentTool{editor: editor}
	reg.Register(set.Definition(), set.Handle)

	confirm := &ConfirmComponentTool{editor: editor}
	reg.Register(confirm.Definition(), confirm.Handle)

	thread := &AddThreadTool{editor: editor}
	reg.Register(thread.Definition(), thread.Handle)
}
