package tools

import (
	"context"
	"sync"
	"testing"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestRegister_LastWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register(mcp.NewTool("set_spark", mcp.WithDescription("first")), textHandler("first"))
	reg.Register(mcp.NewTool("set_spark", mcp.WithDescription("second")), textHandler("second"))

	tool, ok := reg.Lookup("set_spark")
	if !ok {
		t.Fatal("tool not registered")
	}
	if tool.Definition.Description != "second" {
		t.Errorf("definition = %q, want second", tool.Definition.Description)
	}

	d := NewDispatcher(reg, testCaller, nil)
	if res := d.Dispatch(context.Background(), domain.ToolCall{Name: "set_spark"}); res.Content != "second" {
		t.Errorf("content = %q, want second", res.Content)
	}
	if names := reg.Names(); len(names) != 1 {
		t.Errorf("names = %v", names)
	}
}

func TestDefinitions_RequestOrderSkipsUnknown(t *testing.T) {
	reg := NewRegistry()
	reg.Register(mcp.NewTool("a"), textHandler("a"))
	reg.Register(mcp.NewTool("b"), textHandler("b"))

	defs := reg.Definitions("b", "missing", "a")
	if len(defs) != 2 || defs[0].Name != "b" || defs[1].Name != "a" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register(mcp.NewTool("t"), textHandler(string(rune('a'+i))))
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Lookup("t")
			_ = reg.Definitions("t")
		}()
	}
	wg.Wait()

	if _, ok := reg.Lookup("t"); !ok {
		t.Fatal("tool missing after concurrent registration")
	}
}
