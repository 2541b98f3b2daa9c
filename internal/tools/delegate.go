package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tino/internal/chat"
)

// DelegateRunner runs a delegated query and returns its result payload.
type DelegateRunner func(ctx context.Context, query string) (string, error)

// DelegateTool 委派工具（task）：把一个查询交给独立的子运行执行。后台化机制
// 约定包裹的就是这个工具的调用。
// DelegateTool is the delegation ("task") tool: it hands a query to an
// independent sub-run. The backgrounding mechanism conventionally wraps
// invocations of this tool.
type DelegateTool struct {
	runner DelegateRunner
}

func NewDelegateTool(runner DelegateRunner) *DelegateTool {
	return &DelegateTool{runner: runner}
}

func (t *DelegateTool) SetRunner(runner DelegateRunner) {
	t.runner = runner
}

func (t *DelegateTool) Name() string {
	return "task"
}

func (t *DelegateTool) Category() Category {
	return CategorySimulation
}

func (t *DelegateTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Delegate a research or analysis query to a sub-run and return its summary",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if t.runner == nil {
		return "", fmt.Errorf("delegate runner unavailable")
	}
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("task args: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", fmt.Errorf("task query is empty")
	}

	summary, err := t.runner(ctx, query)
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":      true,
		"summary": summary,
	}), nil
}
