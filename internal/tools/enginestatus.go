package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tino/internal/chat"
)

// EngineStatusTool probes the shared trading engine's status endpoint so the
// model layer can report engine health in the transcript.
type EngineStatusTool struct {
	healthURL string
	client    *http.Client
}

func NewEngineStatusTool(healthURL string) *EngineStatusTool {
	return &EngineStatusTool{
		healthURL: healthURL,
		client:    &http.Client{Timeout: 3 * time.Second},
	}
}

func (t *EngineStatusTool) Name() string {
	return "engine_status"
}

func (t *EngineStatusTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Check whether the shared trading engine is healthy",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

func (t *EngineStatusTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.healthURL, nil)
	if err != nil {
		return mustJSON(map[string]any{"ok": false, "error": err.Error()}), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return mustJSON(map[string]any{"ok": true, "healthy": false, "error": err.Error()}), nil
	}
	defer func() { _ = resp.Body.Close() }()

	return mustJSON(map[string]any{
		"ok":      true,
		"healthy": resp.StatusCode == http.StatusOK,
		"status":  resp.StatusCode,
	}), nil
}
