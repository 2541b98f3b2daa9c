package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tino/internal/tools"
)

// engineQueryRunner 委派执行器：把 task 工具收到的查询以 JSON POST 到引擎的
// 分析端点，响应体即子运行的摘要。
// engineQueryRunner backs the task tool: it POSTs the delegated query as JSON
// to the engine's analysis endpoint and returns the response body as the
// sub-run's summary.
func engineQueryRunner(queryURL string) tools.DelegateRunner {
	return func(ctx context.Context, query string) (string, error) {
		payload, err := json.Marshal(map[string]string{"query": query})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("engine query: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("engine query: %w", err)
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			return "", fmt.Errorf("engine query: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return strings.TrimSpace(string(body)), nil
	}
}

// toolRegistry 命令行可用的全部工具：引擎状态探针和委派（task）工具。
// toolRegistry is every tool the CLI ships: the engine status probe and the
// delegation ("task") tool, so backgrounding and task history are reachable
// from the binary.
func (a *app) toolRegistry() *tools.Registry {
	return tools.NewRegistry(
		tools.NewEngineStatusTool(a.cfg.Engine.HealthURL),
		tools.NewDelegateTool(engineQueryRunner(a.cfg.Engine.QueryURL)),
	)
}
