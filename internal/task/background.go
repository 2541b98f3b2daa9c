package task

import (
	"encoding/json"
	"strings"

	"tino/internal/events"
)

// FindRunningToolID 在回合事件日志里找缺少配对 tool_end/tool_error 的
// tool_start。同一回合内同一时间最多一个工具在执行，所以最多一个未配对项。
// FindRunningToolID scans a turn's event log for a tool_start lacking a
// matching tool_end/tool_error. Within one turn at most one tool is active at
// a time, so there is at most one unmatched entry.
func FindRunningToolID(evs []events.RunEvent) (string, bool) {
	finished := make(map[string]bool)
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindToolEnd, events.KindToolError:
			finished[ev.CallID] = true
		}
	}
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		if ev.Kind == events.KindToolStart && !finished[ev.CallID] {
			return ev.ToolID, true
		}
	}
	return "", false
}

// IsBackgroundableRun 当前运行状态为 running 且存在未完成的工具调用时，
// 这个回合才可以被转入后台。
// IsBackgroundableRun: a run can be detached only while its status is
// "running" and an unfinished tool call exists.
func IsBackgroundableRun(status string, evs []events.RunEvent) bool {
	if status != "running" {
		return false
	}
	_, ok := FindRunningToolID(evs)
	return ok
}

// ParseLaunchPayload 防御性解析后台启动结果：携带 error 字段的 payload
// 一律不产出任务 id。
// ParseLaunchPayload defensively parses a background launch payload: a
// payload carrying an error field never yields a task id.
func ParseLaunchPayload(payload string) (string, bool) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", false
	}
	var parsed struct {
		TaskID string `json:"task_id"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return "", false
	}
	if parsed.Error != "" {
		return "", false
	}
	if strings.TrimSpace(parsed.TaskID) == "" {
		return "", false
	}
	return parsed.TaskID, true
}
