package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ToolCallResult 工具调用结果：错误一律编码进 Result 字符串，调用方永远
// 拿到一个值而不是异常。这是让外层代理循环在任意工具 bug 下存活的契约。
// ToolCallResult is the outcome of one tool call: errors are always encoded
// into the Result string, never raised. This is the contract that keeps the
// surrounding agent loop alive through arbitrary tool bugs.
type ToolCallResult struct {
	Result   string        `json:"result"`
	Duration time.Duration `json:"duration"`
}

// Timeouts 按类别配置的执行超时。
// Timeouts holds per-category execution deadlines.
type Timeouts struct {
	Default    time.Duration
	PerCategory map[Category]time.Duration
}

// DefaultTimeouts 基线 30s，模拟 60s，回测 300s。
// DefaultTimeouts: 30s baseline, 60s simulation, 300s backtest.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default: 30 * time.Second,
		PerCategory: map[Category]time.Duration{
			CategorySimulation: 60 * time.Second,
			CategoryBacktest:   300 * time.Second,
		},
	}
}

// TimeoutsFromMS builds Timeouts from config values in milliseconds.
func TimeoutsFromMS(defaultMS int, categoriesMS map[string]int) Timeouts {
	t := DefaultTimeouts()
	if defaultMS > 0 {
		t.Default = time.Duration(defaultMS) * time.Millisecond
	}
	for cat, ms := range categoriesMS {
		if ms > 0 {
			t.PerCategory[Category(cat)] = time.Duration(ms) * time.Millisecond
		}
	}
	return t
}

func (t Timeouts) For(cat Category) time.Duration {
	if d, ok := t.PerCategory[cat]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return 30 * time.Second
}

type outcome struct {
	result string
	err    error
}

// ExecuteToolCall 解析工具 id 并把插件执行与超时/外部取消竞速：谁先到谁生效，
// 输家的计时器和监听随 defer 清理。插件抛出的任何异常（同步 panic 或错误返回）
// 都被捕获并渲染进 result；本函数自身永不 panic。耗时按真实 wall-clock 记录。
// ExecuteToolCall resolves the tool id and races plugin execution against the
// category timeout and the caller's cancellation signal: whichever settles
// first wins, and the loser's timer/listener is torn down via defers. Any
// plugin failure (panic or returned error) is caught and rendered into the
// result; this function itself never panics. Duration is wall-clock elapsed
// time regardless of outcome.
func ExecuteToolCall(ctx context.Context, reg *Registry, toolID string, args json.RawMessage, timeouts Timeouts) ToolCallResult {
	tool, ok := reg.Get(toolID)
	if !ok {
		return ToolCallResult{Result: fmt.Sprintf("Error: unknown tool %q", toolID)}
	}

	timeout := timeouts.For(reg.CategoryOf(toolID))
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %q panicked: %v", toolID, r)}
			}
		}()
		result, err := tool.Execute(execCtx, args)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return ToolCallResult{
				Result:   "Error: " + out.err.Error(),
				Duration: time.Since(start),
			}
		}
		return ToolCallResult{Result: out.result, Duration: time.Since(start)}
	case <-timer.C:
		return ToolCallResult{
			Result:   fmt.Sprintf("Error: tool %q timed out after %s", toolID, timeout),
			Duration: time.Since(start),
		}
	case <-ctx.Done():
		return ToolCallResult{
			Result:   fmt.Sprintf("Error: tool %q cancelled: %v", toolID, ctx.Err()),
			Duration: time.Since(start),
		}
	}
}
