package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tino/internal/chat"
	"tino/internal/checkpoint"
	"tino/internal/events"
	"tino/internal/hooks"
	"tino/internal/permission"
	"tino/internal/storage"
	"tino/internal/tools"
)

// BeginTurn 开启一个回合：记录触发查询、置为 running 并返回可取消的回合
// 上下文。
// BeginTurn opens a turn: it records the triggering query, marks the session
// running, and returns a cancellable turn context.
func (o *Orchestrator) BeginTurn(ctx context.Context, query string) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	turnCtx, cancel := context.WithCancel(ctx)
	o.status = "running"
	o.currentQuery = query
	o.cancelTurn = cancel
	o.turnEvents = nil
	o.history = append(o.history, chat.Message{Role: "user", Content: query})
	return turnCtx
}

// CancelTurn aborts the foreground turn, if one is running.
func (o *Orchestrator) CancelTurn() {
	o.mu.Lock()
	cancel := o.cancelTurn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HandleToolCall 单次工具调用的完整管线：权限引擎、pre hook、执行器、
// post hook、事件与审计日志。拒绝与否决都变成错误结果返回给模型层，
// 任何一步都不会让会话崩溃。
// HandleToolCall is the full pipeline for one tool call: permission engine,
// pre hooks, executor, post hooks, event and audit logging. Denials and hook
// vetoes become error results handed back to the model layer; no step can
// crash the session.
func (o *Orchestrator) HandleToolCall(ctx context.Context, call chat.ToolCall) tools.ToolCallResult {
	toolID := call.Function.Name
	args := json.RawMessage(call.Function.Arguments)

	o.appendEvent(events.RunEvent{
		Kind: events.KindToolStart, ToolID: toolID, CallID: call.ID, Timestamp: time.Now(),
	})

	if res, blocked := o.gateToolCall(ctx, call, args); blocked {
		o.finishToolCall(call, res, true)
		return res
	}

	res := tools.ExecuteToolCall(ctx, o.registry, toolID, args, o.timeouts)

	o.hooks.Run(ctx, hooks.EventPostToolUse, hooks.Context{
		SessionID: o.sessionID,
		ToolID:    toolID,
		Resource:  call.Resource,
		Args:      args,
		Result:    res.Result,
	})

	o.finishToolCall(call, res, strings.HasPrefix(res.Result, "Error: "))
	return res
}

// gateToolCall runs the permission check and pre hooks. The returned result
// is meaningful only when blocked is true.
func (o *Orchestrator) gateToolCall(ctx context.Context, call chat.ToolCall, args json.RawMessage) (tools.ToolCallResult, bool) {
	toolID := call.Function.Name

	decision := o.perm.Check(toolID, call.Resource)
	o.auditPermission(toolID, call.Resource, decision)
	switch decision {
	case permission.DecisionDeny:
		return tools.ToolCallResult{
			Result: fmt.Sprintf("Error: permission denied for tool %q", toolID),
		}, true
	case permission.DecisionAsk:
		if o.onApproval == nil || !o.onApproval(ctx, toolID, call.Resource) {
			return tools.ToolCallResult{
				Result: fmt.Sprintf("Error: tool %q requires approval and was not approved", toolID),
			}, true
		}
	}

	pre := o.hooks.Run(ctx, hooks.EventPreToolUse, hooks.Context{
		SessionID: o.sessionID,
		ToolID:    toolID,
		Resource:  call.Resource,
		Args:      args,
	})
	if !pre.Allow {
		msg := strings.TrimSpace(pre.Message)
		if msg == "" {
			msg = "blocked by hook"
		}
		return tools.ToolCallResult{Result: "Error: " + msg}, true
	}
	return tools.ToolCallResult{}, false
}

// finishToolCall records the terminal event, the audit row, and the tool
// message in the conversation.
func (o *Orchestrator) finishToolCall(call chat.ToolCall, res tools.ToolCallResult, failed bool) {
	kind := events.KindToolEnd
	if failed {
		kind = events.KindToolError
	}
	o.appendEvent(events.RunEvent{
		Kind: kind, ToolID: call.Function.Name, CallID: call.ID, Timestamp: time.Now(),
	})
	o.appendMessage(chat.Message{
		Role:       "tool",
		Name:       call.Function.Name,
		ToolCallID: call.ID,
		Content:    res.Result,
	})
	if o.store != nil {
		if err := o.store.LogToolRun(storage.ToolRunEntry{
			SessionID:  o.sessionID,
			Tool:       call.Function.Name,
			Resource:   call.Resource,
			Result:     res.Result,
			DurationMS: res.Duration.Milliseconds(),
		}); err != nil {
			o.log.Warn().Err(err).Msg("tool run not audited")
		}
	}
}

func (o *Orchestrator) auditPermission(toolID, resource string, decision permission.Decision) {
	if o.store == nil {
		return
	}
	if err := o.store.LogPermission(storage.PermissionEntry{
		SessionID: o.sessionID,
		Tool:      toolID,
		Resource:  resource,
		Decision:  string(decision),
	}); err != nil {
		o.log.Warn().Err(err).Msg("permission decision not audited")
	}
}

// StreamDelta records a streamed answer increment for the current turn.
func (o *Orchestrator) StreamDelta(delta string) {
	o.appendEvent(events.RunEvent{Kind: events.KindAnswerDelta, Delta: delta, Timestamp: time.Now()})
}

// FinishTurn 收尾一个回合：写 done 事件、建检查点、落盘历史，然后把回合
// 计数推进并清空事件日志。检查点与落盘失败都只降级记日志。
// FinishTurn closes a turn: it writes the done event, creates a checkpoint,
// flushes the history, then advances the turn counter and clears the event
// log. Checkpoint and flush failures only degrade to log lines.
func (o *Orchestrator) FinishTurn(ctx context.Context, answer string) *checkpoint.Checkpoint {
	o.appendEvent(events.RunEvent{Kind: events.KindDone, Answer: answer, Timestamp: time.Now()})
	if answer != "" {
		o.appendMessage(chat.Message{Role: "assistant", Content: answer})
	}

	o.mu.Lock()
	turnIndex := o.turnIndex
	history := chat.CloneHistory(o.history)
	turnEvents := events.Clone(o.turnEvents)
	o.mu.Unlock()

	cp := o.checkpoints.Create(ctx, turnIndex, history, turnEvents, "idle")
	if cp == nil {
		o.log.Warn().Int("turn", turnIndex).Msg("turn not checkpointed")
	}
	o.flushSession(history)

	o.mu.Lock()
	o.turnIndex++
	o.turnEvents = nil
	o.status = "idle"
	o.currentQuery = ""
	o.cancelTurn = nil
	o.mu.Unlock()

	o.hooks.Run(ctx, hooks.EventStop, hooks.Context{SessionID: o.sessionID})
	return cp
}

func (o *Orchestrator) flushSession(history []chat.Message) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveMessages(o.sessionID, history); err != nil {
		o.log.Warn().Err(err).Msg("session history not flushed")
	}
	if err := o.store.SaveSession(storage.SessionMeta{
		ID: o.sessionID, Title: o.title, CWD: o.root, Status: "idle",
	}); err != nil {
		o.log.Warn().Err(err).Msg("session row not updated")
	}
}

// RestoreCheckpoint rolls the session back to a checkpoint: the working tree
// is restored through the checkpoint manager and the conversation snapshot
// replaces the in-memory history. Returns false when the restore failed.
func (o *Orchestrator) RestoreCheckpoint(ctx context.Context, id string) bool {
	cp := o.checkpoints.Get(id)
	if cp == nil {
		return false
	}
	conv := o.checkpoints.Restore(ctx, cp)
	if conv == nil {
		return false
	}
	o.mu.Lock()
	o.history = conv.History
	o.turnEvents = nil
	o.turnIndex = cp.TurnIndex + 1
	o.status = "idle"
	o.mu.Unlock()
	o.flushSession(conv.History)
	return true
}
