package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tino/internal/chat"
	"tino/internal/config"
	"tino/internal/events"
	"tino/internal/hooks"
	"tino/internal/logger"
	"tino/internal/storage"
	"tino/internal/task"
	"tino/internal/tools"
)

type stubTool struct {
	name     string
	category tools.Category
	execute  func(ctx context.Context, args json.RawMessage) (string, error)
	calls    int
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:       s.name,
			Parameters: map[string]any{"type": "object"},
		},
	}
}

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	s.calls++
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return "ok", nil
}

func (s *stubTool) Category() tools.Category { return s.category }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Checkpoint.Dir = filepath.Join(t.TempDir(), "checkpoints")
	return cfg
}

func openPermissions() config.PermissionConfig {
	return config.PermissionConfig{DefaultAction: "allow"}
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = t.TempDir()
	}
	if opts.Config.Checkpoint.Dir == "" {
		opts.Config = testConfig(t)
	}
	if opts.Permissions.DefaultAction == "" && len(opts.Permissions.Rules) == 0 {
		opts.Permissions = openPermissions()
	}
	opts.Logger = logger.Quiet()
	return New(opts)
}

func toolCall(id, name, argsJSON, resource string) chat.ToolCall {
	return chat.ToolCall{
		ID:       id,
		Type:     "function",
		Function: chat.ToolCallFunction{Name: name, Arguments: argsJSON},
		Resource: resource,
	}
}

func TestHandleToolCallExecutes(t *testing.T) {
	st := &stubTool{name: "market_data", execute: func(context.Context, json.RawMessage) (string, error) {
		return "ohlcv rows", nil
	}}
	o := newTestOrchestrator(t, Options{Registry: tools.NewRegistry(st)})

	res := o.HandleToolCall(context.Background(), toolCall("c1", "market_data", "{}", "ETH-USD"))
	if res.Result != "ohlcv rows" {
		t.Fatalf("result=%q", res.Result)
	}
	evs := o.TurnEvents()
	if len(evs) != 2 || evs[0].Kind != events.KindToolStart || evs[1].Kind != events.KindToolEnd {
		t.Fatalf("events=%v", evs)
	}
	hist := o.History()
	if len(hist) != 1 || hist[0].Role != "tool" || hist[0].ToolCallID != "c1" {
		t.Fatalf("history=%+v", hist)
	}
}

func TestHandleToolCallDenied(t *testing.T) {
	st := &stubTool{name: "trading_live_order"}
	o := newTestOrchestrator(t, Options{
		Registry: tools.NewRegistry(st),
		Permissions: config.PermissionConfig{
			Rules:         []config.PermissionRule{{Tool: "trading_live*", Action: "deny"}},
			DefaultAction: "allow",
		},
	})

	res := o.HandleToolCall(context.Background(), toolCall("c1", "trading_live_order", "{}", "BTC-USD"))
	if !strings.Contains(res.Result, "permission denied") {
		t.Fatalf("result=%q", res.Result)
	}
	if st.calls != 0 {
		t.Fatal("denied tool must not execute")
	}
	evs := o.TurnEvents()
	if evs[len(evs)-1].Kind != events.KindToolError {
		t.Fatalf("terminal event=%v, want tool_error", evs[len(evs)-1].Kind)
	}
}

func TestHandleToolCallAskWithoutApprover(t *testing.T) {
	st := &stubTool{name: "trading_sim"}
	o := newTestOrchestrator(t, Options{
		Registry: tools.NewRegistry(st),
		Permissions: config.PermissionConfig{
			Rules:         []config.PermissionRule{{Tool: "trading_*", Action: "ask"}},
			DefaultAction: "allow",
		},
	})

	res := o.HandleToolCall(context.Background(), toolCall("c1", "trading_sim", "{}", ""))
	if !strings.Contains(res.Result, "requires approval") {
		t.Fatalf("result=%q", res.Result)
	}
	if st.calls != 0 {
		t.Fatal("unapproved tool must not execute")
	}
}

func TestHandleToolCallAskApproved(t *testing.T) {
	st := &stubTool{name: "trading_sim"}
	o := newTestOrchestrator(t, Options{
		Registry: tools.NewRegistry(st),
		Permissions: config.PermissionConfig{
			Rules:         []config.PermissionRule{{Tool: "trading_*", Action: "ask"}},
			DefaultAction: "allow",
		},
		OnApproval: func(context.Context, string, string) bool { return true },
	})

	res := o.HandleToolCall(context.Background(), toolCall("c1", "trading_sim", "{}", ""))
	if res.Result != "ok" {
		t.Fatalf("result=%q", res.Result)
	}
}

func TestHandleToolCallHookVeto(t *testing.T) {
	st := &stubTool{name: "order_submit"}
	hr := hooks.NewRunner(logger.Quiet())
	hr.Register(hooks.Definition{
		Event: hooks.EventPreToolUse,
		Kind:  hooks.KindFunction,
		Handler: func(context.Context, hooks.Context) (hooks.Result, error) {
			return hooks.Result{Allow: false, Message: "daily loss limit reached"}, nil
		},
	})
	o := newTestOrchestrator(t, Options{Registry: tools.NewRegistry(st), Hooks: hr})

	res := o.HandleToolCall(context.Background(), toolCall("c1", "order_submit", "{}", ""))
	if res.Result != "Error: daily loss limit reached" {
		t.Fatalf("result=%q", res.Result)
	}
	if st.calls != 0 {
		t.Fatal("vetoed tool must not execute")
	}
}

func TestHandleToolCallErrorNeverPanics(t *testing.T) {
	st := &stubTool{name: "backtest_run", execute: func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("data gap in sample")
	}}
	o := newTestOrchestrator(t, Options{Registry: tools.NewRegistry(st)})

	res := o.HandleToolCall(context.Background(), toolCall("c1", "backtest_run", "{}", ""))
	if !strings.HasPrefix(res.Result, "Error: ") {
		t.Fatalf("result=%q", res.Result)
	}
	evs := o.TurnEvents()
	if evs[len(evs)-1].Kind != events.KindToolError {
		t.Fatalf("terminal event=%v, want tool_error", evs[len(evs)-1].Kind)
	}
}

func TestFinishTurnCheckpointsAndFlushes(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tino.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	st := &stubTool{name: "market_data"}
	o := newTestOrchestrator(t, Options{Registry: tools.NewRegistry(st), Store: store})

	ctx := o.BeginTurn(context.Background(), "fetch ETH data")
	o.HandleToolCall(ctx, toolCall("c1", "market_data", "{}", "ETH-USD"))
	o.StreamDelta("the data ")
	o.StreamDelta("looks clean")
	cp := o.FinishTurn(ctx, "")

	if cp == nil {
		t.Fatal("FinishTurn should return the checkpoint")
	}
	if cp.Conversation.Runtime.Answer != "the data looks clean" {
		t.Fatalf("answer=%q, want joined deltas", cp.Conversation.Runtime.Answer)
	}
	if got := o.Checkpoints().List(); len(got) != 1 {
		t.Fatalf("checkpoints=%d, want 1", len(got))
	}
	if o.Status() != "idle" {
		t.Fatalf("status=%q after finish", o.Status())
	}

	msgs, err := store.LoadMessages(o.SessionID())
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("flushed messages=%d, want user + tool", len(msgs))
	}
}

func TestBackgroundCurrentRun(t *testing.T) {
	delegate := tools.NewDelegateTool(func(_ context.Context, query string) (string, error) {
		return "summary of " + query, nil
	})
	o := newTestOrchestrator(t, Options{Registry: tools.NewRegistry(delegate)})

	turnCtx := o.BeginTurn(context.Background(), "backtest momentum over 2024")
	o.appendEvent(events.RunEvent{
		Kind: events.KindToolStart, ToolID: "task", CallID: "c1", Timestamp: time.Now(),
	})

	id, ok := o.BackgroundCurrentRun(context.Background())
	if !ok {
		t.Fatalf("backgrounding failed: %s", id)
	}

	select {
	case <-turnCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("foreground turn should have been cancelled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, found := o.Tasks().Get(id)
		if found && got.Status == task.StatusCompleted {
			if !strings.Contains(got.Output, "summary of backtest momentum over 2024") {
				t.Fatalf("output=%q", got.Output)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background task did not complete")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBackgroundRequiresRunningTool(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	if _, ok := o.BackgroundCurrentRun(context.Background()); ok {
		t.Fatal("idle session must not be backgroundable")
	}

	o.BeginTurn(context.Background(), "just thinking")
	if _, ok := o.BackgroundCurrentRun(context.Background()); ok {
		t.Fatal("turn without a running tool must not be backgroundable")
	}
}

func TestRestoreCheckpoint(t *testing.T) {
	st := &stubTool{name: "market_data"}
	o := newTestOrchestrator(t, Options{Registry: tools.NewRegistry(st)})

	ctx := o.BeginTurn(context.Background(), "first question")
	o.FinishTurn(ctx, "first answer")
	cps := o.Checkpoints().List()
	if len(cps) != 1 {
		t.Fatalf("checkpoints=%d", len(cps))
	}

	ctx = o.BeginTurn(context.Background(), "second question")
	o.FinishTurn(ctx, "second answer")
	if got := len(o.History()); got != 4 {
		t.Fatalf("history=%d, want 4 messages", got)
	}

	if !o.RestoreCheckpoint(context.Background(), cps[0].ID) {
		t.Fatal("restore failed")
	}
	hist := o.History()
	if len(hist) != 2 || hist[1].Content != "first answer" {
		t.Fatalf("restored history=%+v", hist)
	}
	if o.RestoreCheckpoint(context.Background(), "cp_unknown") {
		t.Fatal("unknown checkpoint id must not restore")
	}
}
