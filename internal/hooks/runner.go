package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Event hook 生命周期事件名。
// Event names a hook lifecycle point.
type Event string

const (
	EventPreToolUse   Event = "PreToolUse"
	EventPostToolUse  Event = "PostToolUse"
	EventSessionStart Event = "SessionStart"
	EventStop         Event = "Stop"
)

type Kind string

const (
	KindCommand  Kind = "command"
	KindFunction Kind = "function"
)

// Context 序列化后交给 hook 的调用上下文。
// Context is the invocation context serialized for hooks.
type Context struct {
	Event     Event           `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	ToolID    string          `json:"tool_id,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// Result hook 的裁决：Allow=false 否决本次工具调用。
// Result is a hook's verdict: Allow=false vetoes the tool call.
type Result struct {
	Allow   bool   `json:"allow"`
	Message string `json:"message,omitempty"`
}

// HandlerFunc 进程内 function hook。
// HandlerFunc is an in-process function hook.
type HandlerFunc func(ctx context.Context, hctx Context) (Result, error)

// Definition 一个已注册的 hook；command 类 hook 通过子进程执行。
// Definition is one registered hook; command hooks run as a subprocess.
type Definition struct {
	Event   Event
	Kind    Kind
	Command string
	Handler HandlerFunc
}

const defaultCommandTimeout = 30 * time.Second

// Runner 按注册顺序执行 hook。
// Runner executes hooks strictly in registration order.
type Runner struct {
	hooks   []Definition
	workDir string
	timeout time.Duration
	log     zerolog.Logger
}

type Option func(*Runner)

// WithWorkDir sets the working directory for command hooks.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithTimeout sets the per-command-hook timeout. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRunner(log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{timeout: defaultCommandTimeout, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 追加 hook；同一事件可注册多个，执行顺序即注册顺序。
// Register appends hooks; multiple hooks may share an event, and execution
// order is registration order.
func (r *Runner) Register(defs ...Definition) {
	r.hooks = append(r.hooks, defs...)
}

// Run 执行 event 对应的全部 hook。第一个返回 allow:false 的 hook 短路其余
// hook 并原样返回；hook 自身出错只记日志、视同未运行，绝不阻断工具调用。
// Run executes all hooks for the event. The first hook returning allow:false
// short-circuits the rest and is returned verbatim; a hook that fails is
// logged and treated as if it had not run; an error never blocks a tool
// call, only an explicit allow:false does.
func (r *Runner) Run(ctx context.Context, event Event, hctx Context) Result {
	hctx.Event = event
	for _, hook := range r.hooks {
		if hook.Event != event {
			continue
		}
		res, err := r.runOne(ctx, hook, hctx)
		if err != nil {
			r.log.Warn().
				Str("event", string(event)).
				Str("kind", string(hook.Kind)).
				Err(err).
				Msg("hook failed, continuing")
			continue
		}
		if !res.Allow {
			return res
		}
	}
	return Result{Allow: true}
}

func (r *Runner) runOne(ctx context.Context, hook Definition, hctx Context) (Result, error) {
	switch hook.Kind {
	case KindFunction:
		if hook.Handler == nil {
			return Result{}, fmt.Errorf("function hook for %s has no handler", hook.Event)
		}
		return hook.Handler(ctx, hctx)
	case KindCommand:
		return r.runCommand(ctx, hook, hctx)
	default:
		return Result{}, fmt.Errorf("unknown hook kind %q", hook.Kind)
	}
}

// runCommand 把上下文 JSON 写入子进程 stdin，stdout 解析为 Result；
// 空输出视为隐式 {allow:true}。
// runCommand pipes the JSON context to the subprocess stdin and parses stdout
// as a Result; empty output is an implicit {allow:true}.
func (r *Runner) runCommand(ctx context.Context, hook Definition, hctx Context) (Result, error) {
	payload, err := json.Marshal(hctx)
	if err != nil {
		return Result{}, fmt.Errorf("marshal hook context: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Command)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("hook command timed out after %s", r.timeout)
		}
		return Result{}, fmt.Errorf("hook command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return Result{Allow: true}, nil
	}
	return parseResult(out)
}

// parseResult 解析 hook 输出；缺失 allow 字段按 true 处理。
// parseResult decodes hook output; a missing allow field means true.
func parseResult(out string) (Result, error) {
	var parsed struct {
		Allow   *bool  `json:"allow"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return Result{}, fmt.Errorf("decode hook output: %w", err)
	}
	res := Result{Allow: true, Message: parsed.Message}
	if parsed.Allow != nil {
		res.Allow = *parsed.Allow
	}
	return res, nil
}
