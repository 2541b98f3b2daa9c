package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tino/internal/chat"
	"tino/internal/checkpoint"
	"tino/internal/config"
	"tino/internal/events"
	"tino/internal/hooks"
	"tino/internal/permission"
	"tino/internal/storage"
	"tino/internal/task"
	"tino/internal/tools"
)

// ApprovalFunc 权限裁决为 ask 时征询用户；返回 false 按拒绝处理。
// ApprovalFunc consults the user when a permission decision is ask; a false
// return is treated as denial.
type ApprovalFunc func(ctx context.Context, tool, resource string) bool

type Options struct {
	WorkspaceRoot string
	SessionID     string
	SessionTitle  string
	Config        config.Config
	Permissions   config.PermissionConfig
	Registry      *tools.Registry
	Hooks         *hooks.Runner
	Store         storage.Store // optional; nil disables persistence
	OnApproval    ApprovalFunc  // optional; nil treats ask as deny
	Logger        zerolog.Logger
}

// Orchestrator 把一次工具调用串过权限引擎、钩子、执行器和审计落盘，并在
// 回合结束时交给检查点管理器。它从不让单次调用的失败波及宿主会话。
// Orchestrator runs each tool call through the permission engine, hooks,
// executor, and audit log, and hands completed turns to the checkpoint
// manager. A single call's failure never takes the host session down.
type Orchestrator struct {
	root        string
	cfg         config.Config
	log         zerolog.Logger
	store       storage.Store
	perm        *permission.Engine
	hooks       *hooks.Runner
	registry    *tools.Registry
	tasks       *task.Manager
	checkpoints *checkpoint.Manager
	timeouts    tools.Timeouts
	onApproval  ApprovalFunc

	sessionID string
	title     string

	mu           sync.Mutex
	history      []chat.Message
	turnEvents   []events.RunEvent
	status       string // idle | running
	turnIndex    int
	currentQuery string
	cancelTurn   context.CancelFunc
}

func New(opts Options) *Orchestrator {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.NewString()
	}
	reg := opts.Registry
	if reg == nil {
		reg = tools.NewRegistry()
	}
	hr := opts.Hooks
	if hr == nil {
		hr = hooks.NewRunner(opts.Logger)
	}
	o := &Orchestrator{
		root:        opts.WorkspaceRoot,
		cfg:         opts.Config,
		log:         opts.Logger,
		store:       opts.Store,
		perm:        permission.New(opts.Permissions),
		hooks:       hr,
		registry:    reg,
		tasks:       task.NewManager(opts.Logger),
		checkpoints: checkpoint.NewManager(opts.Config.Checkpoint.Dir, opts.WorkspaceRoot, opts.Config.Checkpoint.MaxCount, opts.Logger),
		timeouts:    tools.TimeoutsFromMS(opts.Config.Executor.DefaultTimeoutMS, opts.Config.Executor.CategoryTimeoutsMS),
		onApproval:  opts.OnApproval,
		sessionID:   sessionID,
		title:       opts.SessionTitle,
		status:      "idle",
	}
	if o.store != nil {
		if err := o.store.CreateSession(storage.SessionMeta{
			ID:    sessionID,
			Title: opts.SessionTitle,
			CWD:   opts.WorkspaceRoot,
		}); err != nil {
			// an existing session row is fine, we resume into it
			o.log.Debug().Err(err).Str("session", sessionID).Msg("session row not created")
		}
	}
	return o
}

func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Tasks exposes the background task manager for subscribers.
func (o *Orchestrator) Tasks() *task.Manager {
	return o.tasks
}

// Checkpoints exposes the checkpoint manager.
func (o *Orchestrator) Checkpoints() *checkpoint.Manager {
	return o.checkpoints
}

func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// History returns a deep copy of the conversation so far.
func (o *Orchestrator) History() []chat.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return chat.CloneHistory(o.history)
}

// TurnEvents returns a copy of the current turn's event log.
func (o *Orchestrator) TurnEvents() []events.RunEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return events.Clone(o.turnEvents)
}

func (o *Orchestrator) appendMessage(msg chat.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, msg)
}

func (o *Orchestrator) appendEvent(ev events.RunEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turnEvents = append(o.turnEvents, ev)
}
