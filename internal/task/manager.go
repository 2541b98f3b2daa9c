package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task 一次从前台回合剥离出来的工具调用。
// Task is one tool invocation detached from the foreground turn.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event 任务状态广播；驱动可见的任务列表。
// Event is a task status broadcast; it drives the visible task list.
type Event struct {
	Kind EventKind
	Task Task
}

// Manager 追踪后台任务生命周期。"后台"不等于新线程：任务只是与当前回合解耦,
// 仍由同一进程调度。
// Manager tracks background task lifecycles. "Background" does not mean a new
// OS process: the invocation is decoupled from the active turn but still runs
// inside this process.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
	order   []string
	subs    map[int64]func(Event)
	nextSub int64
	log     zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		tasks:   make(map[string]*Task),
		cancels: make(map[string]context.CancelFunc),
		subs:    make(map[int64]func(Event)),
		log:     log,
	}
}

// Subscribe 注册观察者，返回注销函数；注销后不再收到事件。
// Subscribe registers an observer and returns a disposer; after disposal no
// further events are delivered.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) emit(kind EventKind, task Task) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(Event{Kind: kind, Task: task})
	}
}

// Launch 启动一个脱离前台回合的任务：运行上下文与调用方的取消解绑，
// 前台被取消后任务继续执行。
// Launch starts a task detached from the foreground turn: its run context is
// unbound from the caller's cancellation, so the task survives a foreground
// cancel.
func (m *Manager) Launch(ctx context.Context, description string, run func(ctx context.Context) (string, error)) *Task {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t := &Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StatusPending,
		StartTime:   time.Now(),
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.cancels[t.ID] = cancel
	m.order = append(m.order, t.ID)
	m.mu.Unlock()

	go func() {
		defer cancel()

		m.transition(t.ID, StatusRunning, "", "")
		m.emit(EventStarted, m.snapshot(t.ID))

		output, err := run(runCtx)
		if err != nil {
			m.transition(t.ID, StatusFailed, "", err.Error())
			m.log.Warn().Str("task", t.ID).Err(err).Msg("background task failed")
			m.emit(EventFailed, m.snapshot(t.ID))
			return
		}
		m.transition(t.ID, StatusCompleted, output, "")
		m.emit(EventCompleted, m.snapshot(t.ID))
	}()

	return t
}

func (m *Manager) transition(id string, status Status, output, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	t.Status = status
	if output != "" {
		t.Output = output
	}
	if errMsg != "" {
		t.Error = errMsg
	}
}

func (m *Manager) snapshot(id string) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return *t
	}
	return Task{}
}

// Get returns a copy of the task, if known.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List 按启动顺序返回全部任务快照。
// List returns snapshots of all tasks in launch order.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Cancel 显式取消一个任务；只有显式取消或自然完成会终结任务。
// Cancel explicitly cancels a task; tasks end only through explicit
// cancellation or natural completion.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Prune 客户端侧清理：移除已终结的任务记录。
// Prune is the client-side cleanup: it drops finished task records.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		t, ok := m.tasks[id]
		if !ok {
			continue
		}
		if t.Status == StatusCompleted || t.Status == StatusFailed {
			delete(m.tasks, id)
			delete(m.cancels, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed
}
