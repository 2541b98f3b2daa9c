package storage

import "tino/internal/chat"

// Store 持久化接口；审计日志与会话历史都走这里。
// Store is the persistence interface; audit logs and session history both go
// through it.
type Store interface {
	// Session operations
	CreateSession(meta SessionMeta) error
	SaveSession(meta SessionMeta) error
	LoadSession(id string) (SessionMeta, error)
	ListSessions() ([]SessionMeta, error)

	// Message operations
	SaveMessages(sessionID string, messages []chat.Message) error
	LoadMessages(sessionID string) ([]chat.Message, error)

	// Audit log
	LogPermission(entry PermissionEntry) error
	LogToolRun(entry ToolRunEntry) error
	ListToolRuns(sessionID string, limit int) ([]ToolRunEntry, error)

	// Background task history
	SaveTaskRecord(entry TaskRecord) error
	ListTaskRecords(sessionID string) ([]TaskRecord, error)

	// Lifecycle
	Close() error
}

// SessionMeta 会话元数据；历史本体存在 messages 表。
// SessionMeta is session metadata; the history itself lives in the messages
// table.
type SessionMeta struct {
	ID        string
	Title     string
	CWD       string
	Status    string
	CreatedAt string
	UpdatedAt string
}

// PermissionEntry 记录一次权限决策。
// PermissionEntry records a single permission decision.
type PermissionEntry struct {
	SessionID string
	Tool      string
	Resource  string
	Decision  string
	Reason    string
}

// ToolRunEntry 记录一次工具执行及其耗时。
// ToolRunEntry records one tool execution and its duration.
type ToolRunEntry struct {
	SessionID  string
	Tool       string
	Resource   string
	Result     string
	DurationMS int64
	CreatedAt  string
}

// TaskRecord 后台任务的终态留档。
// TaskRecord is the archived final state of a background task.
type TaskRecord struct {
	SessionID   string
	TaskID      string
	Description string
	Status      string
	Output      string
	Error       string
}
