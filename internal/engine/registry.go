package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LockRecord 一条 CLI 注册记录；每个 CLI 进程启动时写入、干净退出时删除。
// LockRecord is one CLI registration; each CLI process writes it at startup
// and deletes it at clean exit.
type LockRecord struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Terminal  string    `json:"terminal"`
}

// Registry 共享锁目录里的 CLI 注册表。存活判定用信号 0 探测；死记录和
// 损坏记录在同一次扫描中顺手删除，没有独立的垃圾回收。
// Registry is the CLI registry inside the shared lock directory. Liveness is
// probed with signal 0; dead and corrupt records are deleted as a side effect
// of the same scan, there is no separate garbage collector.
type Registry struct {
	dir string
	log zerolog.Logger
}

func NewRegistry(dir string, log zerolog.Logger) *Registry {
	return &Registry{dir: dir, log: log}
}

func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) recordPath(pid int) string {
	return filepath.Join(r.dir, fmt.Sprintf("cli-%d.lock", pid))
}

// Register writes this process's record. Idempotent for the same pid.
func (r *Registry) Register(pid int, terminal string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	rec := LockRecord{PID: pid, StartedAt: time.Now(), Terminal: terminal}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lock record: %w", err)
	}
	if err := os.WriteFile(r.recordPath(pid), data, 0o644); err != nil {
		return fmt.Errorf("write lock record: %w", err)
	}
	return nil
}

// Deregister removes this process's record. Missing files count as success.
func (r *Registry) Deregister(pid int) error {
	err := os.Remove(r.recordPath(pid))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock record: %w", err)
	}
	return nil
}

// CountActiveCLIs 扫描注册表并返回存活 CLI 数；死 pid 或无法解析的记录
// 当场删除，注册表自愈。
// CountActiveCLIs scans the registry and returns the live CLI count; records
// with dead pids or unparseable content are removed on the spot, so the
// registry heals itself.
func (r *Registry) CountActiveCLIs() int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "cli-") || !strings.HasSuffix(name, ".lock") {
			continue
		}
		full := filepath.Join(r.dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var rec LockRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.PID <= 0 {
			r.log.Debug().Str("record", name).Msg("removing corrupt lock record")
			_ = os.Remove(full)
			continue
		}
		if !pidAlive(rec.PID) {
			r.log.Debug().Int("pid", rec.PID).Msg("removing stale lock record")
			_ = os.Remove(full)
			continue
		}
		count++
	}
	return count
}
