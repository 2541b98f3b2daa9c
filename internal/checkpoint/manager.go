package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tino/internal/chat"
	"tino/internal/events"
	"tino/internal/security"
)

// FileSnapshot 记录一个路径及其对应的版本引用。整棵工作树共用一个引用，
// 不做逐文件快照。
// FileSnapshot records a path and its version reference. The whole working
// tree shares a single reference; there is no per-file snapshot.
type FileSnapshot struct {
	Path       string `json:"path"`
	VersionRef string `json:"versionRef,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Runtime captures the turn's event log and derived answer.
type Runtime struct {
	Events []events.RunEvent `json:"events"`
	Answer string            `json:"answer"`
	Status string            `json:"status"`
}

// Conversation is the session state a restore hands back to the caller.
type Conversation struct {
	History []chat.Message `json:"history"`
	Runtime Runtime        `json:"runtime"`
}

// Checkpoint 按回合编号的不可变快照；写入后不再修改，只会被保留策略淘汰
// 或显式删除。
// Checkpoint is an immutable, turn-indexed snapshot; once written it is never
// modified, only evicted by retention or deleted explicitly.
type Checkpoint struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	TurnIndex    int            `json:"turnIndex"`
	Files        []FileSnapshot `json:"files"`
	Conversation Conversation   `json:"conversation"`
	TokenCount   int            `json:"tokenCount,omitempty"`
}

// Diff summarises what separates two checkpoints.
type Diff struct {
	FilesChanged []string `json:"files_changed"`
	TurnsRemoved int      `json:"turns_removed"`
}

// Manager 检查点的创建、列举、修剪与恢复。所有操作都失败软着陆：任何 I/O
// 错误只记日志并返回零值，绝不让宿主会话中断。
// Manager creates, lists, prunes, and restores checkpoints. Every operation
// fails soft: I/O errors are logged and yield zero values, the host session
// is never aborted.
type Manager struct {
	dir      string
	root     string
	maxCount int
	log      zerolog.Logger
	tokens   *Tokenizer
	ws       *security.Workspace

	headRef  func(ctx context.Context) (string, bool)
	checkout func(ctx context.Context, ref string, paths []string) error
}

// NewManager builds a manager storing checkpoints under dir for the working
// tree rooted at root. maxCount caps retention; values below one fall back
// to the default of 50.
func NewManager(dir, root string, maxCount int, log zerolog.Logger) *Manager {
	if maxCount < 1 {
		maxCount = 50
	}
	m := &Manager{
		dir:      dir,
		root:     root,
		maxCount: maxCount,
		log:      log,
		tokens:   DefaultTokenizer(),
	}
	if ws, err := security.NewWorkspace(root); err == nil {
		m.ws = ws
	}
	m.headRef = m.gitHeadRef
	m.checkout = m.gitCheckout
	return m
}

// Create 为一个已完成的回合建立检查点：捕获整棵树的一个版本引用、深拷贝会话
// 历史，并从事件流提取最终回答。创建后同步修剪到保留上限。失败返回 nil。
// Create checkpoints a completed turn: it captures one version reference for
// the whole tree, deep-copies the conversation history, and extracts the
// final answer from the event stream. Retention pruning runs synchronously
// after the write. Returns nil on failure.
func (m *Manager) Create(ctx context.Context, turnIndex int, history []chat.Message, evs []events.RunEvent, status string) *Checkpoint {
	now := time.Now()
	cp := &Checkpoint{
		ID:        fmt.Sprintf("cp_%d_%d", now.UnixMilli(), turnIndex),
		Timestamp: now,
		TurnIndex: turnIndex,
		Conversation: Conversation{
			History: chat.CloneHistory(history),
			Runtime: Runtime{
				Events: events.Clone(evs),
				Answer: events.FinalAnswer(evs),
				Status: status,
			},
		},
		TokenCount: m.tokens.CountHistory(history),
	}
	if ref, ok := m.headRef(ctx); ok {
		cp.Files = []FileSnapshot{{Path: ".", VersionRef: ref}}
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		m.log.Warn().Err(err).Str("dir", m.dir).Msg("checkpoint dir unavailable")
		return nil
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		m.log.Warn().Err(err).Msg("checkpoint marshal failed")
		return nil
	}
	if err := os.WriteFile(filepath.Join(m.dir, cp.ID+".json"), data, 0o644); err != nil {
		m.log.Warn().Err(err).Str("id", cp.ID).Msg("checkpoint write failed")
		return nil
	}

	m.pruneLocked()
	return cp
}

// List 按时间戳降序返回全部检查点；目录缺失或损坏时返回空切片。
// List returns all checkpoints sorted by timestamp descending; a missing or
// corrupt directory yields an empty slice.
func (m *Manager) List() []Checkpoint {
	cps := m.load()
	sort.Slice(cps, func(i, j int) bool {
		if !cps[i].Timestamp.Equal(cps[j].Timestamp) {
			return cps[i].Timestamp.After(cps[j].Timestamp)
		}
		return cps[i].TurnIndex > cps[j].TurnIndex
	})
	return cps
}

// Get returns the checkpoint with the given id, or nil.
func (m *Manager) Get(id string) *Checkpoint {
	for _, cp := range m.load() {
		if cp.ID == id {
			out := cp
			return &out
		}
	}
	return nil
}

// Delete removes one checkpoint file. Missing files count as success.
func (m *Manager) Delete(id string) bool {
	if strings.ContainsAny(id, `/\`) {
		return false
	}
	err := os.Remove(filepath.Join(m.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		m.log.Warn().Err(err).Str("id", id).Msg("checkpoint delete failed")
		return false
	}
	return true
}

// ComputeDiff 对两份快照取对称差：以 path+versionRef+content 为复合键。
// turnsRemoved 为 a 相对 b 多出的历史回合数，不为负。
// ComputeDiff takes the symmetric difference of the two snapshots keyed by
// path+versionRef+content. turnsRemoved is the history length a has over b,
// never negative.
func ComputeDiff(a, b *Checkpoint) Diff {
	var d Diff
	if a == nil || b == nil {
		return d
	}
	key := func(fs FileSnapshot) string {
		return fs.Path + "\x00" + fs.VersionRef + "\x00" + fs.Content
	}
	inA := make(map[string]string)
	for _, fs := range a.Files {
		inA[key(fs)] = fs.Path
	}
	inB := make(map[string]string)
	for _, fs := range b.Files {
		inB[key(fs)] = fs.Path
	}
	seen := make(map[string]bool)
	for k, path := range inA {
		if _, ok := inB[k]; !ok && !seen[path] {
			seen[path] = true
			d.FilesChanged = append(d.FilesChanged, path)
		}
	}
	for k, path := range inB {
		if _, ok := inA[k]; !ok && !seen[path] {
			seen[path] = true
			d.FilesChanged = append(d.FilesChanged, path)
		}
	}
	sort.Strings(d.FilesChanged)
	if removed := len(a.Conversation.History) - len(b.Conversation.History); removed > 0 {
		d.TurnsRemoved = removed
	}
	return d
}

// Restore 如果快照带版本引用，就把工作树按该引用做限定范围的 checkout
// （路径去重，默认整个仓库根）。失败返回 nil；成功返回会话快照，由调用方
// 重建会话状态。恢复是整棵树回到该引用，不做逐文件粒度。
// Restore: if the snapshot carries a version reference, the working tree is
// checked out at that reference scoped to the snapshot's paths (deduplicated,
// defaulting to the repository root). Returns nil on failure, or the
// conversation snapshot for the caller to re-hydrate session state. Restore
// is whole-tree-at-that-reference, not per-file granular.
func (m *Manager) Restore(ctx context.Context, cp *Checkpoint) *Conversation {
	if cp == nil {
		return nil
	}
	ref := ""
	paths := make([]string, 0, len(cp.Files))
	seen := make(map[string]bool)
	for _, fs := range cp.Files {
		if ref == "" && fs.VersionRef != "" {
			ref = fs.VersionRef
		}
		p := strings.TrimSpace(fs.Path)
		if p == "" || seen[p] {
			continue
		}
		// a snapshot path escaping the workspace never reaches the checkout
		if m.ws != nil && !m.ws.Contains(p) {
			m.log.Warn().Str("id", cp.ID).Str("path", p).Msg("snapshot path outside workspace, skipped")
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	if ref != "" {
		if len(paths) == 0 {
			paths = []string{"."}
		}
		if err := m.checkout(ctx, ref, paths); err != nil {
			m.log.Warn().Err(err).Str("id", cp.ID).Str("ref", ref).Msg("checkpoint restore failed")
			return nil
		}
	}
	conv := cp.Conversation
	conv.History = chat.CloneHistory(conv.History)
	conv.Runtime.Events = events.Clone(conv.Runtime.Events)
	return &conv
}

// load reads every checkpoint record in the directory, skipping corrupt ones.
func (m *Manager) load() []Checkpoint {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return []Checkpoint{}
	}
	out := make([]Checkpoint, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil || cp.ID == "" {
			continue
		}
		out = append(out, cp)
	}
	return out
}

// pruneLocked evicts oldest-by-timestamp records beyond the retention cap.
// It runs synchronously after every create so list invariants hold the
// moment create returns.
func (m *Manager) pruneLocked() {
	cps := m.load()
	if len(cps) <= m.maxCount {
		return
	}
	sort.Slice(cps, func(i, j int) bool {
		if !cps[i].Timestamp.Equal(cps[j].Timestamp) {
			return cps[i].Timestamp.Before(cps[j].Timestamp)
		}
		return cps[i].TurnIndex < cps[j].TurnIndex
	})
	for _, cp := range cps[:len(cps)-m.maxCount] {
		if err := os.Remove(filepath.Join(m.dir, cp.ID+".json")); err != nil {
			m.log.Warn().Err(err).Str("id", cp.ID).Msg("checkpoint prune failed")
		}
	}
}

func (m *Manager) gitHeadRef(ctx context.Context) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", "-C", m.root, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	ref := strings.TrimSpace(string(out))
	return ref, ref != ""
}

func (m *Manager) gitCheckout(ctx context.Context, ref string, paths []string) error {
	args := []string{"-C", m.root, "checkout", ref, "--"}
	args = append(args, paths...)
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
