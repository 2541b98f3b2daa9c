package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// HookConfigEntry .tino/hooks.json 中的一条 command hook 声明。
// HookConfigEntry is one command-hook declaration in .tino/hooks.json.
// Function hooks are registered in code, not via config.
type HookConfigEntry struct {
	Event   string `json:"event"`
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
}

// LoadHooks 读取 <root>/.tino/hooks.json；缺失或损坏时返回空列表（无 hook），
// error 仅供记录。注册顺序即文件内声明顺序。
// LoadHooks reads <root>/.tino/hooks.json; absent or invalid files yield no
// hooks, the error is advisory. Registration order is declaration order.
func LoadHooks(root string) ([]HookConfigEntry, error) {
	path := filepath.Join(root, ".tino", "hooks.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []HookConfigEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make([]HookConfigEntry, 0, len(entries))
	for _, entry := range entries {
		if !validHookEvent(entry.Event) {
			continue
		}
		if entry.Kind != "command" || strings.TrimSpace(entry.Command) == "" {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// validHookEvent 只认四个生命周期事件，未知事件的条目整条丢弃。
// validHookEvent accepts the four lifecycle events; entries naming anything
// else are dropped whole.
func validHookEvent(event string) bool {
	switch event {
	case "PreToolUse", "PostToolUse", "SessionStart", "Stop":
		return true
	default:
		return false
	}
}
