package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Checkpoint.MaxCount != 50 {
		t.Fatalf("max count=%d, want 50", cfg.Checkpoint.MaxCount)
	}
	if cfg.Checkpoint.Dir != filepath.Join(root, ".tino", "checkpoints") {
		t.Fatalf("checkpoint dir=%s", cfg.Checkpoint.Dir)
	}
	if cfg.Executor.DefaultTimeoutMS != 30000 {
		t.Fatalf("default timeout=%d", cfg.Executor.DefaultTimeoutMS)
	}
	if cfg.Executor.CategoryTimeoutsMS["backtest"] != 300000 {
		t.Fatalf("backtest timeout=%d", cfg.Executor.CategoryTimeoutsMS["backtest"])
	}
}

func TestLoadOverlayMerge(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, ".tino/config.json", `{
		"engine": {"health_url": "http://127.0.0.1:9999/status"},
		"checkpoint": {"max_count": 10},
		"executor": {"category_timeouts_ms": {"simulation": 90000}}
	}`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.HealthURL != "http://127.0.0.1:9999/status" {
		t.Fatalf("health url=%s", cfg.Engine.HealthURL)
	}
	if cfg.Checkpoint.MaxCount != 10 {
		t.Fatalf("max count=%d", cfg.Checkpoint.MaxCount)
	}
	if cfg.Executor.CategoryTimeoutsMS["simulation"] != 90000 {
		t.Fatalf("simulation timeout=%d", cfg.Executor.CategoryTimeoutsMS["simulation"])
	}
	// untouched categories keep defaults
	if cfg.Executor.CategoryTimeoutsMS["backtest"] != 300000 {
		t.Fatalf("backtest timeout=%d", cfg.Executor.CategoryTimeoutsMS["backtest"])
	}
}

func TestLoadMalformedFallsBack(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, ".tino/config.json", `{not json`)

	cfg, err := Load(root)
	if err == nil {
		t.Fatal("want advisory error for malformed config")
	}
	if cfg.Checkpoint.MaxCount != 50 {
		t.Fatalf("malformed config should fall back to defaults, max=%d", cfg.Checkpoint.MaxCount)
	}
}

func TestLoadPermissionsFallback(t *testing.T) {
	root := t.TempDir()

	cfg, err := LoadPermissions(root)
	if err != nil {
		t.Fatalf("load permissions: %v", err)
	}
	if cfg.DefaultAction != "allow" {
		t.Fatalf("default action=%s", cfg.DefaultAction)
	}
	if len(cfg.Rules) == 0 {
		t.Fatal("built-in rules should not be empty")
	}

	writeProjectFile(t, root, ".tino/permissions.json", `{broken`)
	cfg, err = LoadPermissions(root)
	if err == nil {
		t.Fatal("want advisory error for broken permissions file")
	}
	if cfg.DefaultAction != "allow" {
		t.Fatalf("broken file should fall back, default=%s", cfg.DefaultAction)
	}
}

func TestLoadPermissionsInvalidActionFallsBack(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, ".tino/permissions.json", `{
		"rules": [{"tool": "trading_*", "action": "maybe"}],
		"defaultAction": "allow"
	}`)

	cfg, err := LoadPermissions(root)
	if err != nil {
		t.Fatalf("load permissions: %v", err)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0].Tool != "trading_live*" {
		t.Fatalf("invalid action should fall back to built-ins, got %+v", cfg.Rules)
	}
}

func TestLoadHooks(t *testing.T) {
	root := t.TempDir()

	hooks, err := LoadHooks(root)
	if err != nil {
		t.Fatalf("load hooks: %v", err)
	}
	if len(hooks) != 0 {
		t.Fatalf("missing file should yield no hooks, got %d", len(hooks))
	}

	writeProjectFile(t, root, ".tino/hooks.json", `[
		{"event": "PreToolUse", "kind": "command", "command": "check-order.sh"},
		{"event": "PostToolUse", "kind": "command", "command": ""},
		{"event": "Stop", "kind": "command", "command": "notify.sh"}
	]`)
	hooks, err = LoadHooks(root)
	if err != nil {
		t.Fatalf("load hooks: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("want 2 valid hooks, got %d", len(hooks))
	}
	if hooks[0].Command != "check-order.sh" || hooks[1].Event != "Stop" {
		t.Fatalf("hook order not preserved: %+v", hooks)
	}

	// entries naming an unknown lifecycle event are dropped whole
	writeProjectFile(t, root, ".tino/hooks.json", `[
		{"event": "BeforeEverything", "kind": "command", "command": "never.sh"},
		{"event": "SessionStart", "kind": "command", "command": "warmup.sh"}
	]`)
	hooks, err = LoadHooks(root)
	if err != nil {
		t.Fatalf("load hooks: %v", err)
	}
	if len(hooks) != 1 || hooks[0].Event != "SessionStart" {
		t.Fatalf("unknown event should be filtered, got %+v", hooks)
	}

	writeProjectFile(t, root, ".tino/hooks.json", `not an array`)
	hooks, err = LoadHooks(root)
	if err == nil {
		t.Fatal("want advisory error for invalid hooks file")
	}
	if hooks != nil {
		t.Fatalf("invalid file should yield no hooks, got %+v", hooks)
	}
}
