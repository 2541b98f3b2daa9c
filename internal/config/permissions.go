package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// PermissionRule 一条有序防火墙式规则：tool glob（必填）+ 可选 resource glob。
// PermissionRule is one ordered firewall-style rule: a tool glob (required)
// plus an optional resource glob. First match wins.
type PermissionRule struct {
	Tool     string `json:"tool"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action"`
}

// PermissionConfig 权限规则集；DefaultAction 保证评估永远产出一个决策。
// PermissionConfig is the ordered rule set; DefaultAction guarantees
// evaluation always yields a decision.
type PermissionConfig struct {
	Rules         []PermissionRule `json:"rules"`
	DefaultAction string           `json:"defaultAction"`
}

// DefaultPermissions 内置默认规则集：实盘交易类工具需要确认，其余放行。
// DefaultPermissions is the built-in rule set: live-trading tools require
// confirmation, everything else is allowed.
func DefaultPermissions() PermissionConfig {
	return PermissionConfig{
		Rules: []PermissionRule{
			{Tool: "trading_live*", Action: "ask"},
			{Tool: "trading_*", Action: "ask"},
		},
		DefaultAction: "allow",
	}
}

// LoadPermissions 读取 <root>/.tino/permissions.json；缺失或损坏的文件静默回退
// 到内置规则集（ConfigError 不向上抛出），error 仅供调用方记录日志。
// LoadPermissions reads <root>/.tino/permissions.json; an absent or invalid
// file silently falls back to the built-in rule set (ConfigError is never
// surfaced), the error is returned for logging only.
func LoadPermissions(root string) (PermissionConfig, error) {
	path := filepath.Join(root, ".tino", "permissions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPermissions(), nil
		}
		return DefaultPermissions(), err
	}

	var cfg PermissionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultPermissions(), err
	}
	if !validPermissionConfig(cfg) {
		return DefaultPermissions(), nil
	}
	return cfg, nil
}

func validPermissionConfig(cfg PermissionConfig) bool {
	if !validAction(cfg.DefaultAction) {
		return false
	}
	for _, rule := range cfg.Rules {
		if strings.TrimSpace(rule.Tool) == "" || !validAction(rule.Action) {
			return false
		}
	}
	return true
}

func validAction(action string) bool {
	switch action {
	case "allow", "ask", "deny":
		return true
	default:
		return false
	}
}
