package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"tino/internal/config"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// Engine 按声明顺序评估防火墙式规则集：第一条命中的规则生效，
// 无命中时返回 DefaultAction。调用方需把更具体的规则放在兜底规则之前。
// Engine evaluates a firewall-style ordered rule set: the first matching rule
// wins, and DefaultAction applies when nothing matches. Callers must declare
// more specific rules before catch-alls.
type Engine struct {
	cfg config.PermissionConfig
}

func New(cfg config.PermissionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Check 对 (tool, resource) 求值。tool glob 必须命中 toolID；声明了 resource
// glob 的规则还要求 resource 同时命中，resource 为空时这类规则永不匹配。
// Check evaluates (tool, resource). The tool glob must match toolID; a rule
// that declares a resource glob additionally requires the resource to match,
// so such a rule never matches when no resource is supplied.
func (e *Engine) Check(toolID, resource string) Decision {
	for _, rule := range e.cfg.Rules {
		if !globMatch(rule.Tool, toolID) {
			continue
		}
		if rule.Resource != "" {
			if resource == "" || !globMatch(rule.Resource, resource) {
				continue
			}
		}
		return normalizeDecision(rule.Action, e.defaultDecision())
	}
	return e.defaultDecision()
}

func (e *Engine) defaultDecision() Decision {
	return normalizeDecision(e.cfg.DefaultAction, DecisionAsk)
}

// globMatch 全锚定、大小写敏感的 glob 匹配；`*` 匹配任意字符串，斜杠也算。
// 这里的 tool/resource 是不透明标识（币对、数据源路径），不是文件路径，
// 匹配前先中和路径分隔符语义。
// globMatch is full-anchor, case-sensitive glob matching; `*` matches any run
// of characters, slashes included. Tools and resources are opaque identifiers
// (instrument pairs, data-source paths), not filesystem paths, so the path
// separator semantics are neutralized before matching. Invalid patterns never
// match.
func globMatch(pattern, value string) bool {
	// doublestar stops `*` at `/`; swap it for a byte no identifier carries.
	pattern = strings.ReplaceAll(pattern, "/", "\x00")
	value = strings.ReplaceAll(value, "/", "\x00")
	ok, err := doublestar.Match(pattern, value)
	if err != nil {
		return false
	}
	return ok
}

func normalizeDecision(raw string, fallback Decision) Decision {
	switch strings.TrimSpace(raw) {
	case string(DecisionAllow):
		return DecisionAllow
	case string(DecisionAsk):
		return DecisionAsk
	case string(DecisionDeny):
		return DecisionDeny
	default:
		return fallback
	}
}

// Summary 返回规则集简述（供 /permissions 类展示用）。
// Summary returns a short description of the rule set.
func (e *Engine) Summary() string {
	parts := make([]string, 0, len(e.cfg.Rules)+1)
	for _, rule := range e.cfg.Rules {
		entry := rule.Tool
		if rule.Resource != "" {
			entry += "(" + rule.Resource + ")"
		}
		parts = append(parts, entry+": "+rule.Action)
	}
	parts = append(parts, "default: "+string(e.defaultDecision()))
	return strings.Join(parts, ", ")
}
