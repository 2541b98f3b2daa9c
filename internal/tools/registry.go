package tools

import (
	"sort"

	"tino/internal/chat"
)

type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

func (r *Registry) Definitions() []chat.ToolDef {
	out := make([]chat.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// CategoryOf 返回工具声明的类别；未声明的按 standard 处理。
// CategoryOf returns the tool's declared category, standard when undeclared.
func (r *Registry) CategoryOf(name string) Category {
	t, ok := r.tools[name]
	if !ok {
		return CategoryStandard
	}
	if ca, ok := t.(CategoryAware); ok {
		return ca.Category()
	}
	return CategoryStandard
}
