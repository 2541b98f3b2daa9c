package chat

// ToolFunction describes a function tool definition exposed to the model layer.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDef describes one function tool exposed to the model.
type ToolDef struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCallFunction is the function payload of a model tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single tool invocation requested by the model layer.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
	// Resource 是权限检查用的资源标识（如交易标的、数据源路径），可为空。
	// Resource is the resource identifier for permission checks (e.g. an
	// instrument or data-source path); may be empty.
	Resource string `json:"resource,omitempty"`
}

// Message 会话消息（user / assistant / tool）。
// Message is one conversation message (user / assistant / tool).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// CloneHistory 深拷贝消息序列（检查点快照用，避免后续回合修改到已存档历史）。
// CloneHistory deep-copies a message sequence (used by checkpoint snapshots so
// later turns cannot mutate archived history).
func CloneHistory(history []Message) []Message {
	if history == nil {
		return nil
	}
	out := make([]Message, len(history))
	for i, msg := range history {
		out[i] = msg
		if len(msg.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
		}
	}
	return out
}
