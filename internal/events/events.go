package events

import "time"

// Kind 回合事件类型。
// Kind is the type tag of one run event inside a turn.
type Kind string

const (
	KindToolStart   Kind = "tool_start"
	KindToolEnd     Kind = "tool_end"
	KindToolError   Kind = "tool_error"
	KindAnswerDelta Kind = "answer_delta"
	KindDone        Kind = "done"
)

// RunEvent 回合事件日志中的一条记录。同一回合内同一时间最多一个工具在执行，
// 因此 tool_start 与 tool_end/tool_error 可以按 CallID 一一配对。
// RunEvent is one record in a turn's event log. Within a turn at most one tool
// is active at a time, so tool_start pairs with tool_end/tool_error by CallID.
type RunEvent struct {
	Kind      Kind      `json:"kind"`
	ToolID    string    `json:"tool_id,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	Answer    string    `json:"answer,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone deep-copies an event slice for archival.
func Clone(evs []RunEvent) []RunEvent {
	if evs == nil {
		return nil
	}
	return append([]RunEvent(nil), evs...)
}

// FinalAnswer 从事件流提取回合最终回答：优先 done 事件携带的 answer，
// 否则拼接所有流式增量。
// FinalAnswer extracts the turn's final answer from the event stream: an
// explicit done event's answer wins, otherwise streamed deltas are joined.
func FinalAnswer(evs []RunEvent) string {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind == KindDone && evs[i].Answer != "" {
			return evs[i].Answer
		}
	}
	var out string
	for _, ev := range evs {
		if ev.Kind == KindAnswerDelta {
			out += ev.Delta
		}
	}
	return out
}
