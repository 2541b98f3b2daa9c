package checkpoint

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"tino/internal/chat"
)

// Tokenizer 会话快照的 token 计数器，tiktoken 不可用时回退到启发式估算。
// Tokenizer counts tokens for conversation snapshots, falling back to a
// heuristic estimate when tiktoken is unavailable.
type Tokenizer struct {
	encoder  *tiktoken.Tiktoken
	fallback bool
	mu       sync.RWMutex
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

func DefaultTokenizer() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = NewTokenizer("cl100k_base")
	})
	return defaultTokenizer
}

// NewTokenizer 创建计数器；离线环境可能没有 BPE 缓存，此时使用启发式。
// NewTokenizer creates a tokenizer; offline environments may lack the BPE
// cache, in which case the heuristic is used.
func NewTokenizer(encodingName string) *Tokenizer {
	t := &Tokenizer{}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

// CountHistory 计算一份会话历史的总 token 数。
// CountHistory returns the total token count of a conversation history.
func (t *Tokenizer) CountHistory(history []chat.Message) int {
	total := 0
	for _, msg := range history {
		// per-message structural overhead
		total += 4
		total += t.CountText(msg.Role)
		total += t.CountText(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += t.CountText(tc.Function.Name)
			total += t.CountText(tc.Function.Arguments)
			total += 8
		}
	}
	return total
}

func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback {
		return heuristicTokenCount(text)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// heuristicTokenCount CJK 字符约 1.5 token/字，ASCII 约 4 字符/token。
// heuristicTokenCount: CJK characters are roughly 1.5 tokens each, ASCII
// roughly 4 chars per token.
func heuristicTokenCount(text string) int {
	cjk := 0
	ascii := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			ascii++
		}
	}
	estimate := int(float64(cjk)*1.5 + float64(ascii)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
