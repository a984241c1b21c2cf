package router

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens the way spec §4.4 defines: cl100k_base BPE when
// available, falling back to ceil(len(bytes)/4). The teacher's
// countInputTokensCl100k counts the whole raw request body as one string;
// this implementation instead sums over the structured fields spec.md
// names, so a request dominated by a huge `tools` array or `system` block
// routes the same way a human reading the spec would expect.
type Tokenizer struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func NewTokenizer() *Tokenizer {
	t := &Tokenizer{}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		t.enc = enc
	}
	return t
}

// Count returns the token count of a single string.
func (t *Tokenizer) Count(s string) int {
	if s == "" {
		return 0
	}
	t.mu.Lock()
	enc := t.enc
	t.mu.Unlock()
	if enc == nil {
		return int(math.Ceil(float64(len(s)) / 4))
	}
	return len(enc.Encode(s, nil, nil))
}

// rawMessage is the subset of an inbound chat message this package needs
// to read, independent of dialect — dialects differ in field names for
// tool calls, but all of them carry `content`.
type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

type rawContentPart struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
}

type rawSystemPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rawTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CountRequest sums tokens over messages, the system field, and tools, per
// spec §4.4: "each message's content ...; the system field ...; every
// tool (name + description concatenated, plus JSON-encoded input_schema)".
func (t *Tokenizer) CountRequest(messages []json.RawMessage, system json.RawMessage, tools []json.RawMessage) int {
	total := 0
	for _, raw := range messages {
		var m rawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		total += t.countContent(m.Content)
	}
	total += t.countSystem(system)
	for _, raw := range tools {
		var tool rawTool
		if err := json.Unmarshal(raw, &tool); err != nil {
			continue
		}
		total += t.Count(tool.Name + tool.Description)
		if len(tool.InputSchema) > 0 {
			total += t.Count(string(tool.InputSchema))
		}
	}
	return total
}

func (t *Tokenizer) countContent(content json.RawMessage) int {
	if len(content) == 0 {
		return 0
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		return t.Count(asString)
	}
	var parts []rawContentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return 0
	}
	total := 0
	for _, p := range parts {
		switch p.Type {
		case "text":
			total += t.Count(p.Text)
		case "tool_use":
			if len(p.Input) > 0 {
				total += t.Count(string(p.Input))
			}
		case "tool_result":
			if len(p.Content) == 0 {
				continue
			}
			var asStr string
			if err := json.Unmarshal(p.Content, &asStr); err == nil {
				total += t.Count(asStr)
			} else {
				total += t.Count(string(p.Content))
			}
		}
	}
	return total
}

func (t *Tokenizer) countSystem(system json.RawMessage) int {
	if len(system) == 0 {
		return 0
	}
	var asString string
	if err := json.Unmarshal(system, &asString); err == nil {
		return t.Count(asString)
	}
	var parts []rawSystemPart
	if err := json.Unmarshal(system, &parts); err != nil {
		return 0
	}
	total := 0
	for _, p := range parts {
		total += t.Count(p.Text)
	}
	return total
}
