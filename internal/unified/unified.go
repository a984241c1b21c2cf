// Package unified defines the canonical chat-request/response shapes that
// sit between wire dialects. Dialect transformers convert to and from this
// shape; every other component (router, utility transformers, egress)
// operates exclusively on it.
package unified

import "encoding/json"

// Role is one of the four message roles the pipeline understands.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPart is a tagged variant: text, image, tool_use, or tool_result.
type ContentPart struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	ImageURL    string `json:"url,omitempty"`
	ImageDetail string `json:"detail,omitempty"`

	// tool_use
	ToolUseID   string          `json:"id,omitempty"`
	ToolName    string          `json:"name,omitempty"`
	ToolInput   json.RawMessage `json:"input,omitempty"`
	CacheControl *CacheControl  `json:"cache_control,omitempty"`

	// tool_result
	ToolResultID      string          `json:"tool_use_id,omitempty"`
	ToolResultContent json.RawMessage `json:"content,omitempty"`
}

const (
	PartText       = "text"
	PartImage      = "image"
	PartToolUse    = "tool_use"
	PartToolResult = "tool_result"
)

// CacheControl is an opaque per-provider cache hint, propagated unchanged
// unless a transformer strips it.
type CacheControl struct {
	Type string `json:"type,omitempty"`
}

// Thinking carries a reasoning trace surfaced by a provider.
type Thinking struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// FunctionCall is the JSON-text arguments form of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single assistant-issued function invocation. Arguments may
// arrive in fragments during streaming and must be concatenated in
// emission order before being treated as complete JSON.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is a single turn. Content is either a plain string, a sequence of
// ContentPart, or nil when only ToolCalls is populated.
type Message struct {
	Role       Role            `json:"role"`
	Content    any             `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Cache      *CacheControl   `json:"cache_control,omitempty"`
	Thinking   *Thinking       `json:"thinking,omitempty"`
}

// ContentString returns the message content as a string, joining text parts
// with newlines if Content is a part sequence. Used by transformers that
// need a flat string view regardless of how the message arrived.
func (m *Message) ContentString() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []ContentPart:
		out := ""
		for i, p := range c {
			if p.Type != PartText {
				continue
			}
			if i > 0 && out != "" {
				out += "\n"
			}
			out += p.Text
		}
		return out
	default:
		return ""
	}
}

// ToolFunction describes a callable function in JSON-Schema terms.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ChatRequest is the canonical request shape every dialect transformer
// produces and consumes.
type ChatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
	Tools       []Tool     `json:"tools,omitempty"`
	ToolChoice  any        `json:"tool_choice,omitempty"`

	// Thinking carries the client's reasoning-mode request, if any; the
	// router inspects this for a truthy value when applying rule 4.
	RawThinking json.RawMessage `json:"thinking,omitempty"`
}

// ThinkingIsTruthy reports whether the request carries a non-empty,
// non-false `thinking` field, per router rule 4.
func (r *ChatRequest) ThinkingIsTruthy() bool {
	if len(r.RawThinking) == 0 {
		return false
	}
	switch string(r.RawThinking) {
	case "null", "false", `""`, "0", "{}":
		return false
	default:
		return true
	}
}

// Usage mirrors the OpenAI-shaped usage block carried on unified responses.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
