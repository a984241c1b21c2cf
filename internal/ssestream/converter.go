// Package ssestream implements the OpenAI-chunk → Anthropic-event SSE
// converter described in spec §4.6.1 — the hardest subsystem in the
// gateway. It is shared by every transformer whose upstream speaks
// OpenAI-style streaming chunks (OpenAI itself, and after the utility
// transformers normalize them, Groq/DeepSeek/OpenRouter), grounded on the
// teacher's internal/providers/openai.go per-chunk state machine
// generalized with full thinking-block and tool-id-upgrade handling.
package ssestream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// toolCallState tracks one upstream tool_calls[i] slot across chunks.
type toolCallState struct {
	id            string
	name          string
	blockIndex    int
	idSynthetic   bool
	nameSynthetic bool
}

// openBlockKind enumerates the kinds of Anthropic content block the
// converter can have open at any moment.
type openBlockKind int

const (
	blockNone openBlockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// Converter holds the full state machine described in spec §4.6.1:
// message_id, model, has_started, text_block_open, next_content_index,
// the tool_calls map, and finished.
type Converter struct {
	messageID string
	model     string

	hasStarted bool
	finished   bool

	currentIndex int
	openKind     openBlockKind

	toolCalls map[int]*toolCallState

	nowMs func() int64 // overridable for tests
}

func NewConverter() *Converter {
	return &Converter{
		toolCalls: make(map[int]*toolCallState),
		nowMs:     func() int64 { return time.Now().UnixMilli() },
	}
}

// event is one `event: <name>\ndata: <json>\n\n` frame.
type event struct {
	name string
	data any
}

func (e event) render() string {
	b, err := json.Marshal(e.data)
	if err != nil {
		b = []byte(`{}`)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.name, b)
}

// ProcessLine consumes one complete SSE `data: ...` line (without its
// trailing newline) and returns the rendered Anthropic SSE frames it
// produces, if any. Non-data lines and `data: [DONE]` produce nothing.
func (c *Converter) ProcessLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return ""
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return ""
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// Not valid JSON; nothing sensible to convert, drop the line.
		return ""
	}
	return c.ProcessChunk(&chunk)
}

// ProcessChunk applies one decoded chunk to the state machine and returns
// the rendered Anthropic SSE frames it produces.
func (c *Converter) ProcessChunk(chunk *Chunk) string {
	if c.finished {
		return ""
	}

	var out strings.Builder

	if len(chunk.Error) > 0 {
		out.WriteString(event{"error", map[string]any{
			"type":    "api_error",
			"message": string(chunk.Error),
		}}.render())
		return out.String()
	}

	if !c.hasStarted {
		c.messageID = chunk.ID
		if c.messageID == "" {
			c.messageID = fmt.Sprintf("msg_%d", c.nowMs())
		}
		c.model = chunk.Model
		out.WriteString(event{"message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":          c.messageID,
				"type":        "message",
				"role":        "assistant",
				"model":       c.model,
				"content":     []any{},
				"stop_reason": nil,
				"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
			},
		}}.render())
		c.hasStarted = true
	}
	if c.model == "" && chunk.Model != "" {
		c.model = chunk.Model
	}

	for _, choice := range chunk.Choices {
		c.processChoice(&out, choice, chunk.Usage)
	}

	return out.String()
}

func (c *Converter) processChoice(out *strings.Builder, choice ChunkChoice, usage json.RawMessage) {
	delta := choice.Delta

	if delta.Thinking != nil {
		c.handleThinking(out, *delta.Thinking)
	}
	if delta.Content != "" {
		c.handleText(out, delta.Content)
	}
	for _, tc := range delta.ToolCalls {
		c.handleToolCall(out, tc)
	}
	if choice.FinishReason != nil {
		c.handleFinish(out, *choice.FinishReason, usage)
	}
}

func (c *Converter) closeOpenBlock(out *strings.Builder) {
	if c.openKind == blockNone {
		return
	}
	out.WriteString(event{"content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": c.currentIndex,
	}}.render())
	c.currentIndex++
	c.openKind = blockNone
}

func (c *Converter) handleText(out *strings.Builder, content string) {
	if c.openKind != blockText {
		c.closeOpenBlock(out)
		out.WriteString(event{"content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": c.currentIndex,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		}}.render())
		c.openKind = blockText
	}
	out.WriteString(event{"content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": c.currentIndex,
		"delta": map[string]any{
			"type": "text_delta",
			"text": content,
		},
	}}.render())
}

// handleThinking implements the thinking_delta/signature_delta sequence
// from spec §4.6.1. The spec names only the delta and stop events, not a
// content_block_start for the thinking block; a content_block_start is
// added here on first sight of a thinking delta to preserve invariant P1
// ("every content_block_start has a matching later content_block_stop").
func (c *Converter) handleThinking(out *strings.Builder, thinking ThinkingDelta) {
	if thinking.Content != "" {
		if c.openKind != blockThinking {
			c.closeOpenBlock(out)
			out.WriteString(event{"content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": c.currentIndex,
				"content_block": map[string]any{
					"type":     "thinking",
					"thinking": "",
				},
			}}.render())
			c.openKind = blockThinking
		}
		out.WriteString(event{"content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": c.currentIndex,
			"delta": map[string]any{
				"type":     "thinking_delta",
				"thinking": thinking.Content,
			},
		}}.render())
	}
	if thinking.Signature != "" {
		out.WriteString(event{"content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": c.currentIndex,
			"delta": map[string]any{
				"type":      "signature_delta",
				"signature": thinking.Signature,
			},
		}}.render())
		out.WriteString(event{"content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": c.currentIndex,
		}}.render())
		c.currentIndex++
		c.openKind = blockNone
	}
}

func (c *Converter) handleToolCall(out *strings.Builder, tc ToolCallDelta) {
	state, exists := c.toolCalls[tc.Index]
	if !exists {
		c.closeOpenBlock(out)

		id := tc.ID
		idSynthetic := id == ""
		if idSynthetic {
			id = fmt.Sprintf("call_%d_%d", c.nowMs(), tc.Index)
		}
		name := ""
		if tc.Function != nil {
			name = tc.Function.Name
		}
		nameSynthetic := name == ""

		state = &toolCallState{
			id:            id,
			name:          name,
			blockIndex:    c.currentIndex,
			idSynthetic:   idSynthetic,
			nameSynthetic: nameSynthetic,
		}
		c.toolCalls[tc.Index] = state
		c.openKind = blockToolUse

		out.WriteString(event{"content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": state.blockIndex,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  name,
				"input": map[string]any{},
			},
		}}.render())
	} else {
		if tc.ID != "" && state.idSynthetic {
			state.id = tc.ID
			state.idSynthetic = false
		}
		if tc.Function != nil && tc.Function.Name != "" && state.nameSynthetic {
			state.name = tc.Function.Name
			state.nameSynthetic = false
		}
	}

	if tc.Function == nil || tc.Function.Arguments == "" {
		return
	}
	fragment := tc.Function.Arguments
	payload, err := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"index": state.blockIndex,
		"delta": map[string]any{
			"type":         "input_json_delta",
			"partial_json": fragment,
		},
	})
	if err != nil {
		// Retry once with backslashes/quotes escaped, per spec §4.6.1.
		fragment = strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(fragment)
		payload, _ = json.Marshal(map[string]any{
			"type":  "content_block_delta",
			"index": state.blockIndex,
			"delta": map[string]any{
				"type":         "input_json_delta",
				"partial_json": fragment,
			},
		})
	}
	out.WriteString(fmt.Sprintf("event: content_block_delta\ndata: %s\n\n", payload))
}

// mapStopReason translates an OpenAI finish_reason into an Anthropic
// stop_reason, per spec §4.6.1.
func mapStopReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// openAIUsage mirrors the usage object OpenAI-style chunks carry on their
// terminal entry. Any of the three fields may be absent depending on the
// upstream provider.
type openAIUsage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

// anthropicUsage translates the OpenAI-shaped usage carried on the terminal
// chunk into the Anthropic message_delta usage shape, per spec §4.6.1
// ("usage copied from the chunk"). When the chunk carries no usage at all,
// it falls back to a zero output_tokens rather than omitting the field, since
// Anthropic clients expect usage to always be present on message_delta.
func anthropicUsage(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"output_tokens": 0}
	}

	var u openAIUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return map[string]any{"output_tokens": 0}
	}

	out := map[string]any{}
	if u.CompletionTokens != nil {
		out["output_tokens"] = *u.CompletionTokens
	} else {
		out["output_tokens"] = 0
	}
	if u.PromptTokens != nil {
		out["input_tokens"] = *u.PromptTokens
	}

	return out
}

func (c *Converter) handleFinish(out *strings.Builder, finishReason string, usage json.RawMessage) {
	if c.finished {
		return
	}
	c.closeOpenBlock(out)

	delta := map[string]any{
		"stop_reason":   mapStopReason(finishReason),
		"stop_sequence": nil,
	}
	out.WriteString(event{"message_delta", map[string]any{
		"type":  "message_delta",
		"delta": delta,
		"usage": anthropicUsage(usage),
	}}.render())
	out.WriteString(event{"message_stop", map[string]any{
		"type": "message_stop",
	}}.render())
	c.finished = true
}

// Finished reports whether a terminal finish_reason has already been
// processed; callers use this to stop feeding further chunks.
func (c *Converter) Finished() bool { return c.finished }
