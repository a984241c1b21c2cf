// Package anthropic implements the Anthropic Messages dialect transformer
// (spec §4.6 "Anthropic"): wire-to-unified on the request side and
// unified(OpenAI-shaped)-to-wire on the response side, including the SSE
// conversion from internal/ssestream. Grounded structurally on
// original_source/pyllms/src/transformer/anthropic_transformer.py.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

const EndPoint = "/v1/messages"

type Transformer struct {
	transformer.Base
}

func New() *Transformer {
	return &Transformer{Base: transformer.NewBase("anthropic")}
}

func (t *Transformer) EndPoint() string { return EndPoint }

func (t *Transformer) TransformRequestOut(_ context.Context, body []byte) (*unified.ChatRequest, *transformer.Config, error) {
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, nil, err
	}

	req := &unified.ChatRequest{
		Model:       wire.Model,
		MaxTokens:   wire.MaxTokens,
		Temperature: wire.Temperature,
		Stream:      wire.Stream,
		RawThinking: wire.Thinking,
	}

	if systemMsg, ok := liftSystem(wire.System); ok {
		req.Messages = append(req.Messages, systemMsg)
	}

	for _, m := range wire.Messages {
		req.Messages = append(req.Messages, convertMessage(m)...)
	}

	for _, tool := range wire.Tools {
		req.Tools = append(req.Tools, unified.Tool{
			Type: "function",
			Function: unified.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	if wire.ToolChoice != nil {
		req.ToolChoice = wire.ToolChoice
	}

	return req, nil, nil
}

// liftSystem turns Anthropic's `system` field — a bare string, or an array
// of {type:"text", text, cache_control?} — into a leading system message.
func liftSystem(raw json.RawMessage) (unified.Message, bool) {
	if len(raw) == 0 {
		return unified.Message{}, false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return unified.Message{Role: unified.RoleSystem, Content: asString}, true
	}

	var parts []wireSystemPart
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return unified.Message{}, false
	}
	content := make([]unified.ContentPart, 0, len(parts))
	for _, p := range parts {
		part := unified.ContentPart{Type: unified.PartText, Text: p.Text}
		if len(p.CacheControl) > 0 {
			var cc unified.CacheControl
			if err := json.Unmarshal(p.CacheControl, &cc); err == nil {
				part.CacheControl = &cc
			}
		}
		content = append(content, part)
	}
	return unified.Message{Role: unified.RoleSystem, Content: content}, true
}

// convertMessage expands one Anthropic message into zero or more unified
// messages. A user message's content array splits into tool-result
// messages (role:"tool") plus one collected user text message; an
// assistant message's content aggregates into one message carrying
// joined text and/or tool_calls.
func convertMessage(m wireMessage) []unified.Message {
	var plainText string
	if err := json.Unmarshal(m.Content, &plainText); err == nil {
		return []unified.Message{{Role: unified.Role(m.Role), Content: plainText}}
	}

	var parts []wireContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return nil
	}

	switch unified.Role(m.Role) {
	case unified.RoleAssistant:
		return []unified.Message{convertAssistantMessage(parts)}
	default:
		return convertUserMessage(parts)
	}
}

func convertUserMessage(parts []wireContentPart) []unified.Message {
	var out []unified.Message
	var textParts []unified.ContentPart

	for _, p := range parts {
		switch p.Type {
		case "tool_result":
			out = append(out, unified.Message{
				Role:       unified.RoleTool,
				ToolCallID: p.ToolUseID,
				Content:    toolResultString(p.Content),
			})
		case "text":
			textParts = append(textParts, unified.ContentPart{Type: unified.PartText, Text: p.Text})
		default:
			textParts = append(textParts, unified.ContentPart{Type: p.Type, Text: p.Text})
		}
	}

	if len(textParts) > 0 {
		out = append(out, unified.Message{Role: unified.RoleUser, Content: joinText(textParts)})
	}
	return out
}

func convertAssistantMessage(parts []wireContentPart) unified.Message {
	msg := unified.Message{Role: unified.RoleAssistant}
	var textParts []unified.ContentPart

	for _, p := range parts {
		switch p.Type {
		case "text":
			textParts = append(textParts, unified.ContentPart{Type: unified.PartText, Text: p.Text})
		case "tool_use":
			input := p.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			msg.ToolCalls = append(msg.ToolCalls, unified.ToolCall{
				ID:   p.ID,
				Type: "function",
				Function: unified.FunctionCall{
					Name:      p.Name,
					Arguments: string(input),
				},
			})
		}
	}

	if len(textParts) > 0 {
		msg.Content = joinText(textParts)
	}
	return msg
}

func joinText(parts []unified.ContentPart) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// toolResultString stringifies a tool_result's content, which may arrive
// as a bare JSON string or as a structured value (array of parts, object).
func toolResultString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (t *Transformer) TransformResponseIn(_ context.Context, resp *http.Response) (*http.Response, error) {
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "stream") {
		return streamToAnthropic(resp)
	}
	return jsonToAnthropic(resp)
}
