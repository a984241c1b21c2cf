package utiltransform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

const toolModeSystemReminder = `<system-reminder>Tool mode is active. The user expects you to proactively execute the most suitable tool to help complete the task.
Before invoking a tool, you must carefully evaluate whether it matches the current task. If no available tool is appropriate for the task, you MUST call the ` + "`ExitTool`" + ` to exit tool mode — this is the only valid way to terminate tool mode.
Always prioritize completing the user's task effectively and efficiently by using tools whenever appropriate.</system-reminder>`

const exitToolDescription = `Use this tool when you are in tool mode and have completed the task. This is the only valid way to exit tool mode.
IMPORTANT: Before using this tool, ensure that none of the available tools are applicable to the current task. You must evaluate all available options — only if no suitable tool can help you complete the task should you use ExitTool to terminate tool mode.
Examples:
1. Task: "Use a tool to summarize this document" — Do not use ExitTool if a summarization tool is available.
2. Task: "What's the weather today?" — If no tool is available to answer, use ExitTool after reasoning that none can fulfill the task.`

const exitToolName = "ExitTool"

// ToolUse implements the forced-tool mode from spec §4.7. It appends a
// system reminder, sets tool_choice=required, and prepends an ExitTool
// declaration whenever tools are present; on the response side it
// rewrites an ExitTool call into a plain assistant text message, both
// buffered and streaming. Grounded on
// original_source/pyllms/src/transformer/tooluse_transformer.py.
type ToolUse struct {
	transformer.Base
}

func NewToolUse() *ToolUse {
	return &ToolUse{Base: transformer.NewBase("tooluse")}
}

func (t *ToolUse) exitToolParameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"response":{"type":"string","description":"Your response will be forwarded to the user exactly as returned — the tool will not modify or post-process it in any way."}},"required":["response"]}`)
}

func (t *ToolUse) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	req.Messages = append(req.Messages, unified.Message{
		Role:    unified.RoleSystem,
		Content: toolModeSystemReminder,
	})

	if len(req.Tools) > 0 {
		req.ToolChoice = "required"
		exitTool := unified.Tool{
			Type: "function",
			Function: unified.ToolFunction{
				Name:        exitToolName,
				Description: exitToolDescription,
				Parameters:  t.exitToolParameters(),
			},
		}
		req.Tools = append([]unified.Tool{exitTool}, req.Tools...)
	}
	return req, nil, nil
}

func (t *ToolUse) TransformResponseOut(_ context.Context, resp *http.Response) (*http.Response, error) {
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		return t.rewriteBuffered(resp)
	case strings.Contains(contentType, "stream"):
		return t.rewriteStreaming(resp)
	default:
		return resp, nil
	}
}

func (t *ToolUse) rewriteBuffered(resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp, err
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	if choices, ok := parsed["choices"].([]any); ok && len(choices) > 0 {
		if choice0, ok := choices[0].(map[string]any); ok {
			if message, ok := choice0["message"].(map[string]any); ok {
				if toolCalls, ok := message["tool_calls"].([]any); ok && len(toolCalls) > 0 {
					if tc0, ok := toolCalls[0].(map[string]any); ok {
						if fn, ok := tc0["function"].(map[string]any); ok {
							if name, _ := fn["name"].(string); name == exitToolName {
								args, _ := fn["arguments"].(string)
								var parsedArgs map[string]any
								if err := json.Unmarshal([]byte(args), &parsedArgs); err == nil {
									message["content"] = parsedArgs["response"]
									delete(message, "tool_calls")
								}
							}
						}
					}
				}
			}
		}
	}

	out, err := json.Marshal(parsed)
	if err != nil {
		return resp, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	return resp, nil
}

func (t *ToolUse) rewriteStreaming(resp *http.Response) (*http.Response, error) {
	exitToolIndex := -1
	var exitToolResponse strings.Builder

	return rewriteStream(resp, func(line string) []string {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return nil
		}
		if !strings.HasPrefix(trimmed, "data:") {
			return []string{line}
		}
		if trimmed == "data: [DONE]" {
			return []string{line}
		}
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))

		var data map[string]any
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			return []string{line}
		}

		choices, _ := data["choices"].([]any)
		if len(choices) == 0 {
			return nil
		}
		choice0, _ := choices[0].(map[string]any)
		if choice0 == nil {
			return nil
		}
		delta, _ := choice0["delta"].(map[string]any)

		if delta != nil {
			if toolCalls, ok := delta["tool_calls"].([]any); ok && len(toolCalls) > 0 {
				tc0, _ := toolCalls[0].(map[string]any)
				if tc0 != nil {
					fn, _ := tc0["function"].(map[string]any)
					idx := 0
					if f, ok := tc0["index"].(float64); ok {
						idx = int(f)
					}
					if fn != nil {
						if name, _ := fn["name"].(string); name == exitToolName {
							exitToolIndex = idx
							return nil
						}
					}
					if exitToolIndex > -1 && idx == exitToolIndex {
						if fn != nil {
							if frag, ok := fn["arguments"].(string); ok && frag != "" {
								exitToolResponse.WriteString(frag)
								var parsedArgs map[string]any
								if err := json.Unmarshal([]byte(exitToolResponse.String()), &parsedArgs); err == nil {
									data["choices"] = []any{map[string]any{
										"delta": map[string]any{
											"role":    "assistant",
											"content": parsedArgs["response"],
										},
									}}
									b, _ := json.Marshal(data)
									return []string{"data: " + string(b)}
								}
							}
						}
						return nil
					}
				}
			}
		}

		if len(delta) == 0 {
			return nil
		}
		return []string{line}
	})
}
