package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mihaisavezi/claude-code-open/internal/ssestream"
)

type geminiResponse struct {
	ResponseID    string            `json:"responseId,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	Candidates    []geminiCandidate `json:"candidates,omitempty"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// TransformResponseOut converts Gemini's JSON or SSE response into
// OpenAI-shaped chat.completion / chat.completion.chunk objects, per
// spec §4.6.2, so every downstream `use` transformer and endpoint
// response_in hook sees the same OpenAI dialect it would from any other
// backend.
func (t *Transformer) TransformResponseOut(_ context.Context, resp *http.Response) (*http.Response, error) {
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "stream") {
		return streamToOpenAI(resp)
	}
	return jsonToOpenAI(resp)
}

func jsonToOpenAI(resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp, err
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	out := map[string]any{
		"id":    gr.ResponseID,
		"model": gr.ModelVersion,
	}

	choice := map[string]any{"index": 0}
	message := map[string]any{"role": "assistant"}

	if len(gr.Candidates) > 0 {
		cand := gr.Candidates[0]

		var textParts []string
		var toolCalls []map[string]any
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				textParts = append(textParts, p.Text)
			}
			if p.FunctionCall != nil {
				args, _ := json.Marshal(p.FunctionCall.Args)
				toolCalls = append(toolCalls, map[string]any{
					"id":   fmt.Sprintf("call_gemini_%d", time.Now().UnixNano()),
					"type": "function",
					"function": map[string]any{
						"name":      p.FunctionCall.Name,
						"arguments": string(args),
					},
				})
			}
		}
		if len(textParts) > 0 {
			message["content"] = strings.Join(textParts, "\n")
		}
		if len(toolCalls) > 0 {
			message["tool_calls"] = toolCalls
		}
		choice["finish_reason"] = mapFinishReason(cand.FinishReason)
	}

	choice["message"] = message
	out["choices"] = []any{choice}

	if gr.UsageMetadata != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     gr.UsageMetadata.PromptTokenCount,
			"completion_tokens": gr.UsageMetadata.CandidatesTokenCount,
			"total_tokens":      gr.UsageMetadata.TotalTokenCount,
		}
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return resp, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(encoded))
	resp.ContentLength = int64(len(encoded))
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

// mapFinishReason copies Gemini's finishReason onto finish_reason, lowercased,
// per spec §4.6.2. Gemini's reason vocabulary (SAFETY, RECITATION, OTHER,
// LANGUAGE, ...) doesn't line up with OpenAI's (stop, length, tool_calls,
// content_filter); passing it through rather than remapping to a fixed set
// keeps a safety or recitation block distinguishable from a normal stop.
func mapFinishReason(reason string) any {
	if reason == "" {
		return nil
	}
	return strings.ToLower(reason)
}

// streamToOpenAI converts Gemini's SSE stream into OpenAI
// chat.completion.chunk SSE frames, one per `data:` line, applying the
// same text/functionCall field mapping used by jsonToOpenAI but against
// `delta` rather than `message`. When a chunk carries both text and a
// functionCall, the function call is emitted at index 1 so that the
// downstream Anthropic streaming converter opens a new content block
// after the text block, per spec §4.6.2.
func streamToOpenAI(resp *http.Response) (*http.Response, error) {
	pr, pw := io.Pipe()

	go func() {
		defer resp.Body.Close()
		defer pw.Close()

		var lb ssestream.LineBuffer
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, line := range lb.Feed(buf[:n]) {
					if out := convertLine(line); out != "" {
						fmt.Fprint(pw, out)
					}
				}
			}
			if err != nil {
				if tail := lb.Flush(); tail != "" {
					if out := convertLine(tail); out != "" {
						fmt.Fprint(pw, out)
					}
				}
				fmt.Fprint(pw, "data: [DONE]\n\n")
				if err != io.EOF {
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()

	resp.Body = pr
	resp.Header.Set("Content-Type", "text/event-stream")
	return resp, nil
}

func convertLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data:") {
		return ""
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "" {
		return ""
	}

	var gr geminiResponse
	if err := json.Unmarshal([]byte(payload), &gr); err != nil {
		return ""
	}
	if len(gr.Candidates) == 0 {
		return ""
	}
	cand := gr.Candidates[0]

	chunk := map[string]any{
		"id":    gr.ResponseID,
		"model": gr.ModelVersion,
	}

	var textParts []string
	var toolCalls []map[string]any
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			textParts = append(textParts, p.Text)
		}
		if p.FunctionCall != nil {
			args, _ := json.Marshal(p.FunctionCall.Args)
			toolCallIndex := 0
			if len(textParts) > 0 {
				toolCallIndex = 1
			}
			toolCalls = append(toolCalls, map[string]any{
				"index": toolCallIndex,
				"id":    fmt.Sprintf("call_gemini_%d", time.Now().UnixNano()),
				"type":  "function",
				"function": map[string]any{
					"name":      p.FunctionCall.Name,
					"arguments": string(args),
				},
			})
		}
	}

	delta := map[string]any{}
	if len(textParts) > 0 {
		delta["content"] = strings.Join(textParts, "\n")
	}
	if len(toolCalls) > 0 {
		delta["tool_calls"] = toolCalls
	}

	choice := map[string]any{"index": 0, "delta": delta}
	if cand.FinishReason != "" {
		choice["finish_reason"] = mapFinishReason(cand.FinishReason)
	} else {
		choice["finish_reason"] = nil
	}
	chunk["choices"] = []any{choice}

	if gr.UsageMetadata != nil {
		chunk["usage"] = map[string]any{
			"prompt_tokens":     gr.UsageMetadata.PromptTokenCount,
			"completion_tokens": gr.UsageMetadata.CandidatesTokenCount,
			"total_tokens":      gr.UsageMetadata.TotalTokenCount,
		}
	}

	b, err := json.Marshal(chunk)
	if err != nil {
		return ""
	}
	return "data: " + string(b) + "\n\n"
}
