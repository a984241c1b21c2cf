package anthropic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mihaisavezi/claude-code-open/internal/ssestream"
)

// openAIResponse mirrors the OpenAI-shaped chat.completion body every
// upstream call eventually produces (after provider/model response_out
// chains have run), used as the input to the non-streaming JSON converter.
type openAIResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openAIChoice     `json:"choices"`
	Usage   *openAIUsage       `json:"usage,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason *string       `json:"finish_reason"`
}

type openAIMessage struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []openAIToolCall   `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// jsonToAnthropic converts a buffered OpenAI-shaped chat.completion body
// into the Anthropic Messages non-streaming response shape.
func jsonToAnthropic(resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp, err
	}

	var oa openAIResponse
	if err := json.Unmarshal(body, &oa); err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	out := wireResponse{
		ID:    oa.ID,
		Type:  "message",
		Role:  "assistant",
		Model: oa.Model,
		Usage: wireUsage{},
	}
	if oa.Usage != nil {
		out.Usage.InputTokens = oa.Usage.PromptTokens
		out.Usage.OutputTokens = oa.Usage.CompletionTokens
	}

	if len(oa.Choices) > 0 {
		choice := oa.Choices[0]
		if choice.Message.Content != "" {
			out.Content = append(out.Content, wireContentBlock{Type: "text", Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if len(input) == 0 || !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			out.Content = append(out.Content, wireContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: input,
			})
		}
		if choice.FinishReason != nil {
			reason := mapFinishReason(*choice.FinishReason)
			out.StopReason = &reason
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

func mapFinishReason(reason string) string {
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

// streamToAnthropic wraps resp.Body with a bounded line buffer and feeds
// every complete line through an ssestream.Converter, writing the rendered
// Anthropic SSE frames to a piped response body. Grounded on spec §4.6.1.
func streamToAnthropic(resp *http.Response) (*http.Response, error) {
	pr, pw := io.Pipe()
	conv := ssestream.NewConverter()

	go func() {
		defer resp.Body.Close()
		defer pw.Close()

		var lb ssestream.LineBuffer
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, line := range lb.Feed(buf[:n]) {
					if frames := conv.ProcessLine(line); frames != "" {
						fmt.Fprint(pw, frames)
					}
				}
			}
			if err != nil {
				if tail := lb.Flush(); tail != "" {
					if frames := conv.ProcessLine(tail); frames != "" {
						fmt.Fprint(pw, frames)
					}
				}
				if err != io.EOF {
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()

	resp.Body = pr
	resp.Header.Set("Content-Type", "text/event-stream")
	resp.Header.Set("Cache-Control", "no-cache")
	resp.Header.Set("Connection", "keep-alive")
	return resp, nil
}
