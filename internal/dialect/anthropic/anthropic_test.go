package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/mihaisavezi/claude-code-open/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformRequestOutLiftsSystemAndSplitsToolResult(t *testing.T) {
	tr := New()
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 1024,
		"system": "be terse",
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "call_1", "content": "42"},
				{"type": "text", "text": "what next?"}
			]},
			{"role": "assistant", "content": [
				{"type": "text", "text": "done"},
				{"type": "tool_use", "id": "call_2", "name": "search", "input": {"q": "go"}}
			]}
		],
		"tools": [{"name": "search", "description": "web search", "input_schema": {"type": "object"}}]
	}`)

	req, cfg, err := tr.TransformRequestOut(context.Background(), body)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	require.Len(t, req.Messages, 4)

	assert.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content)

	assert.Equal(t, unified.RoleTool, req.Messages[1].Role)
	assert.Equal(t, "call_1", req.Messages[1].ToolCallID)
	assert.Equal(t, "42", req.Messages[1].Content)

	assert.Equal(t, unified.RoleUser, req.Messages[2].Role)
	assert.Equal(t, "what next?", req.Messages[2].Content)

	assistant := req.Messages[3]
	assert.Equal(t, unified.RoleAssistant, assistant.Role)
	assert.Equal(t, "done", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "search", assistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"q":"go"}`, assistant.ToolCalls[0].Function.Arguments)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "function", req.Tools[0].Type)
	assert.Equal(t, "search", req.Tools[0].Function.Name)
}

func TestTransformResponseInJSON(t *testing.T) {
	tr := New()
	body := `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`
	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(bytes.NewReader([]byte(body))),
	}

	out, err := tr.TransformResponseIn(context.Background(), resp)
	require.NoError(t, err)
	raw, _ := io.ReadAll(out.Body)

	var wr wireResponse
	require.NoError(t, json.Unmarshal(raw, &wr))
	assert.Equal(t, "message", wr.Type)
	require.Len(t, wr.Content, 1)
	assert.Equal(t, "hi", wr.Content[0].Text)
	require.NotNil(t, wr.StopReason)
	assert.Equal(t, "end_turn", *wr.StopReason)
	assert.Equal(t, 3, wr.Usage.InputTokens)
}

func TestTransformResponseInStream(t *testing.T) {
	tr := New()
	sse := "data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"
	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:   io.NopCloser(bytes.NewReader([]byte(sse))),
	}

	out, err := tr.TransformResponseIn(context.Background(), resp)
	require.NoError(t, err)
	raw, _ := io.ReadAll(out.Body)
	s := string(raw)
	assert.Contains(t, s, "event: message_start")
	assert.Contains(t, s, "event: content_block_start")
	assert.Contains(t, s, "event: message_stop")
}
