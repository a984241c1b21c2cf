package utiltransform

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/mihaisavezi/claude-code-open/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolUseRequestInjectsSystemReminderAndExitTool(t *testing.T) {
	tu := NewToolUse()
	req := &unified.ChatRequest{
		Messages: []unified.Message{{Role: unified.RoleUser, Content: "hi"}},
		Tools: []unified.Tool{{Type: "function", Function: unified.ToolFunction{Name: "search"}}},
	}
	out, cfg, err := tu.TransformRequestIn(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.Equal(t, "required", out.ToolChoice)
	require.Len(t, out.Tools, 2)
	assert.Equal(t, exitToolName, out.Tools[0].Function.Name)
	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, unified.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "Tool mode is active")
}

// TestToolUseExitToolCollapse covers end-to-end scenario 6 from spec §8.
func TestToolUseExitToolCollapse(t *testing.T) {
	tu := NewToolUse()
	body := `{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"1","function":{"name":"ExitTool","arguments":"{\"response\":\"done\"}"}}]}}]}`
	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(strings.NewReader(body)),
	}
	out, err := tu.TransformResponseOut(context.Background(), resp)
	require.NoError(t, err)
	raw, _ := io.ReadAll(out.Body)
	s := string(raw)
	assert.Contains(t, s, `"content":"done"`)
	assert.NotContains(t, s, "tool_calls")
}
