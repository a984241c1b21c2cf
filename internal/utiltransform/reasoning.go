// Package utiltransform holds the provider/model `use`-chain transformers
// from spec §4.7: maxtoken, deepseek, openrouter, groq, and tooluse.
package utiltransform

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mihaisavezi/claude-code-open/internal/ssestream"
)

// reasoningRewriter implements the reasoning→thinking state machine shared
// by deepseek and openrouter (spec §4.7, Design Note "implement once, do
// not duplicate"), parameterized by the upstream field name
// (`reasoning_content` for deepseek, `reasoning` for openrouter).
//
// Grounded on original_source/pyllms/src/transformer/deepseek_transformer.py
// and .../openrouter_transformer.py, which carry the identical logic keyed
// on different field names.
type reasoningRewriter struct {
	field              string // "reasoning_content" or "reasoning"
	reasoningSoFar     strings.Builder
	reasoningComplete  bool
	nowMs              func() int64
}

func newReasoningRewriter(field string) *reasoningRewriter {
	return &reasoningRewriter{
		field: field,
		nowMs: func() int64 { return time.Now().UnixMilli() },
	}
}

// rewriteLine rewrites one `data: {...}` line, returning the line(s) to
// forward downstream. Non-data lines and [DONE] pass through unchanged.
func (r *reasoningRewriter) rewriteLine(line string) []string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data:") || trimmed == "data: [DONE]" {
		return []string{line}
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))

	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return []string{line}
	}

	choices, _ := raw["choices"].([]any)
	if len(choices) == 0 {
		return []string{line}
	}
	choice0, _ := choices[0].(map[string]any)
	if choice0 == nil {
		return []string{line}
	}
	delta, _ := choice0["delta"].(map[string]any)
	if delta == nil {
		return []string{line}
	}

	var out []string

	if reasoningFragment, ok := delta[r.field].(string); ok && reasoningFragment != "" {
		r.reasoningSoFar.WriteString(reasoningFragment)

		thinkingDelta := cloneMap(delta)
		delete(thinkingDelta, r.field)
		thinkingDelta["thinking"] = map[string]any{"content": reasoningFragment}
		out = append(out, renderChunk(raw, choice0, thinkingDelta))
		return out
	}

	if content, ok := delta["content"].(string); ok && content != "" && r.reasoningSoFar.Len() > 0 && !r.reasoningComplete {
		r.reasoningComplete = true
		signature := strconv.FormatInt(r.nowMs(), 10)

		closeDelta := cloneMap(delta)
		closeDelta["content"] = nil
		delete(closeDelta, r.field)
		closeDelta["thinking"] = map[string]any{
			"content":   r.reasoningSoFar.String(),
			"signature": signature,
		}
		out = append(out, renderChunk(raw, choice0, closeDelta))
	}

	delete(delta, r.field)
	if len(delta) == 0 {
		return out
	}
	if r.reasoningComplete {
		if idx, ok := choice0["index"].(float64); ok {
			choice0["index"] = idx + 1
		} else {
			choice0["index"] = 1
		}
	}
	out = append(out, renderChunk(raw, choice0, delta))
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func renderChunk(raw map[string]any, choice0 map[string]any, delta map[string]any) string {
	choice0 = cloneMap(choice0)
	choice0["delta"] = delta
	raw = cloneMap(raw)
	raw["choices"] = []any{choice0}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return "data: " + string(b)
}

// rewriteStream wraps resp.Body with a bounded line buffer, applies
// rewriteLine to every data line, and returns a new response whose body
// yields the rewritten stream. Used by deepseek/openrouter's
// TransformResponseOut.
func rewriteStream(resp *http.Response, rewrite func(line string) []string) (*http.Response, error) {
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "stream") {
		return resp, nil
	}

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
					for _, out := range rewrite(line) {
						fmt.Fprintf(pw, "%s\n", out)
					}
				}
			}
			if err != nil {
				if tail := lb.Flush(); tail != "" {
					for _, out := range rewrite(tail) {
						fmt.Fprintf(pw, "%s\n", out)
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
	return resp, nil
}
