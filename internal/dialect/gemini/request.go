// Package gemini implements the Google Gemini generateContent dialect
// (spec §4.6 "Gemini"). Unlike anthropic/openai it is not a client-facing
// endpoint transformer: its hooks are invoked from a provider or model
// `use` chain (transform_request_in/transform_response_out), not
// request_out/response_in, so it carries no EndPoint() — see DESIGN.md.
// Grounded structurally on the teacher's internal/providers/gemini.go
// Anthropic<->Gemini converters, generalized to operate on the unified
// model instead of Anthropic's wire shape directly.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

type Transformer struct {
	transformer.Base
}

func New() *Transformer {
	return &Transformer{Base: transformer.NewBase("gemini")}
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type requestBody struct {
	Contents         []content         `json:"contents"`
	Tools            []geminiTool      `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

// TransformRequestIn builds the Gemini wire body from the unified request
// and hands the pipeline a Config.Body override plus a rewritten URL and
// x-goog-api-key auth, per spec §4.6.
func (t *Transformer) TransformRequestIn(_ context.Context, req *unified.ChatRequest, p transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	body := requestBody{}

	for _, m := range req.Messages {
		body.Contents = append(body.Contents, convertMessage(m))
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  sanitizeSchema(tool.Function.Parameters),
			})
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if req.MaxTokens != nil || req.Temperature != nil {
		body.GenerationConfig = &generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	action := "generateContent"
	if req.Stream {
		action = "streamGenerateContent?alt=sse"
	}
	url := strings.TrimRight(p.ProviderBaseURL(), "/") + "/" + req.Model + ":" + action

	cfg := &transformer.Config{
		URL:  url,
		Body: encoded,
		Headers: map[string]string{
			"x-goog-api-key": p.ProviderAPIKey(),
			"Authorization":  "",
		},
	}
	return req, cfg, nil
}

func convertMessage(m unified.Message) content {
	role := "user"
	if m.Role == unified.RoleAssistant {
		role = "model"
	}

	var parts []part
	switch c := m.Content.(type) {
	case string:
		if c != "" {
			parts = append(parts, part{Text: c})
		}
	case []unified.ContentPart:
		for _, p := range c {
			if p.Type == unified.PartText {
				parts = append(parts, part{Text: p.Text})
			}
		}
	}

	for _, tc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		parts = append(parts, part{FunctionCall: &functionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}

	return content{Role: role, Parts: parts}
}

// sanitizeSchema strips JSON-Schema keys Gemini's function-declaration
// parser rejects: $schema, additionalProperties, and any format value other
// than enum/date-time, per spec §4.6. After stripping, it best-effort
// compiles the result with jsonschema/v6 purely to catch malformed tool
// schemas early; a compile failure is logged and the stripped schema is
// still sent, since Gemini — not this gateway — is the schema's consumer.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return raw
	}
	stripKeys(tree)
	out, err := json.Marshal(tree)
	if err != nil {
		return raw
	}

	compiler := jsonschema.NewCompiler()
	if res, err := jsonschema.UnmarshalJSON(strings.NewReader(string(out))); err == nil {
		if err := compiler.AddResource("tool-parameters.json", res); err == nil {
			if _, err := compiler.Compile("tool-parameters.json"); err != nil {
				slog.Debug("gemini: tool parameter schema does not validate after sanitization", "error", err)
			}
		}
	}

	return out
}

func stripKeys(node any) {
	switch v := node.(type) {
	case map[string]any:
		delete(v, "$schema")
		delete(v, "additionalProperties")
		if f, ok := v["format"].(string); ok && f != "enum" && f != "date-time" {
			delete(v, "format")
		}
		for _, child := range v {
			stripKeys(child)
		}
	case []any:
		for _, child := range v {
			stripKeys(child)
		}
	}
}
