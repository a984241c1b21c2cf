package router

import (
	"encoding/json"
	"strings"
)

// Rewrite implements the dispatcher's provider-selection filter (spec
// §4.3) together with the router proper (spec §4.4): it inspects the raw
// client body, decides the final `provider,model` or bare `model`
// string, and returns the body with its `model` field replaced. The
// router must not mutate any other field, so this operates on a
// generic map decoded from body rather than a typed struct.
func Rewrite(body []byte, cfg Config, tok *Tokenizer) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return body, err
	}

	var model string
	if err := json.Unmarshal(raw["model"], &model); err != nil {
		return body, err
	}

	var chosen string
	if idx := strings.IndexByte(model, ','); idx >= 0 {
		chosen = model
	} else {
		tokenCount := tok.CountRequest(splitArray(raw["messages"]), raw["system"], splitArray(raw["tools"]))
		thinkingTruthy := ThinkingTruthy(raw["thinking"])
		chosen = Select(model, tokenCount, thinkingTruthy, cfg)
	}

	encodedModel, err := json.Marshal(chosen)
	if err != nil {
		return body, err
	}
	raw["model"] = encodedModel

	return json.Marshal(raw)
}

// splitArray decodes a JSON array field into its raw elements; a missing
// field yields nil, and any non-array value is wrapped as a
// single-element slice so Tokenizer.CountRequest still sees it.
func splitArray(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	return []json.RawMessage{raw}
}
