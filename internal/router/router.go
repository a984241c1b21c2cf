// Package router selects a provider,model string per request, following
// the five ordered rules in spec §4.4.
package router

import (
	"encoding/json"
	"strings"
)

// Config mirrors the config file's Router table (spec §6, "Config file").
type Config struct {
	Default     string
	LongContext string
	Background  string
	Think       string
}

const longContextThreshold = 60_000

const backgroundModelPrefix = "claude-3-5-haiku"

// Select applies the five rules in order and returns the chosen
// provider,model string. It never mutates any field other than the
// caller's understanding of `model` — the caller is responsible for
// writing the result back into the request body (spec §4.4: "The router
// must not mutate any other field").
func Select(model string, tokenCount int, thinkingTruthy bool, cfg Config) string {
	// Rule 1: already provider-qualified.
	if strings.Contains(model, ",") {
		return model
	}

	// Rule 2: long context.
	if tokenCount > longContextThreshold && cfg.LongContext != "" {
		return cfg.LongContext
	}

	// Rule 3: background model by prefix.
	if strings.HasPrefix(model, backgroundModelPrefix) && cfg.Background != "" {
		return cfg.Background
	}

	// Rule 4: explicit thinking request. Gated on a genuinely truthy
	// `thinking` field in the body, not merely on Router.think being
	// configured — the teacher's main.go selectModel fires this branch
	// whenever Think != "", with no check of the request body at all;
	// SPEC_FULL §4.4 corrects that.
	if thinkingTruthy && cfg.Think != "" {
		return cfg.Think
	}

	// Rule 5: default.
	return cfg.Default
}

// ThinkingTruthy reports whether a raw `thinking` JSON field (as found on
// an inbound request body, which may be any of several dialects) is
// present and not one of JSON's falsy encodings.
func ThinkingTruthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", `""`, "0", "{}":
		return false
	default:
		return true
	}
}
