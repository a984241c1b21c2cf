package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteProviderQualifiedModelPassesThrough(t *testing.T) {
	body := []byte(`{"model":"groq,llama-3","messages":[]}`)
	out, err := Rewrite(body, Config{Default: "openai,gpt-4o"}, NewTokenizer())
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "groq,llama-3", parsed["model"])
}

func TestRewriteBareModelAppliesDefault(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hi"}]}`)
	out, err := Rewrite(body, Config{Default: "openai,gpt-4o"}, NewTokenizer())
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "openai,gpt-4o", parsed["model"])
}

func TestRewriteBackgroundPrefixRoutes(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-haiku-20241022","messages":[]}`)
	out, err := Rewrite(body, Config{Default: "openai,gpt-4o", Background: "openai,gpt-4o-mini"}, NewTokenizer())
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "openai,gpt-4o-mini", parsed["model"])
}
