package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectProviderQualifiedWins(t *testing.T) {
	cfg := Config{Default: "p,small", LongContext: "p,big"}
	got := Select("other,model-x", 999999, true, cfg)
	assert.Equal(t, "other,model-x", got)
}

func TestSelectLongContextStrictlyGreater(t *testing.T) {
	cfg := Config{Default: "p,default", LongContext: "p,long"}
	assert.Equal(t, "p,default", Select("m", 60_000, false, cfg), "exactly 60000 must not trigger longContext")
	assert.Equal(t, "p,long", Select("m", 60_001, false, cfg))
}

func TestSelectBackgroundPrefix(t *testing.T) {
	cfg := Config{Default: "p,default", Background: "p,bg"}
	assert.Equal(t, "p,bg", Select("claude-3-5-haiku-20241022", 10, false, cfg))
	assert.Equal(t, "p,default", Select("claude-3-5-sonnet", 10, false, cfg))
}

func TestSelectThinkingRequiresTruthyField(t *testing.T) {
	cfg := Config{Default: "p,default", Think: "p,think"}
	assert.Equal(t, "p,think", Select("m", 10, true, cfg))
	assert.Equal(t, "p,default", Select("m", 10, false, cfg), "Router.think configured but no truthy thinking field must not select it")
}

func TestSelectDefaultFallback(t *testing.T) {
	cfg := Config{Default: "p,default"}
	assert.Equal(t, "p,default", Select("m", 10, false, cfg))
}

func TestSelectRuleOrderLongContextBeforeBackground(t *testing.T) {
	cfg := Config{Default: "p,default", LongContext: "p,long", Background: "p,bg"}
	got := Select("claude-3-5-haiku", 70_000, false, cfg)
	assert.Equal(t, "p,long", got, "longContext rule must win over background prefix when both apply")
}

func TestThinkingTruthy(t *testing.T) {
	assert.False(t, ThinkingTruthy(nil))
	assert.False(t, ThinkingTruthy([]byte(`null`)))
	assert.False(t, ThinkingTruthy([]byte(`false`)))
	assert.False(t, ThinkingTruthy([]byte(`{}`)))
	assert.True(t, ThinkingTruthy([]byte(`true`)))
	assert.True(t, ThinkingTruthy([]byte(`{"type":"enabled"}`)))
}
