package modelcatalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne930242/discord-agents/internal/errs"
)

func TestResolveCanonicalName(t *testing.T) {
	c := Default()
	spec, err := c.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai", spec.Provider)
}

func TestResolveHistoricalAlias(t *testing.T) {
	c := Default()
	spec, err := c.Resolve("claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4", spec.Name)
	assert.Equal(t, 20000, spec.MaxTokens)
	assert.Equal(t, 60, spec.IntervalSeconds)
	assert.Equal(t, PolicyReject, spec.Policy)
}

func TestResolveUnknownIsConfigError(t *testing.T) {
	c := Default()
	_, err := c.Resolve("not-a-real-model")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfigError)
}

func TestCountTokensFallbackIsApproximate(t *testing.T) {
	tokens, approximate := CountTokens("not-a-real-model", "one two three four")
	assert.True(t, approximate)
	assert.Equal(t, 6, tokens) // ceil(4 * 1.3) = 6
}
