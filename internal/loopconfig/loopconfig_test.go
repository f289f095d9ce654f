package loopconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
)

func TestParsePatch(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		p, err := ParsePatch(nil)
		require.NoError(t, err)
		assert.Nil(t, p.Enabled)
		assert.False(t, p.RunNow)
	})

	t.Run("enabled must be bool", func(t *testing.T) {
		_, err := ParsePatch([]byte(`{"enabled":"true"}`))
		assert.ErrorIs(t, err, ErrInvalidEnabled)
	})

	t.Run("strategy must be object", func(t *testing.T) {
		_, err := ParsePatch([]byte(`{"strategy":["agent"]}`))
		assert.ErrorIs(t, err, ErrInvalidStrategy)
	})

	t.Run("invalid policy field rejects whole patch", func(t *testing.T) {
		_, err := ParsePatch([]byte(`{"enabled":true,"policy":{"slippageBps":-1}}`))
		require.Error(t, err)
		assert.Equal(t, "invalid-policy-slippageBps", err.Error())
	})

	t.Run("full patch", func(t *testing.T) {
		p, err := ParsePatch([]byte(`{"enabled":true,"runNow":true,"policy":{"dryRun":true},"strategy":{"type":"agent","maxStepsPerTick":6}}`))
		require.NoError(t, err)
		require.NotNil(t, p.Enabled)
		assert.True(t, *p.Enabled)
		assert.True(t, p.RunNow)
		assert.True(t, *p.Policy.DryRun)
		assert.Equal(t, 6, *p.Strategy.MaxStepsPerTick)
	})
}

func TestApplyMergesPolicy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := LoopConfig{Strategy: strategy.DefaultAgent()}

	first, err := ParsePatch([]byte(`{"policy":{"allowedMints":["` + jupiter.SolMint + `"],"slippageBps":30}}`))
	require.NoError(t, err)
	current = Apply(current, first, now)

	second, err := ParsePatch([]byte(`{"enabled":true,"policy":{"killSwitch":true}}`))
	require.NoError(t, err)
	current = Apply(current, second, now.Add(time.Minute))

	n := current.NormalizedPolicy()
	assert.True(t, current.Enabled)
	assert.True(t, n.KillSwitch)
	assert.Equal(t, 30, n.SlippageBps)
	assert.Equal(t, []string{jupiter.SolMint}, n.AllowedMints)
	require.NotNil(t, current.UpdatedAt)
	assert.Equal(t, now.Add(time.Minute), *current.UpdatedAt)
	assert.True(t, current.Strategy.IsAgent())
}
