package strategy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/pkg/jupiter"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"noop", `{"type":"noop"}`, ""},
		{"missing type", `{}`, "invalid-strategy-type"},
		{"unknown type", `{"type":"grid"}`, "invalid-strategy-type"},
		{"not an object", `"agent"`, "invalid-strategy"},
		{"dca ok", `{"type":"dca","inputMint":"a","outputMint":"b","amount":"10","everyMinutes":60}`, ""},
		{"dca zero amount", `{"type":"dca","inputMint":"a","outputMint":"b","amount":"000"}`, "invalid-dca-amount"},
		{"dca missing output", `{"type":"dca","inputMint":"a","amount":"1"}`, "invalid-dca-outputMint"},
		{"rebalance ok", `{"type":"rebalance","baseMint":"a","quoteMint":"b","targetBasePct":0.5}`, ""},
		{"rebalance pct", `{"type":"rebalance","baseMint":"a","quoteMint":"b","targetBasePct":1.2}`, "invalid-rebalance-targetBasePct"},
		{"agent minimal", `{"type":"agent"}`, ""},
		{"agent confidence", `{"type":"agent","minConfidence":"extreme"}`, "invalid-agent-minConfidence"},
		{"agent steps", `{"type":"agent","maxStepsPerTick":13}`, "invalid-agent-maxStepsPerTick"},
		{"agent calls", `{"type":"agent","maxToolCallsPerStep":0}`, "invalid-agent-maxToolCallsPerStep"},
		{"agent trades", `{"type":"agent","maxTradesPerDay":101}`, "invalid-agent-maxTradesPerDay"},
		{"agent actions", `{"type":"agent","allowedActions":["trade","fly"]}`, "invalid-agent-allowedActions"},
		{"agent tool policy", `{"type":"agent","toolPolicy":{"allow":[""]}}`, "invalid-agent-toolPolicy"},
		{"agent allowAll", `{"type":"agent","toolPolicy":{"allowAll":"yes"}}`, "invalid-agent-toolPolicy"},
		{"agent decimals", `{"type":"agent","quoteDecimals":19}`, "invalid-agent-quoteDecimals"},
		{"agent quote mint", `{"type":"agent","quoteMint":" "}`, "invalid-agent-quoteMint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(json.RawMessage(tc.raw))
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestMergeSameTypeKeepsFields(t *testing.T) {
	current := DefaultAgent()
	current.ToolPolicy = &ToolPolicy{Deny: []string{"trade_execute"}}

	patch, err := Parse(json.RawMessage(`{"type":"agent","mandate":"Only trade on weekends.","toolPolicy":{"allow":["finish","market_snapshot"]}}`))
	require.NoError(t, err)

	merged := Merge(current, patch)
	assert.Equal(t, "Only trade on weekends.", merged.Mandate)
	assert.Equal(t, ConfidenceMedium, merged.MinConfidence)
	assert.Equal(t, 2, merged.TradesPerDay())
	assert.Equal(t, jupiter.USDCMint, merged.QuoteMint)
	require.NotNil(t, merged.ToolPolicy)
	assert.Equal(t, []string{"finish", "market_snapshot"}, merged.ToolPolicy.Allow)
	assert.Equal(t, []string{"trade_execute"}, merged.ToolPolicy.Deny)

	// current must not be mutated
	assert.Nil(t, current.ToolPolicy.Allow)
}

func TestMergeTypeChangeReplaces(t *testing.T) {
	current := DefaultAgent()
	patch := &Strategy{Type: TypeDCA, InputMint: "a", OutputMint: "b", Amount: "5"}

	merged := Merge(current, patch)
	assert.Equal(t, TypeDCA, merged.Type)
	assert.Empty(t, merged.Mandate)
	assert.Nil(t, merged.MaxStepsPerTick)
}

func TestDefaults(t *testing.T) {
	var s *Strategy
	assert.True(t, s.IsNoop())
	assert.Equal(t, DefaultMaxTradesPerDay, s.TradesPerDay())
	assert.Equal(t, ConfidenceMedium, s.Confidence())

	d := DefaultAgent()
	assert.True(t, d.IsAgent())
	assert.False(t, d.IsNoop())
	assert.Equal(t, 6, *d.QuoteDecimals)

	assert.Equal(t, ConfidenceLow, NormalizeConfidence("extreme"))
	assert.Less(t, ConfidenceRank(ConfidenceLow), ConfidenceRank(ConfidenceMedium))
	assert.Less(t, ConfidenceRank(ConfidenceMedium), ConfidenceRank(ConfidenceHigh))
}
