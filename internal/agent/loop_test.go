package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/internal/memory"
	"ralph/internal/policy"
	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
	"ralph/pkg/llm"
)

func toolReplies(r llm.Request) map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	for _, m := range r.Messages {
		if m.Role != "tool" {
			continue
		}
		var v map[string]interface{}
		_ = json.Unmarshal([]byte(m.Text()), &v)
		out[m.ToolCallID] = v
	}
	return out
}

func TestRunFinishes(t *testing.T) {
	h := newHarness()
	h.model.steps = append(h.model.steps,
		calls(
			call("c1", ToolLogObservation, `{"observation":"SOL range 140-150","category":"pattern"}`),
			call("c2", ToolFinish, `{"summary":"observed only"}`),
			call("c3", ToolAddReflection, `{"reflection":"still runs after finish in the same step"}`),
		),
		calls(call("c4", ToolAddReflection, `{"reflection":"never reached"}`)),
	)

	res, err := h.runner().Run(context.Background(), h.tick(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)
	assert.True(t, res.StopRequested)
	assert.False(t, res.TradeExecuted)

	require.Len(t, h.model.requests, 1)
	req := h.model.requests[0]
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Text(), "Trades remaining today: 2 of 2")
	assert.Equal(t, kickoffMessage, req.Messages[1].Text())
	assert.Len(t, req.Tools, 9)
	assert.Equal(t, llm.MaxTimeout, req.Timeout)

	assert.Equal(t, 1, h.mem.saves)
	require.NotNil(t, h.mem.stored)
	assert.Len(t, h.mem.stored.Observations, 1)
	assert.Equal(t, []string{"still runs after finish in the same step"}, h.mem.stored.Reflections)
	assert.Equal(t, 1, h.bots.stamps)
}

func TestRunStopsOnEmptyToolCalls(t *testing.T) {
	h := newHarness()

	res, err := h.runner().Run(context.Background(), h.tick(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)
	assert.False(t, res.StopRequested)
	assert.Equal(t, 1, h.mem.saves)
}

func TestRunBoundsStepsAndCalls(t *testing.T) {
	h := newHarness()
	st := strategy.DefaultAgent()
	st.MaxStepsPerTick = intPtr(2)
	st.MaxToolCallsPerStep = intPtr(2)

	observe := calls(
		call("a", ToolLogObservation, `{"observation":"one","category":"market"}`),
		call("b", ToolLogObservation, `{"observation":"two","category":"market"}`),
		call("c", ToolLogObservation, `{"observation":"three","category":"market"}`),
	)
	h.model.steps = append(h.model.steps, observe, observe, observe)

	res, err := h.runner().Run(context.Background(), h.tick(nil, st))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)
	assert.Len(t, h.model.requests, 2)
	assert.Len(t, h.mem.stored.Observations, 4)

	var truncated bool
	for _, e := range h.logHook.AllEntries() {
		if e.Message == "too many tool calls in one step; truncating" {
			truncated = true
		}
	}
	assert.True(t, truncated)
}

func TestRunToolFailuresBecomeResults(t *testing.T) {
	h := newHarness()
	st := strategy.DefaultAgent()
	st.ToolPolicy = &strategy.ToolPolicy{Deny: []string{ToolTradeExecute}}
	h.model.steps = append(h.model.steps,
		calls(
			call("q", ToolMarketQuote, `{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"x","amount":"1"}`),
			call("t", ToolTradeExecute, `{}`),
			call("u", "made_up", `{}`),
			call("bad", ToolAddReflection, `{"reflection": 42}`),
		),
		calls(call("f", ToolFinish, `{"summary":"nothing to do"}`)),
	)

	p := &policy.Policy{AllowedMints: []string{jupiter.SolMint, jupiter.USDCMint}}
	res, err := h.runner().Run(context.Background(), h.tick(p, st))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)

	replies := toolReplies(h.model.requests[1])
	assert.Equal(t, false, replies["q"]["ok"])
	assert.Contains(t, replies["q"]["error"], "mint-not-allowed")
	assert.Equal(t, "unknown-tool:"+ToolTradeExecute, replies["t"]["error"])
	assert.Equal(t, "unknown-tool:made_up", replies["u"]["error"])
	assert.Equal(t, true, replies["bad"]["ok"], "numbers are accepted for string fields")
}

func TestRunPersistsMemoryWhenModelFails(t *testing.T) {
	h := newHarness()
	h.mem.stored = &memory.Memory{Thesis: "old", TradesProposedToday: 3, LastTradeDate: "2026-05-03"}
	h.model.steps = append(h.model.steps,
		calls(call("o", ToolLogObservation, `{"observation":"volume spike","category":"risk"}`)),
		calls(call("th", ToolUpdateThesis, `{"thesis":"new thesis","reasoning":"volume"}`)),
		failing("llm-api-error: 500 upstream"),
		calls(call("never", ToolAddReflection, `{"reflection":"x"}`)),
	)

	res, err := h.runner().Run(context.Background(), h.tick(nil, nil))
	require.EqualError(t, err, "llm-api-error: 500 upstream")
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Steps)

	assert.Equal(t, 1, h.mem.saves)
	m := h.mem.stored
	assert.Equal(t, "new thesis", m.Thesis)
	assert.Len(t, m.Observations, 1)
	assert.Equal(t, []string{"Thesis update: volume"}, m.Reflections)
	assert.Equal(t, 0, m.TradesProposedToday, "new UTC day resets the counter")
	assert.Equal(t, "2026-05-04", m.LastTradeDate)
	assert.Equal(t, 1, h.bots.stamps)
}

func TestRunDeadline(t *testing.T) {
	h := newHarness()
	now := testNow
	r := h.runner()
	r.Budget = 10 * time.Second
	r.Now = func() time.Time { return now }

	h.model.steps = append(h.model.steps,
		func() (*llm.Completion, error) {
			now = now.Add(11 * time.Second)
			return calls(call("o", ToolLogObservation, `{"observation":"slow","category":"market"}`))()
		},
		calls(call("f", ToolFinish, `{"summary":"late"}`)),
	)

	res, err := r.Run(context.Background(), h.tick(nil, nil))
	require.NoError(t, err)
	assert.Len(t, h.model.requests, 1)
	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.StopRequested)
	assert.Equal(t, 9500*time.Millisecond, h.model.requests[0].Timeout)
	assert.Len(t, h.mem.stored.Observations, 1)
}

func TestRunTradeEndToEnd(t *testing.T) {
	h := newHarness()
	h.mem.stored = &memory.Memory{Thesis: "SOL undervalued", LastTradeDate: "2026-05-04"}
	h.model.steps = append(h.model.steps,
		calls(call("t1", ToolTradeExecute, tradeArgs("high"))),
		calls(
			call("t2", ToolTradeExecute, tradeArgs("high")),
			call("f", ToolFinish, `{"summary":"bought"}`),
		),
	)

	res, err := h.runner().Run(context.Background(), h.tick(&policy.Policy{DryRun: boolPtr(true)}, nil))
	require.NoError(t, err)
	assert.True(t, res.TradeExecuted)
	assert.Equal(t, "dry_run", res.TradeStatus)
	assert.Empty(t, res.Signature)

	replies := toolReplies(h.model.requests[1])
	assert.Equal(t, "dry_run", replies["t1"]["status"])
	assert.Equal(t, 1, h.mem.stored.TradesProposedToday)
	assert.Len(t, h.ledger.rows, 1)
}
