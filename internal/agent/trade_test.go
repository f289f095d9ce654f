package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/internal/ledger"
	"ralph/internal/loopconfig"
	"ralph/internal/memory"
	"ralph/internal/policy"
	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
	"ralph/pkg/solana"
)

func tradeArgs(confidence string) string {
	return fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"amount":"100000000","reasoning":"support held","confidence":%q}`,
		jupiter.SolMint, jupiter.USDCMint, confidence)
}

func withThesis() *memory.Memory {
	m := memory.New(testNow)
	m.Thesis = "SOL is range bound"
	m.ResetDaily(testNow)
	return m
}

func TestTradeExecuteRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		policy *policy.Policy
		mem    func() *memory.Memory
		args   string
		want   string
	}{
		{"kill switch", &policy.Policy{KillSwitch: boolPtr(true)}, withThesis, tradeArgs("high"), "kill-switch-enabled"},
		{"missing params", nil, withThesis, `{"inputMint":"x"}`, "missing-params"},
		{"zero amount", nil, withThesis, `{"inputMint":"a","outputMint":"b","amount":"0","reasoning":"r","confidence":"high"}`, "invalid-amount"},
		{"non digit amount", nil, withThesis, `{"inputMint":"a","outputMint":"b","amount":"1.5","reasoning":"r","confidence":"high"}`, "invalid-amount"},
		{"no thesis", nil, func() *memory.Memory { return memory.New(testNow) }, tradeArgs("high"), "missing-thesis"},
		{"confidence", nil, withThesis, tradeArgs("maybe"), "confidence-too-low"},
		{"insufficient sol", &policy.Policy{MinSolReserveLamports: strPtr("4950000000")}, withThesis, tradeArgs("high"), "insufficient-sol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			s := h.session(tt.policy, nil, tt.mem())

			out, err := s.tradeExecute(ctx, tt.args)
			require.NoError(t, err)
			assert.Equal(t, false, out["ok"])
			assert.Equal(t, tt.want, out["error"])
			assert.False(t, s.tradeExecuted)
			assert.Equal(t, 0, s.memory.TradesProposedToday)
			assert.Empty(t, h.ledger.rows)
		})
	}
}

func TestTradeExecuteConfidenceDetails(t *testing.T) {
	h := newHarness()
	s := h.session(nil, nil, withThesis())

	out, err := s.tradeExecute(context.Background(), tradeArgs("low"))
	require.NoError(t, err)
	assert.Equal(t, "confidence-too-low", out["error"])
	assert.Equal(t, "medium", out["minConfidence"])
	assert.Equal(t, "low", out["confidence"])
}

func TestTradeExecuteDailyCapReached(t *testing.T) {
	h := newHarness()
	st := strategy.DefaultAgent()
	st.MaxTradesPerDay = intPtr(1)
	mem := withThesis()
	mem.TradesProposedToday = 1

	s := h.session(nil, st, mem)
	out, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, fail("daily-trade-cap-reached"), out)
	assert.Empty(t, h.agg.quotes)
}

func TestTradeExecuteDryRun(t *testing.T) {
	h := newHarness()
	s := h.session(&policy.Policy{DryRun: boolPtr(true)}, nil, withThesis())

	out, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "dry_run", out["status"])

	require.Len(t, h.ledger.rows, 1)
	row := h.ledger.rows[0]
	assert.Equal(t, ledger.StatusDryRun, row.Status)
	assert.Nil(t, row.Signature)
	assert.Equal(t, "bot-1", row.TenantID)
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, jupiter.SolMint+"->"+jupiter.USDCMint, row.Market)
	assert.Equal(t, "agent_swap", row.Side)
	assert.Equal(t, "100000000", row.Size)
	assert.Equal(t, "support held", row.Reasoning)
	assert.Equal(t, "logs/bot-1/2026-05-04.jsonl", row.LogKey)

	assert.Equal(t, 1, s.memory.TradesProposedToday)
	assert.Equal(t, "2026-05-04", s.memory.LastTradeDate)
	assert.Zero(t, h.agg.builds)
	assert.Zero(t, h.signer.calls)

	out, err = s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, fail("trade-already-executed-this-tick"), out)
	assert.Len(t, h.ledger.rows, 1)
	assert.Equal(t, 1, s.memory.TradesProposedToday)
}

func TestTradeExecuteDryRunBalanceCheckIsAdvisory(t *testing.T) {
	h := newHarness()
	h.rpc.sol = 0
	s := h.session(&policy.Policy{DryRun: boolPtr(true)}, nil, withThesis())

	out, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, "dry_run", out["status"])
}

func TestTradeExecuteInsufficientToken(t *testing.T) {
	h := newHarness()
	s := h.session(nil, nil, withThesis())

	args := fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"amount":"900000000","reasoning":"r","confidence":"high"}`,
		jupiter.USDCMint, jupiter.SolMint)
	out, err := s.tradeExecute(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, fail("insufficient-input-balance"), out)
}

func TestTradeExecutePolicyViolationAbortsBeforeCounting(t *testing.T) {
	h := newHarness()
	h.agg.impact = "0.10"
	s := h.session(nil, nil, withThesis())

	_, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	assert.ErrorIs(t, err, policy.ErrPriceImpactTooHigh)
	assert.False(t, s.tradeExecuted)
	assert.Equal(t, 0, s.memory.TradesProposedToday)
}

func TestTradeExecuteLoopDisabledBeforeBroadcast(t *testing.T) {
	h := newHarness()
	h.config.cfg = loopconfig.LoopConfig{Enabled: false}
	s := h.session(nil, nil, withThesis())

	_, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	assert.ErrorIs(t, err, ErrLoopDisabled)
	assert.True(t, s.tradeExecuted)
	assert.Zero(t, h.agg.builds)
	assert.Zero(t, h.signer.calls)
	assert.Empty(t, h.rpc.sent)
	assert.Empty(t, h.ledger.rows)
}

func TestTradeExecuteLoopDisabledAfterSigning(t *testing.T) {
	h := newHarness()
	h.config.disableAfter = 1
	s := h.session(nil, nil, withThesis())

	_, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	assert.ErrorIs(t, err, ErrLoopDisabled)
	assert.Equal(t, 1, h.signer.calls)
	assert.Empty(t, h.rpc.sent)
}

func TestTradeExecuteKillSwitchMidTick(t *testing.T) {
	h := newHarness()
	h.config.cfg = loopconfig.LoopConfig{Enabled: true, Policy: &policy.Policy{KillSwitch: boolPtr(true)}}
	s := h.session(nil, nil, withThesis())

	_, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	assert.ErrorIs(t, err, ErrKillSwitchEnabled)
	assert.Zero(t, h.agg.builds)
}

func TestTradeExecuteSimulateOnly(t *testing.T) {
	h := newHarness()
	h.rpc.simErr = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	s := h.session(&policy.Policy{SimulateOnly: boolPtr(true)}, nil, withThesis())

	out, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, ledger.StatusSimulateError, out["status"])
	assert.Equal(t, 1, h.rpc.simCalls)
	assert.Empty(t, h.rpc.sent)
	require.Len(t, h.ledger.rows, 1)
	assert.Equal(t, ledger.StatusSimulateError, h.ledger.rows[0].Status)
	assert.Nil(t, h.ledger.rows[0].Signature)
}

func TestTradeExecuteBroadcast(t *testing.T) {
	h := newHarness()
	s := h.session(nil, nil, withThesis())

	out, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "confirmed", out["status"])
	assert.Equal(t, "5igSigSigSigSigSigSig", out["signature"])
	assert.Equal(t, []string{"signed:dW5zaWduZWQ="}, h.rpc.sent)

	require.Len(t, h.ledger.rows, 1)
	require.NotNil(t, h.ledger.rows[0].Signature)
	assert.Equal(t, "5igSigSigSigSigSigSig", *h.ledger.rows[0].Signature)
	assert.Equal(t, "confirmed", s.tradeStatus)
	assert.Equal(t, "5igSigSigSigSigSigSig", s.signature)
}

func TestTradeExecuteConfirmationFailureKeepsSignature(t *testing.T) {
	h := newHarness()
	h.rpc.confirm = &solana.ConfirmResult{OK: false, Err: "confirmation-timeout"}
	s := h.session(nil, nil, withThesis())

	out, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, ledger.StatusError, out["status"])
	require.Len(t, h.ledger.rows, 1)
	assert.Equal(t, ledger.StatusError, h.ledger.rows[0].Status)
	assert.NotNil(t, h.ledger.rows[0].Signature)
}

func TestTradeExecuteRecordsBroadcastTradeAfterCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.rpc.onConfirm = cancel
	s := h.session(nil, nil, withThesis())

	out, err := s.tradeExecute(ctx, tradeArgs("high"))
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "5igSigSigSigSigSigSig", out["signature"])

	require.Len(t, h.ledger.rows, 1, "the landed swap keeps its ledger row")
	require.NotNil(t, h.ledger.rows[0].Signature)
	assert.Equal(t, "5igSigSigSigSigSigSig", *h.ledger.rows[0].Signature)
	assert.Equal(t, "confirmed", s.tradeStatus)
}

func TestTradeExecuteMissingSignerRef(t *testing.T) {
	h := newHarness()
	s := h.session(nil, nil, withThesis())
	s.tick.SignerRef = ""

	_, err := s.tradeExecute(context.Background(), tradeArgs("high"))
	assert.ErrorIs(t, err, ErrMissingSignerRef)
	assert.Empty(t, h.rpc.sent)
}

func strPtr(v string) *string { return &v }
