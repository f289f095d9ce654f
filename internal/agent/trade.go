package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"ralph/internal/ledger"
	"ralph/internal/metrics"
	"ralph/internal/models"
	"ralph/internal/policy"
	"ralph/internal/strategy"
	"ralph/internal/swap"
	"ralph/pkg/jupiter"
	"ralph/pkg/solana"
	"ralph/pkg/utils"
)

const (
	venueJupiter = "jupiter"
	sideAgent    = "agent_swap"
)

var (
	ErrLoopDisabled      = errors.New("loop-disabled")
	ErrKillSwitchEnabled = errors.New("kill-switch-enabled")
	ErrMissingSignerRef  = errors.New("missing-signer-ref")
)

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// tradeExecute is the only tool that moves funds. At most one trade per tick
// gets past quoting; every rejection before that point has no side effects.
func (s *session) tradeExecute(ctx context.Context, args string) (result, error) {
	if s.tradeExecuted {
		return fail("trade-already-executed-this-tick"), nil
	}
	p := s.tick.Policy
	if p.KillSwitch {
		return fail(ErrKillSwitchEnabled.Error()), nil
	}

	var a struct {
		InputMint  flexString `json:"inputMint"`
		OutputMint flexString `json:"outputMint"`
		Amount     flexString `json:"amount"`
		Reasoning  flexString `json:"reasoning"`
		Confidence flexString `json:"confidence"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	inputMint, outputMint := a.InputMint.trimmed(), a.OutputMint.trimmed()
	amount, reasoning := a.Amount.trimmed(), a.Reasoning.trimmed()
	confidence := strategy.NormalizeConfidence(a.Confidence.trimmed())

	if inputMint == "" || outputMint == "" || amount == "" || reasoning == "" {
		return fail("missing-params"), nil
	}
	amountAtomic, valid := utils.ParseAtomic(amount)
	if !valid || amountAtomic.IsZero() {
		return fail("invalid-amount"), nil
	}
	if strings.TrimSpace(s.memory.Thesis) == "" {
		return fail("missing-thesis"), nil
	}
	minConfidence := s.tick.Strategy.Confidence()
	if strategy.ConfidenceRank(confidence) < strategy.ConfidenceRank(minConfidence) {
		return result{
			"ok":            false,
			"error":         "confidence-too-low",
			"minConfidence": minConfidence,
			"confidence":    confidence,
		}, nil
	}
	if s.memory.TradesProposedToday >= s.tick.Strategy.TradesPerDay() {
		return fail("daily-trade-cap-reached"), nil
	}

	if res, err := s.checkBalances(ctx, inputMint, amount); err != nil || res != nil {
		return res, err
	}

	quote, err := s.aggregator.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		Amount:      amount,
		SlippageBps: p.SlippageBps,
		SwapMode:    jupiter.SwapModeExactIn,
	})
	if err != nil {
		return nil, err
	}
	if err := policy.Enforce(p, quote); err != nil {
		return nil, err
	}

	// The attempt counts from here, whatever happens downstream.
	s.memory.RecordTrade(s.now())
	s.tradeExecuted = true

	summary := summarize(quote)
	s.log.WithFields(log.Fields{
		"quote":      summary,
		"reasoning":  reasoning,
		"confidence": confidence,
	}).Info("agent tool trade quote")

	if p.DryRun {
		if err := s.recordTrade(ctx, quote, ledger.StatusDryRun, nil, reasoning); err != nil {
			return nil, err
		}
		return result{"ok": true, "status": ledger.StatusDryRun, "quote": summary}, nil
	}

	if err := s.assertLoopStillEnabled(ctx); err != nil {
		return nil, err
	}

	swapped, err := swap.WithRetry(ctx, s.aggregator, quote, s.tick.Wallet, p)
	if err != nil {
		return nil, err
	}
	used := swapped.Quote
	if swapped.Refreshed {
		s.log.WithFields(log.Fields{
			"inAmount":  used.InAmount,
			"outAmount": used.OutAmount,
		}).Warn("agent: quote refreshed due to stale quote rejection")
	}

	if s.tick.SignerRef == "" {
		return nil, ErrMissingSignerRef
	}
	s.log.WithField("signer_ref", s.tick.SignerRef).Info("signing transaction")
	signed, err := s.signer.SignTransaction(ctx, s.tick.SignerRef, swapped.Swap.SwapTransaction)
	if err != nil {
		return nil, err
	}
	s.log.Info("transaction signed")

	if p.SimulateOnly {
		sim, err := s.rpc.SimulateTransaction(ctx, signed, solana.SimulateOpts{
			SigVerify:  true,
			Commitment: p.Commitment,
		})
		if err != nil {
			return nil, err
		}
		simOK := sim.Err == nil
		status := ledger.StatusSimulated
		entry := s.log.WithFields(log.Fields{"ok": simOK, "err": sim.Err, "unitsConsumed": sim.UnitsConsumed})
		if simOK {
			entry.Info("agent trade simulated")
		} else {
			status = ledger.StatusSimulateError
			entry.Warn("agent trade simulated")
		}
		if err := s.recordTrade(ctx, used, status, nil, reasoning); err != nil {
			return nil, err
		}
		return result{"ok": true, "status": status, "err": sim.Err}, nil
	}

	if err := s.assertLoopStillEnabled(ctx); err != nil {
		return nil, err
	}

	// Once submitted the transaction is followed to a confirmation result even
	// if the tick is cancelled.
	sendCtx := context.WithoutCancel(ctx)
	signature, err := s.rpc.SendTransaction(sendCtx, signed, solana.SendOpts{
		SkipPreflight:       p.SkipPreflight,
		PreflightCommitment: p.Commitment,
	})
	if err != nil {
		return nil, err
	}
	s.signature = signature
	s.log.WithFields(log.Fields{
		"signature":            signature,
		"lastValidBlockHeight": swapped.Swap.LastValidBlockHeight,
	}).Info("agent tx submitted")

	conf, err := s.rpc.ConfirmSignature(sendCtx, signature, p.Commitment)
	if err != nil {
		conf = &solana.ConfirmResult{OK: false, Err: err.Error()}
	}
	status := ledger.StatusError
	if conf.OK {
		status = conf.Status
		if status == "" {
			status = ledger.StatusConfirmed
		}
	}
	entry := s.log.WithFields(log.Fields{"signature": signature, "status": status, "err": conf.Err})
	if conf.OK {
		entry.Info("agent tx confirmation")
	} else {
		entry.Warn("agent tx confirmation")
	}

	if err := s.recordTrade(sendCtx, used, status, &signature, reasoning); err != nil {
		return nil, err
	}
	return result{"ok": conf.OK, "signature": signature, "status": status, "err": conf.Err}, nil
}

// checkBalances verifies the SOL reserve and the input balance. Under dry run
// shortfalls are only logged.
func (s *session) checkBalances(ctx context.Context, inputMint, amount string) (result, error) {
	p := s.tick.Policy
	reserve, _ := utils.ParseAtomic(p.MinSolReserveLamports)
	need, _ := utils.ParseAtomic(amount)

	solLamports, err := s.rpc.GetBalance(ctx, s.tick.Wallet)
	if err != nil {
		return nil, err
	}
	sol := utils.AtomicFromUint64(solLamports)

	if inputMint == jupiter.SolMint {
		if sol.LessThan(need.Add(reserve)) {
			s.log.WithFields(log.Fields{
				"solBalanceLamports": sol.String(),
				"reserveLamports":    reserve.String(),
				"amount":             amount,
			}).Warn("insufficient SOL for trade (after reserve)")
			if !p.DryRun {
				return fail("insufficient-sol"), nil
			}
		}
		return nil, nil
	}

	if sol.LessThan(reserve) {
		s.log.WithFields(log.Fields{
			"solBalanceLamports": sol.String(),
			"reserveLamports":    reserve.String(),
		}).Warn("insufficient SOL for fees (reserve)")
		if !p.DryRun {
			return fail("insufficient-sol-reserve"), nil
		}
	}
	have, err := s.rpc.GetTokenBalance(ctx, s.tick.Wallet, inputMint)
	if err != nil {
		return nil, err
	}
	if utils.AtomicFromUint64(have).LessThan(need) {
		s.log.WithFields(log.Fields{
			"mint": inputMint,
			"have": formatUint(have),
			"need": amount,
		}).Warn("insufficient input token balance")
		if !p.DryRun {
			return fail("insufficient-input-balance"), nil
		}
	}
	return nil, nil
}

// assertLoopStillEnabled re-reads the stored configuration so a stop or kill
// switch issued after the tick started still prevents signing and sending.
func (s *session) assertLoopStillEnabled(ctx context.Context) error {
	cfg, err := s.config.Get(ctx, s.tick.BotID)
	if err != nil {
		return fmt.Errorf("reload loop config: %w", err)
	}
	if !cfg.Enabled {
		s.log.Warn("loop disabled during tick, aborting before execution")
		return ErrLoopDisabled
	}
	if cfg.NormalizedPolicy().KillSwitch {
		s.log.Warn("kill switch enabled during tick, aborting before execution")
		return ErrKillSwitchEnabled
	}
	return nil
}

func (s *session) recordTrade(ctx context.Context, q *jupiter.QuoteResponse, status string, signature *string, reasoning string) error {
	row := &models.TradeIndex{
		TenantID:  s.tick.BotID,
		RunID:     s.tick.RunID,
		Venue:     venueJupiter,
		Market:    q.InputMint + "->" + q.OutputMint,
		Side:      sideAgent,
		Size:      q.InAmount,
		Price:     q.OutAmount,
		Status:    status,
		LogKey:    s.tick.LogKey,
		Signature: signature,
		Reasoning: reasoning,
	}
	if err := s.ledger.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	s.tradeStatus = status
	metrics.TradesTotal.WithLabelValues(status).Inc()
	return nil
}
