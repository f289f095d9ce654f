package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"ralph/internal/memory"
	"ralph/internal/metrics"
	"ralph/internal/models"
	"ralph/internal/policy"
	"ralph/internal/runlog"
	"ralph/internal/snapshot"
	"ralph/internal/strategy"
	"ralph/pkg/llm"
	"ralph/pkg/utils"
)

const (
	DefaultTickBudget = 90 * time.Second
	// Margin kept between a model call's timeout and the tick deadline.
	llmDeadlineMargin = 500 * time.Millisecond
	promptTrades      = 10
)

// Runner holds the collaborators shared by every tick.
type Runner struct {
	RPC        RPC
	Aggregator Aggregator
	Signer     TxSigner
	Model      Model
	Memory     memory.Store
	Ledger     Ledger
	Config     ConfigSource
	Bots       TickStamper

	// Budget is the wall-clock limit of one tick. Zero means DefaultTickBudget.
	Budget time.Duration
	Now    func() time.Time
}

// Tick describes one run of the loop for one bot.
type Tick struct {
	BotID     string
	RunID     string
	Wallet    string
	SignerRef string
	Reason    string
	LogKey    string
	Policy    policy.Normalized
	Strategy  *strategy.Strategy
	Log       *log.Entry
}

// Result summarizes a finished tick.
type Result struct {
	Steps         int    `json:"steps"`
	StopRequested bool   `json:"stopRequested"`
	TradeExecuted bool   `json:"tradeExecuted"`
	TradeStatus   string `json:"tradeStatus,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// session is the mutable state of one tick.
type session struct {
	rpc        RPC
	aggregator Aggregator
	signer     TxSigner
	ledger     Ledger
	config     ConfigSource
	now        func() time.Time

	tick         Tick
	log          *log.Entry
	memory       *memory.Memory
	snapshot     *snapshot.Snapshot
	recentTrades []models.TradeIndex

	stopRequested bool
	tradeExecuted bool
	tradeStatus   string
	signature     string
}

func (r *Runner) clock() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes the tool-calling loop for t. Memory is persisted exactly once
// on every exit path; an error that aborted the loop is returned only after
// that.
func (r *Runner) Run(ctx context.Context, t Tick) (*Result, error) {
	logger := t.Log
	if logger == nil {
		logger = log.WithField("bot_id", t.BotID)
	}
	logger = logger.WithField("run_id", t.RunID)
	if t.Strategy == nil {
		t.Strategy = &strategy.Strategy{Type: strategy.TypeAgent}
	}

	mem, err := memory.Get(ctx, r.Memory, t.BotID, r.clock())
	if err != nil {
		return nil, err
	}
	mem.ResetDaily(r.clock())

	s := &session{
		rpc:        r.RPC,
		aggregator: r.Aggregator,
		signer:     r.Signer,
		ledger:     r.Ledger,
		config:     r.Config,
		now:        r.clock,
		tick:       t,
		log:        logger,
		memory:     mem,
	}

	steps, runErr := r.loop(ctx, s)

	// Persistence runs regardless of how the loop ended.
	utils.Try("save agent memory", func() error {
		return memory.Put(context.WithoutCancel(ctx), r.Memory, t.BotID, s.memory, r.clock())
	}).Log(logger)
	if r.Bots != nil {
		utils.Try("update loop state", func() error {
			return r.Bots.StampAgentTick(context.WithoutCancel(ctx), t.BotID, r.clock())
		}).Log(logger)
	}

	metrics.AgentSteps.Observe(float64(steps))
	logger.WithFields(log.Fields{
		"steps":         steps,
		"stopRequested": s.stopRequested,
		"tradeExecuted": s.tradeExecuted,
	}).Info("agent tick end")

	res := &Result{
		Steps:         steps,
		StopRequested: s.stopRequested,
		TradeExecuted: s.tradeExecuted,
		TradeStatus:   s.tradeStatus,
		Signature:     s.signature,
	}
	return res, runErr
}

func (r *Runner) loop(ctx context.Context, s *session) (steps int, err error) {
	t := s.tick
	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		s.log.WithError(err).Error("agent tick failed")
		return 0, fmt.Errorf("market snapshot: %w", err)
	}
	s.snapshot = snap
	trades, err := s.ledger.List(ctx, t.BotID, promptTrades)
	if err != nil {
		s.log.WithError(err).Error("agent tick failed")
		return 0, fmt.Errorf("recent trades: %w", err)
	}
	s.recentTrades = trades

	s.log.WithFields(log.Fields{
		"quoteMint":           snap.QuoteMint,
		"portfolioValueQuote": snap.PortfolioValueQuote,
		"baseAllocationPct":   snap.BaseAllocationPct,
		"reason":              t.Reason,
	}).Info("agent tick start")

	tools := Toolset(t.Strategy)
	schemas := make([]llm.Tool, 0, len(tools))
	byName := make(map[string]tool, len(tools))
	for _, tl := range tools {
		schemas = append(schemas, tl.schema())
		byName[tl.name] = tl
	}

	messages := []llm.Message{
		llm.SystemMessage(systemPrompt(promptInput{
			memory:       s.memory,
			snapshot:     snap,
			recentTrades: trades,
			strategy:     t.Strategy,
			policy:       t.Policy,
		})),
		llm.UserMessage(kickoffMessage),
	}

	budget := r.Budget
	if budget <= 0 {
		budget = DefaultTickBudget
	}
	deadline := r.clock().Add(budget)
	maxSteps := intOr(t.Strategy.MaxStepsPerTick, strategy.DefaultMaxStepsPerTick, 1, strategy.MaxStepsPerTickLimit)
	maxCalls := intOr(t.Strategy.MaxToolCallsPerStep, strategy.DefaultMaxToolCallsPerStep, 1, strategy.MaxToolCallsPerStepLimit)

	for step := 0; step < maxSteps; step++ {
		steps = step + 1
		remaining := deadline.Sub(r.clock())
		if remaining <= 0 {
			s.log.WithField("maxSteps", maxSteps).Warn("agent tick deadline exceeded")
			break
		}

		completion, err := r.Model.Complete(ctx, llm.Request{
			Messages: messages,
			Tools:    schemas,
			Model:    t.Strategy.Model,
			Timeout:  llm.ClampTimeout(max(llm.MinTimeout, remaining-llmDeadlineMargin)),
		})
		if err != nil {
			s.log.WithError(err).Error("agent tick failed")
			return steps, err
		}
		messages = append(messages, completion.Message)

		calls := completion.ToolCalls
		s.log.WithFields(log.Fields{
			"step":         steps,
			"finishReason": completion.FinishReason,
			"toolCalls":    callNames(calls),
		}).Debug("agent llm step")
		if len(calls) == 0 {
			break
		}
		if len(calls) > maxCalls {
			s.log.WithFields(log.Fields{
				"count":               len(calls),
				"maxToolCallsPerStep": maxCalls,
			}).Warn("too many tool calls in one step; truncating")
			calls = calls[:maxCalls]
		}

		for _, call := range calls {
			out := s.dispatch(ctx, byName, call)
			messages = append(messages, llm.ToolMessage(call.ID, encodeResult(out)))
		}
		if s.stopRequested {
			break
		}
	}
	return steps, nil
}

// dispatch runs one tool call. Tool failures become {"ok":false} results and
// never abort the loop.
func (s *session) dispatch(ctx context.Context, byName map[string]tool, call llm.ToolCall) result {
	name := call.Function.Name
	tl, found := byName[name]
	if !found {
		s.log.WithField("name", name).Warn("unknown tool call")
		metrics.ToolCallsTotal.WithLabelValues("unknown", metrics.Result(false)).Inc()
		return fail("unknown-tool:" + name)
	}

	s.log.WithFields(log.Fields{"name": name, "args": redactedArgs(call.Function.Arguments)}).Info("agent tool call")
	out, err := tl.run(s, ctx, call.Function.Arguments)
	if err != nil {
		entry := s.log.WithFields(log.Fields{"name": name, "err": err.Error()})
		if IsPolicyViolation(err) {
			entry.Warn("agent tool blocked by policy")
		} else {
			entry.Error("agent tool failed")
		}
		out = fail(err.Error())
	}
	success, _ := out["ok"].(bool)
	metrics.ToolCallsTotal.WithLabelValues(name, metrics.Result(success)).Inc()
	return out
}

func encodeResult(r result) string {
	b, err := json.Marshal(r)
	if err != nil {
		return toolResultUnserializable
	}
	return string(b)
}

func redactedArgs(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return runlog.Redact(v)
}

func callNames(calls []llm.ToolCall) []string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Function.Name)
	}
	return names
}

func intOr(v *int, fallback, min, max int) int {
	if v == nil {
		return fallback
	}
	return utils.ClampInt(*v, min, max)
}

// IsPolicyViolation reports whether err aborted a trade for policy reasons.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, policy.ErrMintNotAllowed) ||
		errors.Is(err, policy.ErrPriceImpactTooHigh) ||
		errors.Is(err, policy.ErrTradeAmountExceedsCap) ||
		errors.Is(err, ErrLoopDisabled) ||
		errors.Is(err, ErrKillSwitchEnabled)
}
