package agent

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"ralph/internal/memory"
	"ralph/internal/policy"
	"ralph/internal/snapshot"
	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
	"ralph/pkg/llm"
)

// Tool names.
const (
	ToolFinish               = "finish"
	ToolMarketSnapshot       = "market_snapshot"
	ToolTokenBalance         = "market_token_balance"
	ToolMarketQuote          = "market_quote"
	ToolTradesListRecent     = "trades_list_recent"
	ToolUpdateThesis         = "memory_update_thesis"
	ToolLogObservation       = "memory_log_observation"
	ToolAddReflection        = "memory_add_reflection"
	ToolTradeExecute         = "trade_execute"
	defaultRecentTrades      = 10
	maxRecentTrades          = 200
	maxRouteLabels           = 3
	toolResultUnserializable = `{"ok":false,"error":"tool-result-not-serializable"}`
)

// result is the JSON object returned to the model for a tool call.
type result map[string]interface{}

func ok() result { return result{"ok": true} }

func fail(reason string) result { return result{"ok": false, "error": reason} }

type handler func(s *session, ctx context.Context, args string) (result, error)

// tool is one entry of the fixed catalog. action is the coarse class used by
// strategy.allowedActions; research tools have none.
type tool struct {
	name        string
	description string
	parameters  string
	action      string
	run         handler
}

func (t tool) schema() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        t.name,
			Description: t.description,
			Parameters:  json.RawMessage(t.parameters),
		},
	}
}

func catalog() []tool {
	return []tool{
		{
			name:        ToolFinish,
			description: "Finish the tick. Use this when you are done (traded or decided not to).",
			parameters:  `{"type":"object","properties":{"summary":{"type":"string","description":"What you did and why"}},"required":["summary"]}`,
			run:         (*session).finish,
		},
		{
			name:        ToolMarketSnapshot,
			description: "Get the latest market snapshot for this bot (portfolio balances + SOL price in quote mint).",
			parameters:  `{"type":"object","properties":{},"required":[]}`,
			run:         (*session).marketSnapshot,
		},
		{
			name:        ToolTokenBalance,
			description: "Get this bot's token balance for a mint. For SOL use the canonical SOL mint.",
			parameters:  `{"type":"object","properties":{"mint":{"type":"string","description":"Token mint address"}},"required":["mint"]}`,
			run:         (*session).tokenBalance,
		},
		{
			name:        ToolMarketQuote,
			description: "Get a swap quote (ExactIn by default). The quote is validated against policy constraints.",
			parameters: `{"type":"object","properties":{"inputMint":{"type":"string"},"outputMint":{"type":"string"},` +
				`"amount":{"type":"string","description":"Atomic units of inputMint"},"swapMode":{"type":"string","enum":["ExactIn","ExactOut"]},` +
				`"slippageBps":{"type":"number","description":"Optional. Clamped to policy slippage tolerance; defaults to policy."}},` +
				`"required":["inputMint","outputMint","amount"]}`,
			run: (*session).marketQuote,
		},
		{
			name:        ToolTradesListRecent,
			description: "List recent trades for this bot from the trade ledger.",
			parameters:  `{"type":"object","properties":{"limit":{"type":"number","description":"Max rows (1..200)"}},"required":[]}`,
			run:         (*session).tradesListRecent,
		},
		{
			name:        ToolUpdateThesis,
			description: "Update the agent's thesis (persists between ticks). Use when your view changes.",
			parameters: `{"type":"object","properties":{"thesis":{"type":"string","description":"Complete updated thesis"},` +
				`"reasoning":{"type":"string","description":"What changed and why"}},"required":["thesis","reasoning"]}`,
			action: strategy.ActionUpdateThesis,
			run:    (*session).updateThesis,
		},
		{
			name:        ToolLogObservation,
			description: "Record a market observation in memory for future reference.",
			parameters: `{"type":"object","properties":{"observation":{"type":"string","description":"What you observed"},` +
				`"category":{"type":"string","enum":["market","pattern","risk","opportunity"]}},"required":["observation","category"]}`,
			action: strategy.ActionLogObservation,
			run:    (*session).logObservation,
		},
		{
			name:        ToolAddReflection,
			description: "Append a short learning/reflection to memory (persists between ticks).",
			parameters:  `{"type":"object","properties":{"reflection":{"type":"string","description":"One concise learning"}},"required":["reflection"]}`,
			action:      strategy.ActionLogObservation,
			run:         (*session).addReflection,
		},
		{
			name:        ToolTradeExecute,
			description: "Execute a swap for this bot. Honors policy (allowed mints, price impact, caps, dryRun/simulateOnly).",
			parameters: `{"type":"object","properties":{"inputMint":{"type":"string"},"outputMint":{"type":"string"},` +
				`"amount":{"type":"string","description":"Atomic units of inputMint"},"reasoning":{"type":"string","description":"Why this trade, why now"},` +
				`"confidence":{"type":"string","enum":["low","medium","high"]}},"required":["inputMint","outputMint","amount","reasoning","confidence"]}`,
			action: strategy.ActionTrade,
			run:    (*session).tradeExecute,
		},
	}
}

// Toolset filters the catalog for st. allowedActions only removes tools that
// carry an action class. A tool policy deny always wins; a non-empty allow
// list without allowAll keeps only the listed names. finish is kept unless
// it is denied explicitly.
func Toolset(st *strategy.Strategy) []tool {
	all := catalog()
	out := all

	if st != nil && len(st.AllowedActions) > 0 {
		allowed := setOf(st.AllowedActions)
		out = filter(out, func(t tool) bool { return t.action == "" || allowed[t.action] })
	}

	denied := map[string]bool{}
	if st != nil && st.ToolPolicy != nil {
		tp := st.ToolPolicy
		denied = setOf(tp.Deny)
		allow := setOf(tp.Allow)
		allowAll := tp.AllowAll != nil && *tp.AllowAll
		out = filter(out, func(t tool) bool {
			if denied[t.name] {
				return false
			}
			return allowAll || len(allow) == 0 || allow[t.name]
		})
	}

	if !denied[ToolFinish] && !hasTool(out, ToolFinish) {
		out = append([]tool{all[0]}, out...)
	}
	return out
}

// ToolNames lists the names of the tools st exposes.
func ToolNames(st *strategy.Strategy) []string {
	tools := Toolset(st)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.name)
	}
	return names
}

func filter(in []tool, keep func(tool) bool) []tool {
	out := make([]tool, 0, len(in))
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func hasTool(tools []tool, name string) bool {
	for _, t := range tools {
		if t.name == name {
			return true
		}
	}
	return false
}

func setOf(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			m[it] = true
		}
	}
	return m
}

type quoteSummary struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	Route          string `json:"route,omitempty"`
}

// summarize redacts a quote to what the model needs. The raw quote never
// reaches the transcript.
func summarize(q *jupiter.QuoteResponse) quoteSummary {
	impact := q.PriceImpactPct
	if strings.TrimSpace(impact) == "" {
		impact = "0"
	}
	return quoteSummary{
		InputMint:      q.InputMint,
		OutputMint:     q.OutputMint,
		InAmount:       q.InAmount,
		OutAmount:      q.OutAmount,
		PriceImpactPct: impact,
		Route:          strings.Join(q.RouteLabels(maxRouteLabels), " -> "),
	}
}

func (s *session) finish(_ context.Context, args string) (result, error) {
	var a struct {
		Summary flexString `json:"summary"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	s.log.WithField("summary", a.Summary.trimmed()).Info("agent finished")
	s.stopRequested = true
	return ok(), nil
}

func (s *session) marketSnapshot(ctx context.Context, _ string) (result, error) {
	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.snapshot = snap
	s.log.WithFields(log.Fields{
		"basePriceQuote":      snap.BasePriceQuote,
		"portfolioValueQuote": snap.PortfolioValueQuote,
		"baseAllocationPct":   snap.BaseAllocationPct,
	}).Info("agent tool market snapshot")
	return result{"ok": true, "snapshot": snap}, nil
}

func (s *session) buildSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	st := s.tick.Strategy
	return snapshot.Build(ctx, s.rpc, s.aggregator, s.tick.Wallet, s.tick.Policy, snapshot.Options{
		QuoteMint:     st.QuoteMint,
		QuoteDecimals: st.QuoteDecimals,
	}, s.now())
}

func (s *session) tokenBalance(ctx context.Context, args string) (result, error) {
	var a struct {
		Mint flexString `json:"mint"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	mint := a.Mint.trimmed()
	if mint == "" {
		return fail("missing-mint"), nil
	}
	var (
		bal uint64
		err error
	)
	if mint == jupiter.SolMint {
		bal, err = s.rpc.GetBalance(ctx, s.tick.Wallet)
	} else {
		bal, err = s.rpc.GetTokenBalance(ctx, s.tick.Wallet, mint)
	}
	if err != nil {
		return nil, err
	}
	return result{"ok": true, "mint": mint, "balanceAtomic": formatUint(bal)}, nil
}

func (s *session) marketQuote(ctx context.Context, args string) (result, error) {
	var a struct {
		InputMint   flexString `json:"inputMint"`
		OutputMint  flexString `json:"outputMint"`
		Amount      flexString `json:"amount"`
		SwapMode    flexString `json:"swapMode"`
		SlippageBps flexNumber `json:"slippageBps"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	p := s.tick.Policy
	inputMint, outputMint, amount := a.InputMint.trimmed(), a.OutputMint.trimmed(), a.Amount.trimmed()
	if inputMint == "" || outputMint == "" || amount == "" {
		return fail("missing-params"), nil
	}
	mode := jupiter.SwapModeExactIn
	if a.SwapMode.trimmed() == jupiter.SwapModeExactOut {
		mode = jupiter.SwapModeExactOut
	}

	quote, err := s.aggregator.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		Amount:      amount,
		SlippageBps: a.SlippageBps.clamp(p.SlippageBps, 0, p.SlippageBps),
		SwapMode:    mode,
	})
	if err != nil {
		return nil, err
	}
	if err := policy.Enforce(p, quote); err != nil {
		return nil, err
	}
	summary := summarize(quote)
	s.log.WithField("quote", summary).Info("agent tool quote")
	return result{"ok": true, "quote": summary}, nil
}

func (s *session) tradesListRecent(ctx context.Context, args string) (result, error) {
	var a struct {
		Limit flexNumber `json:"limit"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	trades, err := s.ledger.List(ctx, s.tick.BotID, a.Limit.clamp(defaultRecentTrades, 1, maxRecentTrades))
	if err != nil {
		return nil, err
	}
	s.recentTrades = trades
	return result{"ok": true, "trades": trades}, nil
}

func (s *session) updateThesis(_ context.Context, args string) (result, error) {
	var a struct {
		Thesis    flexString `json:"thesis"`
		Reasoning flexString `json:"reasoning"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	s.memory.UpdateThesis(string(a.Thesis))
	reasoning := a.Reasoning.trimmed()
	if reasoning != "" {
		s.memory.AddReflection("Thesis update: " + reasoning)
	}
	s.log.WithField("reasoning", reasoning).Info("agent tool thesis updated")
	return ok(), nil
}

func (s *session) logObservation(_ context.Context, args string) (result, error) {
	var a struct {
		Observation flexString `json:"observation"`
		Category    flexString `json:"category"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	text := a.Observation.trimmed()
	if text == "" {
		return fail("empty-observation"), nil
	}
	category := memory.NormalizeCategory(a.Category.trimmed())
	s.memory.AppendObservation(memory.Observation{
		TS:       s.now().UTC(),
		Category: category,
		Content:  text,
	})
	s.log.WithFields(log.Fields{"category": category, "observation": text}).
		Info("agent tool observation logged")
	return ok(), nil
}

func (s *session) addReflection(_ context.Context, args string) (result, error) {
	var a struct {
		Reflection flexString `json:"reflection"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return fail(err.Error()), nil
	}
	text := a.Reflection.trimmed()
	if text == "" {
		return fail("empty-reflection"), nil
	}
	s.memory.AddReflection(text)
	s.log.Info("agent tool reflection added")
	return ok(), nil
}
