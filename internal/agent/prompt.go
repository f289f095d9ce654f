package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ralph/internal/memory"
	"ralph/internal/models"
	"ralph/internal/policy"
	"ralph/internal/snapshot"
	"ralph/internal/strategy"
	"ralph/pkg/utils"
)

const (
	defaultMandate  = "Build a disciplined trading strategy. Research before acting."
	kickoffMessage  = "New tick. Use tools to gather data and act. When done, call " + ToolFinish + "."
	signaturePrefix = 12
)

type promptInput struct {
	memory       *memory.Memory
	snapshot     *snapshot.Snapshot
	recentTrades []models.TradeIndex
	strategy     *strategy.Strategy
	policy       policy.Normalized
}

func systemPrompt(in promptInput) string {
	m, snap, st, p := in.memory, in.snapshot, in.strategy, in.policy

	maxTrades := st.TradesPerDay()
	remaining := max(0, maxTrades-m.TradesProposedToday)

	thesis := m.Thesis
	if thesis == "" {
		thesis = "No thesis yet. Build one from your observations."
	}
	mandate := st.Mandate
	if mandate == "" {
		mandate = defaultMandate
	}
	allowed := "any"
	if len(p.AllowedMints) > 0 {
		allowed = strings.Join(p.AllowedMints, ", ")
	}

	var b strings.Builder
	b.WriteString("You are Ralph, an autonomous trading agent operating on Solana.\n")
	b.WriteString("You run in a loop. Each tick you may call tools to observe, research, and act.\n\n")

	b.WriteString("YOUR MEMORY (persists between ticks):\n")
	fmt.Fprintf(&b, "Thesis: %s\n\n", thesis)
	fmt.Fprintf(&b, "Recent observations:\n%s\n\n", observationsBlock(m.Observations))
	fmt.Fprintf(&b, "Learnings:\n%s\n\n", reflectionsBlock(m.Reflections))

	b.WriteString("CURRENT MARKET STATE:\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", snap.TS.Format(time.RFC3339))
	fmt.Fprintf(&b, "Base mint: %s (native SOL)\n", snap.BaseMint)
	fmt.Fprintf(&b, "Quote mint: %s (decimals=%d)\n", snap.QuoteMint, snap.QuoteDecimals)
	fmt.Fprintf(&b, "SOL balance: %s lamports (%s SOL)\n", snap.BaseBalanceAtomic, utils.FormatAtomicString(snap.BaseBalanceAtomic, 9, 4))
	fmt.Fprintf(&b, "Quote balance: %s atomic (%s)\n", snap.QuoteBalanceAtomic, utils.FormatAtomicString(snap.QuoteBalanceAtomic, snap.QuoteDecimals, 4))
	fmt.Fprintf(&b, "SOL price: %s quote per SOL\n", snap.BasePriceQuote)
	fmt.Fprintf(&b, "Portfolio value: %s quote\n", snap.PortfolioValueQuote)
	fmt.Fprintf(&b, "SOL allocation: %s%%\n\n", strconv.FormatFloat(snap.BaseAllocationPct, 'f', -1, 64))

	fmt.Fprintf(&b, "Recent trades:\n%s\n\n", tradesBlock(in.recentTrades))

	fmt.Fprintf(&b, "YOUR MANDATE (from the fund manager):\n%s\n\n", mandate)

	b.WriteString("POLICY CONSTRAINTS (non-negotiable):\n")
	fmt.Fprintf(&b, "Kill switch: %t\n", p.KillSwitch)
	fmt.Fprintf(&b, "Allowed mints: %s\n", allowed)
	fmt.Fprintf(&b, "Max price impact: %.1f%%\n", p.MaxPriceImpactPct*100)
	fmt.Fprintf(&b, "Max trade amount: %s\n", maxTradeAmount(p.MaxTradeAmountAtomic))
	fmt.Fprintf(&b, "Slippage tolerance: %d bps\n", p.SlippageBps)
	fmt.Fprintf(&b, "Min SOL reserve (fees/rent): %s lamports\n", p.MinSolReserveLamports)
	fmt.Fprintf(&b, "Simulate-only mode: %t\n", p.SimulateOnly)
	fmt.Fprintf(&b, "Dry run: %t\n", p.DryRun)
	fmt.Fprintf(&b, "Skip preflight: %t\n", p.SkipPreflight)
	fmt.Fprintf(&b, "Commitment: %s\n", p.Commitment)
	fmt.Fprintf(&b, "Trades remaining today: %d of %d\n", remaining, maxTrades)
	fmt.Fprintf(&b, "Minimum trade confidence: %s\n\n", st.Confidence())

	b.WriteString("TOOL LOOP RULES:\n")
	b.WriteString("1. You may call tools multiple times in a tick to gather data and validate actions.\n")
	fmt.Fprintf(&b, "2. Execute at most ONE trade per tick (%s).\n", ToolTradeExecute)
	fmt.Fprintf(&b, "3. When you are done, call %s with a concise summary and reasoning.\n", ToolFinish)
	b.WriteString("4. If you are uncertain, gather more data or finish without trading.\n")
	b.WriteString("5. Amounts are atomic units: lamports for SOL; token atomic units for SPL tokens.")
	return b.String()
}

func observationsBlock(obs []memory.Observation) string {
	if len(obs) == 0 {
		return "(none yet)"
	}
	lines := make([]string, 0, len(obs))
	for _, o := range obs {
		lines = append(lines, fmt.Sprintf("[%s] (%s) %s", o.TS.UTC().Format(time.RFC3339), o.Category, o.Content))
	}
	return strings.Join(lines, "\n")
}

func reflectionsBlock(refl []string) string {
	if len(refl) == 0 {
		return "(none yet)"
	}
	lines := make([]string, 0, len(refl))
	for i, r := range refl {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, r))
	}
	return strings.Join(lines, "\n")
}

func tradesBlock(trades []models.TradeIndex) string {
	if len(trades) == 0 {
		return "(no trades yet)"
	}
	lines := make([]string, 0, len(trades))
	for _, t := range trades {
		sig := ""
		if t.Signature != nil && *t.Signature != "" {
			sig = " sig=" + utils.Truncate(*t.Signature, signaturePrefix) + "…"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s size=%s price=%s status=%s%s",
			t.CreatedAt.UTC().Format(time.RFC3339), t.Side, t.Market,
			orUnknown(t.Size), orUnknown(t.Price), orUnknown(t.Status), sig))
	}
	return strings.Join(lines, "\n")
}

func maxTradeAmount(v string) string {
	if v == "" || v == "0" {
		return "unlimited"
	}
	return v + " atomic"
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
