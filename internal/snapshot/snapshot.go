// Package snapshot values a bot wallet: SOL and quote balances priced by a
// one SOL aggregator quote.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ralph/internal/policy"
	"ralph/pkg/jupiter"
	"ralph/pkg/utils"
)

const (
	solDecimals          = 9
	oneSolLamports       = "1000000000"
	defaultQuoteDecimals = 6
)

// Balances reads on-chain balances in atomic units.
type Balances interface {
	GetBalance(ctx context.Context, owner string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error)
}

type Quoter interface {
	Quote(ctx context.Context, r jupiter.QuoteRequest) (*jupiter.QuoteResponse, error)
}

type Snapshot struct {
	TS                  time.Time `json:"ts"`
	BaseMint            string    `json:"baseMint"`
	QuoteMint           string    `json:"quoteMint"`
	QuoteDecimals       int       `json:"quoteDecimals"`
	BaseBalanceAtomic   string    `json:"baseBalanceAtomic"`
	QuoteBalanceAtomic  string    `json:"quoteBalanceAtomic"`
	BasePriceQuote      string    `json:"basePriceQuote"`
	PortfolioValueQuote string    `json:"portfolioValueQuote"`
	BaseAllocationPct   float64   `json:"baseAllocationPct"`
}

type Options struct {
	QuoteMint     string
	QuoteDecimals *int
}

// Build fetches balances and a 1 SOL price quote for wallet. The price quote
// goes through the policy like any other quote.
func Build(ctx context.Context, bal Balances, q Quoter, wallet string, p policy.Normalized, opts Options, now time.Time) (*Snapshot, error) {
	quoteMint := opts.QuoteMint
	if quoteMint == "" {
		quoteMint = jupiter.USDCMint
	}
	quoteDecimals := defaultQuoteDecimals
	if opts.QuoteDecimals != nil {
		quoteDecimals = utils.ClampInt(*opts.QuoteDecimals, 0, 18)
	}

	solLamports, err := bal.GetBalance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("sol balance: %w", err)
	}
	quoteAtomic, err := bal.GetTokenBalance(ctx, wallet, quoteMint)
	if err != nil {
		return nil, fmt.Errorf("quote balance: %w", err)
	}

	priceQuote, err := q.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   jupiter.SolMint,
		OutputMint:  quoteMint,
		Amount:      oneSolLamports,
		SlippageBps: max(1, p.SlippageBps),
		SwapMode:    jupiter.SwapModeExactIn,
	})
	if err != nil {
		return nil, fmt.Errorf("price quote: %w", err)
	}
	if err := policy.Enforce(p, priceQuote); err != nil {
		return nil, err
	}

	pricePerSol, ok := utils.ParseAtomic(priceQuote.OutAmount)
	if !ok {
		pricePerSol = decimal.Zero
	}
	sol := utils.AtomicFromUint64(solLamports)
	quoteBal := utils.AtomicFromUint64(quoteAtomic)

	solValue := sol.Mul(pricePerSol).Shift(-solDecimals).Floor()
	total := solValue.Add(quoteBal)
	allocation := 0.0
	if total.IsPositive() {
		allocation = solValue.Shift(4).Div(total).Floor().Shift(-2).InexactFloat64()
	}

	return &Snapshot{
		TS:                  now.UTC(),
		BaseMint:            jupiter.SolMint,
		QuoteMint:           quoteMint,
		QuoteDecimals:       quoteDecimals,
		BaseBalanceAtomic:   sol.String(),
		QuoteBalanceAtomic:  quoteBal.String(),
		BasePriceQuote:      utils.FormatAtomic(pricePerSol, quoteDecimals, 2),
		PortfolioValueQuote: utils.FormatAtomic(total, quoteDecimals, 2),
		BaseAllocationPct:   allocation,
	}, nil
}
