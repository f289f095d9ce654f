// Package swap turns a validated quote into an executable transaction.
package swap

import (
	"context"
	"errors"
	"fmt"

	"ralph/internal/policy"
	"ralph/pkg/jupiter"
)

// Aggregator is the subset of the jupiter client the coordinator needs.
type Aggregator interface {
	Quote(ctx context.Context, r jupiter.QuoteRequest) (*jupiter.QuoteResponse, error)
	BuildSwap(ctx context.Context, quote *jupiter.QuoteResponse, userPublicKey string) (*jupiter.SwapResponse, error)
}

type Result struct {
	Swap      *jupiter.SwapResponse
	Quote     *jupiter.QuoteResponse
	Refreshed bool
}

// WithRetry builds the swap transaction for quote. A stale quote rejection
// triggers exactly one re-quote with the same parameters; the refreshed quote
// is checked against p before it is used.
func WithRetry(ctx context.Context, agg Aggregator, quote *jupiter.QuoteResponse, wallet string, p policy.Normalized) (*Result, error) {
	tx, err := agg.BuildSwap(ctx, quote, wallet)
	if err == nil {
		return &Result{Swap: tx, Quote: quote}, nil
	}
	if !errors.Is(err, jupiter.ErrStaleQuote) {
		return nil, err
	}

	fresh, err := agg.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   quote.InputMint,
		OutputMint:  quote.OutputMint,
		Amount:      requestedAmount(quote),
		SlippageBps: p.SlippageBps,
		SwapMode:    quote.SwapMode,
	})
	if err != nil {
		return nil, fmt.Errorf("requote: %w", err)
	}
	if err := policy.Enforce(p, fresh); err != nil {
		return nil, err
	}
	tx, err = agg.BuildSwap(ctx, fresh, wallet)
	if err != nil {
		return nil, err
	}
	return &Result{Swap: tx, Quote: fresh, Refreshed: true}, nil
}

// requestedAmount recovers the amount the caller asked for: inAmount for
// ExactIn quotes, outAmount for ExactOut.
func requestedAmount(q *jupiter.QuoteResponse) string {
	if q.SwapMode == jupiter.SwapModeExactOut {
		return q.OutAmount
	}
	return q.InAmount
}
