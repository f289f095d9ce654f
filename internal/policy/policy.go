// Package policy holds the risk constraints a bot trades under: the stored
// (sparse) form, its normalized form and the checks applied to quotes.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ralph/pkg/jupiter"
	"ralph/pkg/utils"
)

const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"

	DefaultMaxPriceImpactPct     = 0.05
	DefaultSlippageBps           = 50
	DefaultCommitment            = CommitmentConfirmed
	DefaultMinSolReserveLamports = "50000000"
	MaxSlippageBps               = 10000
)

var (
	ErrMintNotAllowed        = errors.New("mint-not-allowed")
	ErrPriceImpactTooHigh    = errors.New("price-impact-too-high")
	ErrTradeAmountExceedsCap = errors.New("max-trade-amount-exceeded")
	ErrInvalidQuote          = errors.New("invalid-quote")
)

// Policy is the policy as stored in the loop configuration. Every field is
// optional; absent fields take their defaults in Normalize.
type Policy struct {
	KillSwitch   *bool    `json:"killSwitch,omitempty"`
	AllowedMints []string `json:"allowedMints,omitempty"`
	// "0" means unlimited.
	MaxTradeAmountAtomic *string  `json:"maxTradeAmountAtomic,omitempty"`
	MaxPriceImpactPct    *float64 `json:"maxPriceImpactPct,omitempty"`
	SlippageBps          *int     `json:"slippageBps,omitempty"`
	// Sign and simulate against the chain without broadcasting.
	SimulateOnly  *bool   `json:"simulateOnly,omitempty"`
	DryRun        *bool   `json:"dryRun,omitempty"`
	SkipPreflight *bool   `json:"skipPreflight,omitempty"`
	Commitment    *string `json:"commitment,omitempty"`
	// SOL kept unspent for fees and rent, in lamports.
	MinSolReserveLamports *string `json:"minSolReserveLamports,omitempty"`
}

// Normalized is a fully populated policy.
type Normalized struct {
	KillSwitch            bool     `json:"killSwitch"`
	AllowedMints          []string `json:"allowedMints"`
	MaxTradeAmountAtomic  string   `json:"maxTradeAmountAtomic"`
	MaxPriceImpactPct     float64  `json:"maxPriceImpactPct"`
	SlippageBps           int      `json:"slippageBps"`
	SimulateOnly          bool     `json:"simulateOnly"`
	DryRun                bool     `json:"dryRun"`
	SkipPreflight         bool     `json:"skipPreflight"`
	Commitment            string   `json:"commitment"`
	MinSolReserveLamports string   `json:"minSolReserveLamports"`
}

// Normalize fills every absent or unusable field with its default. It never fails.
func Normalize(p *Policy) Normalized {
	n := Normalized{
		AllowedMints:          []string{},
		MaxTradeAmountAtomic:  "0",
		MaxPriceImpactPct:     DefaultMaxPriceImpactPct,
		SlippageBps:           DefaultSlippageBps,
		Commitment:            DefaultCommitment,
		MinSolReserveLamports: DefaultMinSolReserveLamports,
	}
	if p == nil {
		return n
	}

	n.KillSwitch = boolOr(p.KillSwitch, false)
	n.SimulateOnly = boolOr(p.SimulateOnly, false)
	n.DryRun = boolOr(p.DryRun, false)
	n.SkipPreflight = boolOr(p.SkipPreflight, false)

	seen := make(map[string]bool, len(p.AllowedMints))
	for _, mint := range p.AllowedMints {
		mint = strings.TrimSpace(mint)
		if mint == "" || seen[mint] {
			continue
		}
		seen[mint] = true
		n.AllowedMints = append(n.AllowedMints, mint)
	}

	if p.MaxTradeAmountAtomic != nil && utils.IsAtomicAmount(*p.MaxTradeAmountAtomic) {
		n.MaxTradeAmountAtomic = *p.MaxTradeAmountAtomic
	}
	if p.MaxPriceImpactPct != nil {
		v := *p.MaxPriceImpactPct
		switch {
		case v < 0:
			v = 0
		case v > 1:
			v = 1
		}
		n.MaxPriceImpactPct = v
	}
	if p.SlippageBps != nil {
		n.SlippageBps = utils.ClampInt(*p.SlippageBps, 0, MaxSlippageBps)
	}
	if p.Commitment != nil && validCommitment(*p.Commitment) {
		n.Commitment = *p.Commitment
	}
	if p.MinSolReserveLamports != nil && utils.IsAtomicAmount(*p.MinSolReserveLamports) {
		n.MinSolReserveLamports = *p.MinSolReserveLamports
	}
	return n
}

// Merge applies the fields present in patch on top of current. Fields absent
// from patch keep their current value.
func Merge(current, patch *Policy) *Policy {
	var out Policy
	if current != nil {
		out = *current
	}
	if patch == nil {
		return &out
	}
	if patch.KillSwitch != nil {
		out.KillSwitch = patch.KillSwitch
	}
	if patch.AllowedMints != nil {
		out.AllowedMints = append([]string{}, patch.AllowedMints...)
	}
	if patch.MaxTradeAmountAtomic != nil {
		out.MaxTradeAmountAtomic = patch.MaxTradeAmountAtomic
	}
	if patch.MaxPriceImpactPct != nil {
		out.MaxPriceImpactPct = patch.MaxPriceImpactPct
	}
	if patch.SlippageBps != nil {
		out.SlippageBps = patch.SlippageBps
	}
	if patch.SimulateOnly != nil {
		out.SimulateOnly = patch.SimulateOnly
	}
	if patch.DryRun != nil {
		out.DryRun = patch.DryRun
	}
	if patch.SkipPreflight != nil {
		out.SkipPreflight = patch.SkipPreflight
	}
	if patch.Commitment != nil {
		out.Commitment = patch.Commitment
	}
	if patch.MinSolReserveLamports != nil {
		out.MinSolReserveLamports = patch.MinSolReserveLamports
	}
	return &out
}

// Enforce rejects a quote that trades a mint outside a non-empty allowlist,
// exceeds the price impact cap or spends more than a non-zero amount cap.
func Enforce(p Normalized, q *jupiter.QuoteResponse) error {
	if q == nil {
		return fmt.Errorf("%w: missing quote", ErrInvalidQuote)
	}
	if len(p.AllowedMints) > 0 {
		if !contains(p.AllowedMints, q.InputMint) {
			return fmt.Errorf("%w: %s", ErrMintNotAllowed, q.InputMint)
		}
		if !contains(p.AllowedMints, q.OutputMint) {
			return fmt.Errorf("%w: %s", ErrMintNotAllowed, q.OutputMint)
		}
	}

	impact := decimal.Zero
	if s := strings.TrimSpace(q.PriceImpactPct); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("%w: priceImpactPct %q", ErrInvalidQuote, q.PriceImpactPct)
		}
		impact = v
	}
	if impact.GreaterThan(decimal.NewFromFloat(p.MaxPriceImpactPct)) {
		return fmt.Errorf("%w: %s > %v", ErrPriceImpactTooHigh, impact.String(), p.MaxPriceImpactPct)
	}

	maxAmount, _ := utils.ParseAtomic(p.MaxTradeAmountAtomic)
	if !maxAmount.IsZero() {
		in, ok := utils.ParseAtomic(q.InAmount)
		if !ok {
			return fmt.Errorf("%w: inAmount %q", ErrInvalidQuote, q.InAmount)
		}
		if in.GreaterThan(maxAmount) {
			return fmt.Errorf("%w: %s > %s", ErrTradeAmountExceedsCap, q.InAmount, p.MaxTradeAmountAtomic)
		}
	}
	return nil
}

func validCommitment(c string) bool {
	return c == CommitmentProcessed || c == CommitmentConfirmed || c == CommitmentFinalized
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
