// Package strategy defines the trading strategies a bot loop can run.
//
// A Strategy is a flat record: Type selects the variant and only the fields
// belonging to that variant are meaningful. Only the agent variant drives the
// tool-calling loop; the others are accepted and stored but skipped by the
// scheduler.
package strategy

import (
	"ralph/pkg/jupiter"
)

const (
	TypeNoop      = "noop"
	TypeDCA       = "dca"
	TypeRebalance = "rebalance"
	TypeAgent     = "agent"
)

const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Coarse action classes an agent can be limited to.
const (
	ActionTrade          = "trade"
	ActionUpdateThesis   = "update_thesis"
	ActionLogObservation = "log_observation"
	ActionSkip           = "skip"
)

const (
	DefaultMaxTradesPerDay     = 5
	DefaultMinConfidence       = ConfidenceMedium
	DefaultMaxStepsPerTick     = 4
	DefaultMaxToolCallsPerStep = 4
	DefaultQuoteDecimals       = 6

	MaxStepsPerTickLimit     = 12
	MaxToolCallsPerStepLimit = 10
	MaxTradesPerDayLimit     = 100
	MaxQuoteDecimals         = 18
)

const defaultMandate = "Operate as a cautious SOL/USDC trading agent. Research before acting. " +
	"Build and maintain a clear thesis. Prefer no trade over a bad trade. " +
	"Log observations and update thesis when the market changes."

// ToolPolicy is a name based allow/deny filter over the agent tool catalog.
type ToolPolicy struct {
	Allow    []string `json:"allow,omitempty"`
	Deny     []string `json:"deny,omitempty"`
	AllowAll *bool    `json:"allowAll,omitempty"`
}

type Strategy struct {
	Type string `json:"type"`

	// dca
	InputMint    string `json:"inputMint,omitempty"`
	OutputMint   string `json:"outputMint,omitempty"`
	Amount       string `json:"amount,omitempty"`
	EveryMinutes *int   `json:"everyMinutes,omitempty"`

	// rebalance
	BaseMint          string   `json:"baseMint,omitempty"`
	TargetBasePct     *float64 `json:"targetBasePct,omitempty"`
	ThresholdPct      *float64 `json:"thresholdPct,omitempty"`
	MaxSellBaseAmount string   `json:"maxSellBaseAmount,omitempty"`
	MaxBuyQuoteAmount string   `json:"maxBuyQuoteAmount,omitempty"`

	// rebalance and agent
	QuoteMint string `json:"quoteMint,omitempty"`

	// agent
	Model               string      `json:"model,omitempty"`
	Mandate             string      `json:"mandate,omitempty"`
	MinConfidence       string      `json:"minConfidence,omitempty"`
	MaxTradesPerDay     *int        `json:"maxTradesPerDay,omitempty"`
	AllowedActions      []string    `json:"allowedActions,omitempty"`
	MaxStepsPerTick     *int        `json:"maxStepsPerTick,omitempty"`
	MaxToolCallsPerStep *int        `json:"maxToolCallsPerStep,omitempty"`
	ToolPolicy          *ToolPolicy `json:"toolPolicy,omitempty"`
	QuoteDecimals       *int        `json:"quoteDecimals,omitempty"`
}

// DefaultAgent is the strategy a bot gets when it is started without one.
func DefaultAgent() *Strategy {
	return &Strategy{
		Type:                TypeAgent,
		Mandate:             defaultMandate,
		MinConfidence:       ConfidenceMedium,
		MaxTradesPerDay:     intPtr(2),
		MaxStepsPerTick:     intPtr(DefaultMaxStepsPerTick),
		MaxToolCallsPerStep: intPtr(DefaultMaxToolCallsPerStep),
		QuoteMint:           jupiter.USDCMint,
		QuoteDecimals:       intPtr(DefaultQuoteDecimals),
	}
}

// IsNoop reports whether s is absent or the no-op strategy.
func (s *Strategy) IsNoop() bool {
	return s == nil || s.Type == "" || s.Type == TypeNoop
}

func (s *Strategy) IsAgent() bool {
	return s != nil && s.Type == TypeAgent
}

func (s *Strategy) TradesPerDay() int {
	if s == nil || s.MaxTradesPerDay == nil {
		return DefaultMaxTradesPerDay
	}
	return *s.MaxTradesPerDay
}

func (s *Strategy) Confidence() string {
	if s == nil || s.MinConfidence == "" {
		return DefaultMinConfidence
	}
	return s.MinConfidence
}

// ConfidenceRank orders confidence levels; unknown values rank as low.
func ConfidenceRank(c string) int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// NormalizeConfidence maps anything that is not medium or high to low.
func NormalizeConfidence(c string) string {
	if c == ConfidenceHigh || c == ConfidenceMedium {
		return c
	}
	return ConfidenceLow
}

// Merge applies patch to current. A patch with a different type replaces the
// strategy entirely. Same-type patches merge field by field, and the tool
// policy is merged one level deeper.
func Merge(current, patch *Strategy) *Strategy {
	if patch == nil {
		return clone(current)
	}
	if current == nil || patch.Type != current.Type {
		return clone(patch)
	}

	out := clone(current)
	setString(&out.InputMint, patch.InputMint)
	setString(&out.OutputMint, patch.OutputMint)
	setString(&out.Amount, patch.Amount)
	if patch.EveryMinutes != nil {
		out.EveryMinutes = intPtr(*patch.EveryMinutes)
	}

	setString(&out.BaseMint, patch.BaseMint)
	if patch.TargetBasePct != nil {
		v := *patch.TargetBasePct
		out.TargetBasePct = &v
	}
	if patch.ThresholdPct != nil {
		v := *patch.ThresholdPct
		out.ThresholdPct = &v
	}
	setString(&out.MaxSellBaseAmount, patch.MaxSellBaseAmount)
	setString(&out.MaxBuyQuoteAmount, patch.MaxBuyQuoteAmount)
	setString(&out.QuoteMint, patch.QuoteMint)

	setString(&out.Model, patch.Model)
	setString(&out.Mandate, patch.Mandate)
	setString(&out.MinConfidence, patch.MinConfidence)
	if patch.MaxTradesPerDay != nil {
		out.MaxTradesPerDay = intPtr(*patch.MaxTradesPerDay)
	}
	if patch.AllowedActions != nil {
		out.AllowedActions = append([]string{}, patch.AllowedActions...)
	}
	if patch.MaxStepsPerTick != nil {
		out.MaxStepsPerTick = intPtr(*patch.MaxStepsPerTick)
	}
	if patch.MaxToolCallsPerStep != nil {
		out.MaxToolCallsPerStep = intPtr(*patch.MaxToolCallsPerStep)
	}
	if patch.QuoteDecimals != nil {
		out.QuoteDecimals = intPtr(*patch.QuoteDecimals)
	}
	if patch.ToolPolicy != nil {
		tp := ToolPolicy{}
		if out.ToolPolicy != nil {
			tp = *out.ToolPolicy
		}
		if patch.ToolPolicy.Allow != nil {
			tp.Allow = append([]string{}, patch.ToolPolicy.Allow...)
		}
		if patch.ToolPolicy.Deny != nil {
			tp.Deny = append([]string{}, patch.ToolPolicy.Deny...)
		}
		if patch.ToolPolicy.AllowAll != nil {
			v := *patch.ToolPolicy.AllowAll
			tp.AllowAll = &v
		}
		out.ToolPolicy = &tp
	}
	return out
}

func clone(s *Strategy) *Strategy {
	if s == nil {
		return nil
	}
	out := *s
	if s.AllowedActions != nil {
		out.AllowedActions = append([]string{}, s.AllowedActions...)
	}
	if s.ToolPolicy != nil {
		tp := *s.ToolPolicy
		tp.Allow = append([]string(nil), s.ToolPolicy.Allow...)
		tp.Deny = append([]string(nil), s.ToolPolicy.Deny...)
		out.ToolPolicy = &tp
	}
	return &out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func intPtr(v int) *int { return &v }
