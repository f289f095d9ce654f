package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"ralph/pkg/utils"
)

var (
	ErrInvalidStrategy     = errors.New("invalid-strategy")
	ErrInvalidStrategyType = errors.New("invalid-strategy-type")
)

// Validate checks a raw strategy document. Errors are named after the variant
// and the offending field, e.g. invalid-agent-maxStepsPerTick.
func Validate(raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ErrInvalidStrategy
	}

	var typ string
	if v, ok := fields["type"]; !ok || json.Unmarshal(v, &typ) != nil {
		return ErrInvalidStrategyType
	}

	switch typ {
	case TypeNoop:
		return nil
	case TypeDCA:
		return validateDCA(fields)
	case TypeRebalance:
		return validateRebalance(fields)
	case TypeAgent:
		return validateAgent(fields)
	default:
		return ErrInvalidStrategyType
	}
}

// Parse validates raw and decodes it.
func Parse(raw json.RawMessage) (*Strategy, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var s Strategy
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, ErrInvalidStrategy
	}
	return &s, nil
}

func validateDCA(f map[string]json.RawMessage) error {
	if !nonEmptyString(f, "inputMint") {
		return invalid("dca", "inputMint")
	}
	if !nonEmptyString(f, "outputMint") {
		return invalid("dca", "outputMint")
	}
	var amount string
	if v, ok := f["amount"]; !ok || json.Unmarshal(v, &amount) != nil || !utils.IsAtomicAmount(amount) || isZero(amount) {
		return invalid("dca", "amount")
	}
	if v, ok := f["everyMinutes"]; ok {
		if n, ok := integer(v); !ok || n < 1 {
			return invalid("dca", "everyMinutes")
		}
	}
	return nil
}

func validateRebalance(f map[string]json.RawMessage) error {
	if !nonEmptyString(f, "baseMint") {
		return invalid("rebalance", "baseMint")
	}
	if !nonEmptyString(f, "quoteMint") {
		return invalid("rebalance", "quoteMint")
	}
	if v, ok := f["targetBasePct"]; !ok || !fraction(v) {
		return invalid("rebalance", "targetBasePct")
	}
	if v, ok := f["thresholdPct"]; ok && !fraction(v) {
		return invalid("rebalance", "thresholdPct")
	}
	for _, name := range []string{"maxSellBaseAmount", "maxBuyQuoteAmount"} {
		if v, ok := f[name]; ok {
			var s string
			if json.Unmarshal(v, &s) != nil || !utils.IsAtomicAmount(s) {
				return invalid("rebalance", name)
			}
		}
	}
	return nil
}

func validateAgent(f map[string]json.RawMessage) error {
	if v, ok := f["minConfidence"]; ok {
		var c string
		if json.Unmarshal(v, &c) != nil || (c != ConfidenceLow && c != ConfidenceMedium && c != ConfidenceHigh) {
			return invalid("agent", "minConfidence")
		}
	}
	ranges := []struct {
		name     string
		min, max int
	}{
		{"maxTradesPerDay", 0, MaxTradesPerDayLimit},
		{"maxStepsPerTick", 1, MaxStepsPerTickLimit},
		{"maxToolCallsPerStep", 1, MaxToolCallsPerStepLimit},
		{"quoteDecimals", 0, MaxQuoteDecimals},
	}
	for _, r := range ranges {
		if v, ok := f[r.name]; ok {
			if n, ok := integer(v); !ok || n < r.min || n > r.max {
				return invalid("agent", r.name)
			}
		}
	}

	if v, ok := f["allowedActions"]; ok {
		var actions []string
		if isNull(v) || json.Unmarshal(v, &actions) != nil {
			return invalid("agent", "allowedActions")
		}
		for _, a := range actions {
			switch a {
			case ActionTrade, ActionUpdateThesis, ActionLogObservation, ActionSkip:
			default:
				return invalid("agent", "allowedActions")
			}
		}
	}

	if v, ok := f["toolPolicy"]; ok {
		if err := validateToolPolicy(v); err != nil {
			return err
		}
	}

	for _, name := range []string{"quoteMint", "model", "mandate"} {
		if v, ok := f[name]; ok {
			var s string
			if json.Unmarshal(v, &s) != nil || (name == "quoteMint" && strings.TrimSpace(s) == "") {
				return invalid("agent", name)
			}
		}
	}
	return nil
}

func validateToolPolicy(raw json.RawMessage) error {
	var p map[string]json.RawMessage
	if json.Unmarshal(raw, &p) != nil || p == nil {
		return invalid("agent", "toolPolicy")
	}
	for _, key := range []string{"allow", "deny"} {
		v, ok := p[key]
		if !ok {
			continue
		}
		var names []string
		if isNull(v) || json.Unmarshal(v, &names) != nil {
			return invalid("agent", "toolPolicy")
		}
		for _, n := range names {
			if strings.TrimSpace(n) == "" {
				return invalid("agent", "toolPolicy")
			}
		}
	}
	if v, ok := p["allowAll"]; ok {
		var b bool
		if isNull(v) || json.Unmarshal(v, &b) != nil {
			return invalid("agent", "toolPolicy")
		}
	}
	return nil
}

func invalid(variant, field string) error {
	return errors.New("invalid-" + variant + "-" + field)
}

func nonEmptyString(f map[string]json.RawMessage, name string) bool {
	v, ok := f[name]
	if !ok {
		return false
	}
	var s string
	return json.Unmarshal(v, &s) == nil && strings.TrimSpace(s) != ""
}

func integer(v json.RawMessage) (int, bool) {
	var n float64
	if isNull(v) || json.Unmarshal(v, &n) != nil || n != math.Trunc(n) {
		return 0, false
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, false
	}
	return int(n), true
}

func fraction(v json.RawMessage) bool {
	var n float64
	if isNull(v) || json.Unmarshal(v, &n) != nil {
		return false
	}
	return n >= 0 && n <= 1
}

func isZero(amount string) bool {
	return strings.TrimLeft(amount, "0") == ""
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
