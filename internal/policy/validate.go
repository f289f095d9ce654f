package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"ralph/pkg/utils"
)

var ErrInvalidPolicy = errors.New("invalid-policy")

func invalidField(field string) error {
	return errors.New("invalid-policy-" + field)
}

// Validate checks a raw policy patch. Only the fields present are checked, and
// unknown fields are ignored. The first invalid field is reported as
// invalid-policy-<field>.
func Validate(raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ErrInvalidPolicy
	}

	for _, name := range []string{"killSwitch", "simulateOnly", "dryRun", "skipPreflight"} {
		if v, ok := fields[name]; ok {
			var b bool
			if isNull(v) || json.Unmarshal(v, &b) != nil {
				return invalidField(name)
			}
		}
	}

	if v, ok := fields["allowedMints"]; ok {
		var mints []string
		if isNull(v) || json.Unmarshal(v, &mints) != nil {
			return invalidField("allowedMints")
		}
		for _, mint := range mints {
			if strings.TrimSpace(mint) == "" {
				return invalidField("allowedMints")
			}
		}
	}

	for _, name := range []string{"maxTradeAmountAtomic", "minSolReserveLamports"} {
		if v, ok := fields[name]; ok {
			var s string
			if isNull(v) || json.Unmarshal(v, &s) != nil || !utils.IsAtomicAmount(s) {
				return invalidField(name)
			}
		}
	}

	if v, ok := fields["maxPriceImpactPct"]; ok {
		var f float64
		if isNull(v) || json.Unmarshal(v, &f) != nil || f < 0 || f > 1 {
			return invalidField("maxPriceImpactPct")
		}
	}

	if v, ok := fields["slippageBps"]; ok {
		var n int
		if isNull(v) || json.Unmarshal(v, &n) != nil || n < 0 || n > MaxSlippageBps {
			return invalidField("slippageBps")
		}
	}

	if v, ok := fields["commitment"]; ok {
		var s string
		if isNull(v) || json.Unmarshal(v, &s) != nil || !validCommitment(s) {
			return invalidField("commitment")
		}
	}
	return nil
}

// Parse validates raw and decodes it into a Policy.
func Parse(raw json.RawMessage) (*Policy, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidPolicy
	}
	return &p, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
