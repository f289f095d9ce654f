// Package loopconfig holds the per-bot loop configuration and its
// merge-update rules.
package loopconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"ralph/internal/policy"
	"ralph/internal/strategy"
)

var (
	ErrInvalidBody     = errors.New("invalid-body")
	ErrInvalidEnabled  = errors.New("invalid-enabled")
	ErrInvalidStrategy = errors.New("invalid-strategy")
)

type LoopConfig struct {
	Enabled   bool               `json:"enabled"`
	Policy    *policy.Policy     `json:"policy,omitempty"`
	Strategy  *strategy.Strategy `json:"strategy,omitempty"`
	UpdatedAt *time.Time         `json:"updatedAt,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Enabled  *bool
	Policy   *policy.Policy
	Strategy *strategy.Strategy
	RunNow   bool
}

// NormalizedPolicy returns the config's policy with defaults applied.
func (c LoopConfig) NormalizedPolicy() policy.Normalized {
	return policy.Normalize(c.Policy)
}

// Apply merges p into c and stamps UpdatedAt.
func Apply(c LoopConfig, p Patch, now time.Time) LoopConfig {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Policy != nil {
		c.Policy = policy.Merge(c.Policy, p.Policy)
	}
	if p.Strategy != nil {
		c.Strategy = strategy.Merge(c.Strategy, p.Strategy)
	}
	ts := now.UTC()
	c.UpdatedAt = &ts
	return c
}

// ParsePatch decodes and validates a config update request body of the form
// {enabled?, policy?, strategy?, runNow?}. Nothing is returned unless every
// present field is valid.
func ParsePatch(body []byte) (Patch, error) {
	var out Patch
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return out, ErrInvalidBody
	}

	if v, ok := fields["enabled"]; ok {
		var enabled bool
		if isNull(v) || json.Unmarshal(v, &enabled) != nil {
			return Patch{}, ErrInvalidEnabled
		}
		out.Enabled = &enabled
	}

	if v, ok := fields["policy"]; ok {
		p, err := policy.Parse(v)
		if err != nil {
			return Patch{}, err
		}
		out.Policy = p
	}

	if v, ok := fields["strategy"]; ok {
		trimmed := bytes.TrimSpace(v)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return Patch{}, ErrInvalidStrategy
		}
		s, err := strategy.Parse(v)
		if err != nil {
			return Patch{}, err
		}
		out.Strategy = s
	}

	if v, ok := fields["runNow"]; ok {
		var runNow bool
		if json.Unmarshal(v, &runNow) == nil {
			out.RunNow = runNow
		}
	}
	return out, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
