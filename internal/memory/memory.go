// Package memory is the agent's durable per-bot memory: a thesis, bounded
// observation and reflection logs, and the daily trade counter.
package memory

import (
	"context"
	"fmt"
	"time"

	"ralph/pkg/utils"
)

const (
	MaxObservations = 50
	MaxReflections  = 20
)

const (
	CategoryMarket      = "market"
	CategoryPattern     = "pattern"
	CategoryRisk        = "risk"
	CategoryOpportunity = "opportunity"
)

type Observation struct {
	TS       time.Time `json:"ts"`
	Category string    `json:"category"`
	Content  string    `json:"content"`
}

type Memory struct {
	Thesis              string        `json:"thesis"`
	Observations        []Observation `json:"observations"`
	Reflections         []string      `json:"reflections"`
	TradesProposedToday int           `json:"tradesProposedToday"`
	LastTradeDate       string        `json:"lastTradeDate"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Store persists one memory document per bot. Load returns (nil, nil) when the
// bot has no memory yet.
type Store interface {
	Load(ctx context.Context, botID string) (*Memory, error)
	Save(ctx context.Context, botID string, m *Memory) error
}

func Key(botID string) string {
	return "agent:memory:" + botID
}

func New(now time.Time) *Memory {
	return &Memory{
		Observations: []Observation{},
		Reflections:  []string{},
		UpdatedAt:    now.UTC(),
	}
}

// Get loads the bot's memory, creating an empty one on first access.
func Get(ctx context.Context, s Store, botID string, now time.Time) (*Memory, error) {
	m, err := s.Load(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	if m == nil {
		return New(now), nil
	}
	if m.Observations == nil {
		m.Observations = []Observation{}
	}
	if m.Reflections == nil {
		m.Reflections = []string{}
	}
	return m, nil
}

// Put stamps UpdatedAt and saves m.
func Put(ctx context.Context, s Store, botID string, m *Memory, now time.Time) error {
	m.trim()
	m.UpdatedAt = now.UTC()
	if err := s.Save(ctx, botID, m); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

func (m *Memory) UpdateThesis(thesis string) {
	m.Thesis = thesis
}

// AppendObservation adds obs, dropping the oldest entries past MaxObservations.
func (m *Memory) AppendObservation(obs Observation) {
	m.Observations = append(m.Observations, obs)
	m.trim()
}

// AddReflection adds r, dropping the oldest entries past MaxReflections.
func (m *Memory) AddReflection(r string) {
	m.Reflections = append(m.Reflections, r)
	m.trim()
}

// trim keeps the newest MaxObservations and MaxReflections entries.
func (m *Memory) trim() {
	if n := len(m.Observations); n > MaxObservations {
		m.Observations = append([]Observation{}, m.Observations[n-MaxObservations:]...)
	}
	if n := len(m.Reflections); n > MaxReflections {
		m.Reflections = append([]string{}, m.Reflections[n-MaxReflections:]...)
	}
}

// ResetDaily zeroes the trade counter when the UTC date of now differs from
// LastTradeDate. It reports whether a reset happened.
func (m *Memory) ResetDaily(now time.Time) bool {
	today := utils.UTCDate(now)
	if m.LastTradeDate == today {
		return false
	}
	m.TradesProposedToday = 0
	m.LastTradeDate = today
	return true
}

// RecordTrade counts one trade attempt for today.
func (m *Memory) RecordTrade(now time.Time) {
	m.TradesProposedToday++
	m.LastTradeDate = utils.UTCDate(now)
}

// NormalizeCategory maps unknown categories to market.
func NormalizeCategory(c string) string {
	switch c {
	case CategoryPattern, CategoryRisk, CategoryOpportunity:
		return c
	default:
		return CategoryMarket
	}
}
