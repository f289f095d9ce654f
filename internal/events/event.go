// Package events publishes tick outcomes to the worker queue and to live
// websocket subscribers.
package events

import (
	"context"
	"errors"
	"time"
)

// QueueTickEvents is the durable queue the worker consumes.
const QueueTickEvents = "bot_tick_events"

type TickEvent struct {
	BotID         string    `json:"botId"`
	RunID         string    `json:"runId"`
	Reason        string    `json:"reason"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	Steps         int       `json:"steps"`
	TradeExecuted bool      `json:"tradeExecuted"`
	TradeStatus   string    `json:"tradeStatus,omitempty"`
	Signature     string    `json:"signature,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	// Superseded marks a run whose in-flight marker was overridden as stale.
	Superseded bool `json:"superseded"`
}

type Sink interface {
	Publish(ctx context.Context, ev TickEvent) error
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev TickEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, TickEvent) error { return nil }
