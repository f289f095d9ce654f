// Package worker persists tick outcome events consumed from the queue and
// alerts operators about failures and executed trades.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ralph/internal/events"
	"ralph/internal/models"
	"ralph/pkg/utils"

	log "github.com/sirupsen/logrus"
)

type EventInserter interface {
	Insert(ctx context.Context, ev *models.BotTickEvent) error
}

type Notifier interface {
	Send(ctx context.Context, title, msg string) error
}

type Handler struct {
	Events EventInserter
	Notify Notifier
	Log    *log.Entry
}

func (h *Handler) logger() *log.Entry {
	if h.Log != nil {
		return h.Log
	}
	return log.NewEntry(log.StandardLogger())
}

// Handle stores one queued tick event. Malformed payloads are dropped so they
// are not requeued forever; storage errors are returned for redelivery.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var ev events.TickEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger().WithError(err).Warn("dropping malformed tick event")
		return nil
	}
	if ev.BotID == "" || ev.RunID == "" {
		h.logger().WithField("payload", utils.Truncate(string(body), 200)).Warn("dropping tick event without ids")
		return nil
	}

	entry := h.logger().WithFields(log.Fields{"bot_id": ev.BotID, "run_id": ev.RunID})
	if err := h.Events.Insert(ctx, toRecord(ev)); err != nil {
		return fmt.Errorf("store tick event: %w", err)
	}
	entry.WithFields(log.Fields{"ok": ev.OK, "reason": ev.Reason, "steps": ev.Steps}).Info("tick event stored")

	if h.Notify == nil {
		return nil
	}
	if title, msg, ok := Describe(ev); ok {
		if err := h.Notify.Send(ctx, title, msg); err != nil {
			entry.WithError(err).Warn("notify failed")
		}
	}
	return nil
}

func toRecord(ev events.TickEvent) *models.BotTickEvent {
	return &models.BotTickEvent{
		BotID:         ev.BotID,
		RunID:         ev.RunID,
		Reason:        ev.Reason,
		OK:            ev.OK,
		Error:         ev.Error,
		Steps:         ev.Steps,
		TradeExecuted: ev.TradeExecuted,
		TradeStatus:   ev.TradeStatus,
		Signature:     ev.Signature,
		Superseded:    ev.Superseded,
		StartedAt:     ev.StartedAt,
		FinishedAt:    ev.FinishedAt,
	}
}

// Describe returns the alert for ev, if it warrants one.
func Describe(ev events.TickEvent) (title, msg string, ok bool) {
	switch {
	case !ev.OK:
		return "tick failed", fmt.Sprintf("bot %s run %s (%s): %s",
			ev.BotID, ev.RunID, ev.Reason, utils.Truncate(ev.Error, 500)), true
	case ev.TradeExecuted:
		var b strings.Builder
		fmt.Fprintf(&b, "bot %s run %s status %s", ev.BotID, ev.RunID, ev.TradeStatus)
		if ev.Signature != "" {
			fmt.Fprintf(&b, "\nsignature %s", ev.Signature)
		}
		return "trade executed", b.String(), true
	}
	return "", "", false
}
