package events

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	subscriberBuffer = 16
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

// Hub fans tick events out to in-process subscribers, keyed by bot id.
// Slow subscribers miss events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan TickEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan TickEvent]struct{})}
}

// Subscribe returns a channel of botID's events and a func that releases it.
func (h *Hub) Subscribe(botID string) (<-chan TickEvent, func()) {
	ch := make(chan TickEvent, subscriberBuffer)
	h.mu.Lock()
	if h.subs[botID] == nil {
		h.subs[botID] = make(map[chan TickEvent]struct{})
	}
	h.subs[botID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[botID], ch)
			if len(h.subs[botID]) == 0 {
				delete(h.subs, botID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, ev TickEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.BotID] {
		select {
		case ch <- ev:
		default:
			log.WithField("bot_id", ev.BotID).Warn("event subscriber lagging, dropping event")
		}
	}
	return nil
}

// Subscribers reports how many subscribers botID has.
func (h *Hub) Subscribers(botID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[botID])
}

// Stream writes botID's events to conn as JSON until the client goes away or
// ctx ends. It closes conn.
func (h *Hub) Stream(ctx context.Context, conn *websocket.Conn, botID string) {
	events, cancel := h.Subscribe(botID)
	defer cancel()
	defer conn.Close()

	// Reader goroutine: detects client close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).WithField("bot_id", botID).Debug("event stream write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
