package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"ralph/internal/agent"
	"ralph/internal/events"
	"ralph/internal/models"
	"ralph/internal/store"
	"ralph/internal/testutil"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 30, 0, time.UTC)

func newMockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(testNow)
	return c
}

// pending returns the deadline of the actor's armed timer.
func pending(a *Actor) []time.Time {
	at, ok := a.armedAt()
	if !ok {
		return nil
	}
	return []time.Time{at}
}

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []TickRequest
	out   TickOutcome
	block chan struct{}
}

func (r *fakeRunner) RunTick(_ context.Context, req TickRequest) TickOutcome {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	out := r.out
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if out.RunID == "" {
		out.RunID = "run-" + req.Reason
	}
	return out
}

func (r *fakeRunner) calls() []TickRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TickRequest(nil), r.reqs...)
}

type recordingSink struct {
	mu  sync.Mutex
	evs []events.TickEvent
}

func (s *recordingSink) Publish(_ context.Context, ev events.TickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *recordingSink) events() []events.TickEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.TickEvent(nil), s.evs...)
}

type harness struct {
	bots    *store.BotStore
	configs *store.LoopConfigStore
	alarms  *store.AlarmStore
	clock   *clock.Mock
	runner  *fakeRunner
	sink    *recordingSink
	reg     *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	h := &harness{
		bots:    store.NewBotStore(db),
		configs: store.NewLoopConfigStore(db, false),
		alarms:  store.NewAlarmStore(db),
		clock:   newMockClock(),
		runner:  &fakeRunner{out: TickOutcome{OK: true, Result: &agent.Result{Steps: 2}}},
		sink:    &recordingSink{},
	}
	h.reg = NewRegistry(context.Background(), Deps{
		Bots:    h.bots,
		Configs: h.configs,
		Alarms:  h.alarms,
		Runner:  h.runner,
		Events:  h.sink,
		Clock:   h.clock,
	})
	t.Cleanup(h.reg.Shutdown)
	return h
}

func (h *harness) addBot(t *testing.T, id string, enabled bool) {
	t.Helper()
	require.NoError(t, h.bots.Create(context.Background(), &models.Bot{
		ID:            id,
		Name:          id,
		Enabled:       enabled,
		SignerType:    models.SignerTypePrivy,
		SignerRef:     "wallet-" + id,
		WalletAddress: "Addr-" + id,
	}))
}

func (h *harness) alarm(t *testing.T, id string) *time.Time {
	t.Helper()
	at, err := h.alarms.Get(context.Background(), id)
	require.NoError(t, err)
	return at
}

func boolPtr(v bool) *bool { return &v }
