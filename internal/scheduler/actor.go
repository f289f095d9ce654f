// Package scheduler runs one actor per bot. An actor owns the bot's durable
// wake-up alarm, admits at most one tick at a time and re-arms itself after
// every run.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	log "github.com/sirupsen/logrus"

	"ralph/internal/events"
	"ralph/internal/loopconfig"
	"ralph/internal/metrics"
	"ralph/internal/models"
	"ralph/internal/policy"
	"ralph/internal/store"
	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
	"ralph/pkg/utils"
)

const (
	ReasonCron   = "cron"
	ReasonManual = "manual"

	DefaultInterval   = 60 * time.Second
	DefaultMaxRuntime = 120 * time.Second
)

type BotSource interface {
	Meta(ctx context.Context, id string) (*store.BotMeta, error)
	RecordTickResult(ctx context.Context, id string, ok bool, tickErr string, now time.Time) error
}

type ConfigStore interface {
	Get(ctx context.Context, botID string) (loopconfig.LoopConfig, error)
	Update(ctx context.Context, botID string, patch loopconfig.Patch, now time.Time) (loopconfig.LoopConfig, error)
}

type AlarmStore interface {
	Get(ctx context.Context, botID string) (*time.Time, error)
	Set(ctx context.Context, botID string, at time.Time) error
	Delete(ctx context.Context, botID string) error
	ListArmed(ctx context.Context) ([]models.BotActorState, error)
}

// Deps are shared by every actor of a registry.
type Deps struct {
	Bots    BotSource
	Configs ConfigStore
	Alarms  AlarmStore
	Runner  TickRunner
	Events  events.Sink
	Clock   clock.Clock
	Log     *log.Entry

	// Interval is the alarm cadence; alarms land on multiples of it.
	Interval time.Duration
	// MaxRuntime is the age after which an in-flight marker is considered stale.
	MaxRuntime time.Duration
}

func (d *Deps) setDefaults() {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Log == nil {
		d.Log = log.NewEntry(log.StandardLogger())
	}
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	if d.MaxRuntime <= 0 {
		d.MaxRuntime = DefaultMaxRuntime
	}
}

type Status struct {
	OK           bool       `json:"ok"`
	BotID        string     `json:"botId"`
	Enabled      bool       `json:"enabled"`
	AlarmAt      *time.Time `json:"alarmAt"`
	TickInFlight bool       `json:"tickInFlight"`
}

// flight marks a tick in progress. gen identifies the admitting request so a
// run whose marker was overridden can tell it has been superseded.
type flight struct {
	gen       uint64
	startedAt time.Time
}

type Actor struct {
	botID string
	deps  *Deps
	root  context.Context
	log   *log.Entry

	mu       sync.Mutex
	inFlight *flight
	gen      uint64

	alarmMu  sync.Mutex
	timer    *clock.Timer
	timerAt  time.Time
	timerSeq uint64

	wg sync.WaitGroup
}

func newActor(root context.Context, botID string, deps *Deps) *Actor {
	return &Actor{
		botID: botID,
		deps:  deps,
		root:  root,
		log:   deps.Log.WithField("bot_id", botID),
	}
}

func (a *Actor) BotID() string { return a.botID }

func (a *Actor) Status(ctx context.Context) (*Status, error) {
	cfg, err := a.deps.Configs.Get(ctx, a.botID)
	if err != nil {
		return nil, err
	}
	alarmAt, err := a.deps.Alarms.Get(ctx, a.botID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	inFlight := a.inFlight != nil
	a.mu.Unlock()
	return &Status{
		OK:           true,
		BotID:        a.botID,
		Enabled:      cfg.Enabled,
		AlarmAt:      alarmAt,
		TickInFlight: inFlight,
	}, nil
}

func (a *Actor) Config(ctx context.Context) (loopconfig.LoopConfig, error) {
	return a.deps.Configs.Get(ctx, a.botID)
}

// PatchConfig merge-updates the loop configuration. An enabled result arms the
// alarm and, with RunNow, enqueues a manual tick; a disabled one disarms.
func (a *Actor) PatchConfig(ctx context.Context, patch loopconfig.Patch) (loopconfig.LoopConfig, error) {
	cfg, err := a.deps.Configs.Update(ctx, a.botID, patch, a.deps.Clock.Now())
	if err != nil {
		return cfg, err
	}
	if !cfg.Enabled {
		return cfg, a.disarm(ctx)
	}
	if err := a.ensureAlarm(ctx); err != nil {
		return cfg, err
	}
	if patch.RunNow {
		a.enqueueTick(ReasonManual)
	}
	return cfg, nil
}

// Start force-enables the loop. A bot still on the no-op strategy gets the
// default agent strategy, and an empty allowlist becomes [SOL, USDC].
func (a *Actor) Start(ctx context.Context) (loopconfig.LoopConfig, error) {
	current, err := a.deps.Configs.Get(ctx, a.botID)
	if err != nil {
		return current, err
	}
	enabled := true
	patch := loopconfig.Patch{Enabled: &enabled}
	if current.Strategy.IsNoop() {
		patch.Strategy = strategy.DefaultAgent()
	}
	if current.Policy == nil || len(current.Policy.AllowedMints) == 0 {
		patch.Policy = &policy.Policy{AllowedMints: []string{jupiter.SolMint, jupiter.USDCMint}}
	}
	cfg, err := a.deps.Configs.Update(ctx, a.botID, patch, a.deps.Clock.Now())
	if err != nil {
		return cfg, err
	}
	if err := a.ensureAlarm(ctx); err != nil {
		return cfg, err
	}
	a.enqueueTick(ReasonManual)
	return cfg, nil
}

func (a *Actor) Stop(ctx context.Context) (loopconfig.LoopConfig, error) {
	disabled := false
	cfg, err := a.deps.Configs.Update(ctx, a.botID, loopconfig.Patch{Enabled: &disabled}, a.deps.Clock.Now())
	if err != nil {
		return cfg, err
	}
	return cfg, a.disarm(ctx)
}

// Tick enqueues a manual run. It reports whether the run was admitted.
func (a *Actor) Tick() bool {
	return a.enqueueTick(ReasonManual)
}

// Ensure arms the alarm when both the bot and its loop are enabled and
// disarms it otherwise.
func (a *Actor) Ensure(ctx context.Context) error {
	meta, err := a.deps.Bots.Meta(ctx, a.botID)
	if err != nil {
		return err
	}
	cfg, err := a.deps.Configs.Get(ctx, a.botID)
	if err != nil {
		return err
	}
	if meta != nil && meta.Enabled && cfg.Enabled {
		return a.ensureAlarm(ctx)
	}
	return a.disarm(ctx)
}

// Wait blocks until every tick started by this actor has returned.
func (a *Actor) Wait() {
	a.wg.Wait()
}

func (a *Actor) enqueueTick(reason string) bool {
	now := a.deps.Clock.Now()

	a.mu.Lock()
	if a.inFlight != nil {
		age := now.Sub(a.inFlight.startedAt)
		if age < a.deps.MaxRuntime {
			a.mu.Unlock()
			a.log.WithField("reason", reason).Debug("tick already in flight, dropping request")
			return false
		}
		metrics.StaleLockOverrides.Inc()
		a.log.WithFields(log.Fields{"age": age.String(), "gen": a.inFlight.gen}).Warn("overriding stale tick marker")
	}
	a.gen++
	f := &flight{gen: a.gen, startedAt: now}
	a.inFlight = f
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			if a.inFlight == f {
				a.inFlight = nil
			}
			a.mu.Unlock()
		}()
		a.runTick(a.root, f, reason)
	}()
	return true
}

// current reports whether f is still the newest admitted tick.
func (a *Actor) current(f *flight) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == f.gen
}

func (a *Actor) runTick(ctx context.Context, f *flight, reason string) {
	entry := a.log.WithFields(log.Fields{"reason": reason, "gen": f.gen})
	rearm := true
	defer func() {
		if p := recover(); p != nil {
			entry.WithField("panic", p).Error("tick crashed")
		}
		if rearm {
			a.rearm(ctx, entry)
		}
	}()

	meta, err := a.deps.Bots.Meta(ctx, a.botID)
	if err != nil {
		entry.WithError(err).Error("load bot metadata")
		return
	}
	if meta == nil || !meta.Enabled {
		rearm = false
		utils.Try("disarm alarm", func() error { return a.disarm(ctx) }).Log(entry)
		return
	}
	cfg, err := a.deps.Configs.Get(ctx, a.botID)
	if err != nil {
		entry.WithError(err).Error("load loop config")
		return
	}
	if !cfg.Enabled {
		rearm = false
		utils.Try("disarm alarm", func() error { return a.disarm(ctx) }).Log(entry)
		return
	}

	out := a.deps.Runner.RunTick(ctx, TickRequest{
		BotID:     a.botID,
		Wallet:    meta.WalletAddress,
		SignerRef: meta.SignerRef,
		Reason:    reason,
	})
	finished := a.deps.Clock.Now()
	entry = entry.WithField("run_id", out.RunID)

	superseded := !a.current(f)
	if superseded {
		entry.Warn("tick was superseded by a newer run, discarding its result")
	} else {
		utils.Try("record tick result", func() error {
			return a.deps.Bots.RecordTickResult(ctx, a.botID, out.OK, out.Error, finished)
		}).Log(entry)
	}
	if out.OK {
		entry.Info("tick ok")
	} else {
		entry.WithField("error", out.Error).Error("tick failed")
	}

	metrics.TicksTotal.WithLabelValues(reason, metrics.Result(out.OK)).Inc()
	metrics.TickDuration.Observe(finished.Sub(f.startedAt).Seconds())

	ev := events.TickEvent{
		BotID:      a.botID,
		RunID:      out.RunID,
		Reason:     reason,
		OK:         out.OK,
		Error:      out.Error,
		StartedAt:  f.startedAt,
		FinishedAt: finished,
		Superseded: superseded,
	}
	if out.Result != nil {
		ev.Steps = out.Result.Steps
		ev.TradeExecuted = out.Result.TradeExecuted
		ev.TradeStatus = out.Result.TradeStatus
		ev.Signature = out.Result.Signature
	}
	utils.Try("publish tick event", func() error { return a.deps.Events.Publish(ctx, ev) }).Log(entry)
}

// rearm re-reads config and metadata after a run. A failed re-read still
// arms the alarm so a transient store error cannot stop the bot's cadence.
func (a *Actor) rearm(ctx context.Context, entry *log.Entry) {
	cfg, cfgErr := a.deps.Configs.Get(ctx, a.botID)
	if cfgErr == nil && !cfg.Enabled {
		utils.Try("disarm alarm", func() error { return a.disarm(ctx) }).Log(entry)
		return
	}
	meta, metaErr := a.deps.Bots.Meta(ctx, a.botID)
	if metaErr == nil && (meta == nil || !meta.Enabled) {
		utils.Try("disarm alarm", func() error { return a.disarm(ctx) }).Log(entry)
		return
	}
	if cfgErr != nil || metaErr != nil {
		entry.Warn("could not re-check enabled state, re-arming anyway")
	}
	utils.Try("re-arm alarm", func() error { return a.ensureAlarm(ctx) }).Log(entry)
}

// ensureAlarm keeps a future alarm as is. Otherwise it arms one on the next
// interval boundary.
func (a *Actor) ensureAlarm(ctx context.Context) error {
	a.alarmMu.Lock()
	defer a.alarmMu.Unlock()

	now := a.deps.Clock.Now()
	current, err := a.deps.Alarms.Get(ctx, a.botID)
	if err != nil {
		return err
	}
	if current != nil && current.After(now) {
		if a.timer == nil {
			a.scheduleLocked(*current, now)
		}
		return nil
	}

	next := now.UTC().Truncate(a.deps.Interval).Add(a.deps.Interval)
	if err := a.deps.Alarms.Set(ctx, a.botID, next); err != nil {
		return err
	}
	a.scheduleLocked(next, now)
	return nil
}

func (a *Actor) disarm(ctx context.Context) error {
	a.alarmMu.Lock()
	defer a.alarmMu.Unlock()
	a.stopTimerLocked()
	return a.deps.Alarms.Delete(ctx, a.botID)
}

// restore arms the in-process timer for an alarm persisted by a previous
// process. An overdue alarm fires immediately.
func (a *Actor) restore(at time.Time) {
	a.alarmMu.Lock()
	defer a.alarmMu.Unlock()
	if a.timer == nil {
		a.scheduleLocked(at, a.deps.Clock.Now())
	}
}

func (a *Actor) scheduleLocked(at, now time.Time) {
	a.stopTimerLocked()
	seq := a.timerSeq
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	a.timer = a.deps.Clock.AfterFunc(d, func() { a.fire(seq) })
	a.timerAt = at.UTC()
}

func (a *Actor) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerAt = time.Time{}
	a.timerSeq++
}

// armedAt is the deadline of the in-process timer, if one is armed.
func (a *Actor) armedAt() (time.Time, bool) {
	a.alarmMu.Lock()
	defer a.alarmMu.Unlock()
	return a.timerAt, a.timer != nil
}

// fire is the alarm handler. The alarm is consumed before the tick is
// enqueued; the tick re-arms on its way out.
func (a *Actor) fire(seq uint64) {
	a.alarmMu.Lock()
	if seq != a.timerSeq {
		a.alarmMu.Unlock()
		return
	}
	a.timer = nil
	a.timerAt = time.Time{}
	a.timerSeq++
	utils.Try("clear fired alarm", func() error { return a.deps.Alarms.Delete(a.root, a.botID) }).Log(a.log)
	a.alarmMu.Unlock()

	a.enqueueTick(ReasonCron)
}

// shutdown stops the in-process timer without touching the persisted alarm.
func (a *Actor) shutdown() {
	a.alarmMu.Lock()
	a.stopTimerLocked()
	a.alarmMu.Unlock()
}
