package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"ralph/internal/models"
)

const (
	DefaultSweepSpec = "0 * * * * *"
	sweepBatch       = 1000
	sweepTimeout     = 30 * time.Second
)

type EnabledBots interface {
	ListEnabled(ctx context.Context, limit int) ([]models.Bot, error)
}

// Sweeper periodically calls Ensure on every enabled bot so that a bot whose
// alarm was lost still gets one.
type Sweeper struct {
	reg  *Registry
	bots EnabledBots
	cron *cron.Cron
	log  *log.Entry
}

func NewSweeper(reg *Registry, bots EnabledBots, spec string) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	s := &Sweeper{
		reg:  reg,
		bots: bots,
		cron: cron.New(cron.WithSeconds()),
		log:  reg.deps.Log.WithField("component", "sweeper"),
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(reg.root, sweepTimeout)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("sweeper started")
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep ensures alarms for all enabled bots and returns how many were
// processed without error.
func (s *Sweeper) Sweep(ctx context.Context) int {
	bots, err := s.bots.ListEnabled(ctx, sweepBatch)
	if err != nil {
		s.log.WithError(err).Error("list enabled bots")
		return 0
	}
	ok := 0
	for _, bot := range bots {
		if err := s.reg.Actor(bot.ID).Ensure(ctx); err != nil {
			s.log.WithError(err).WithField("bot_id", bot.ID).Warn("ensure alarm")
			continue
		}
		ok++
	}
	s.log.WithFields(log.Fields{"bots": len(bots), "ensured": ok}).Debug("sweep done")
	return ok
}
