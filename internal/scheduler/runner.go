package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ralph/internal/agent"
	"ralph/internal/loopconfig"
	"ralph/internal/runlog"
	"ralph/internal/strategy"
)

// TickRequest is what the actor knows when it starts a tick.
type TickRequest struct {
	BotID     string
	Wallet    string
	SignerRef string
	Reason    string
}

type TickOutcome struct {
	RunID  string
	OK     bool
	Error  string
	Result *agent.Result
}

// TickRunner executes one tick. It never returns an error; failures are
// reported in the outcome.
type TickRunner interface {
	RunTick(ctx context.Context, req TickRequest) TickOutcome
}

type configGetter interface {
	Get(ctx context.Context, botID string) (loopconfig.LoopConfig, error)
}

// AgentTickRunner loads the bot's configuration and runs the agent loop when
// the configured strategy is an agent. Every tick gets its own run id and a
// logger mirrored into the run log blob.
type AgentTickRunner struct {
	Agent   *agent.Runner
	Configs configGetter
	Blobs   runlog.BlobStore
	Logger  *log.Logger
	Now     func() time.Time
}

func (r *AgentTickRunner) RunTick(ctx context.Context, req TickRequest) (out TickOutcome) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	base := r.Logger
	if base == nil {
		base = log.StandardLogger()
	}
	out.RunID = uuid.NewString()

	logger, logKey := runlog.NewLogger(base, r.Blobs, req.BotID, now())
	entry := logger.WithFields(log.Fields{"bot_id": req.BotID, "run_id": out.RunID})

	defer func() {
		if p := recover(); p != nil {
			entry.WithField("panic", p).Error("tick panicked")
			out.OK, out.Error = false, fmt.Sprintf("tick-panic: %v", p)
		}
	}()

	cfg, err := r.Configs.Get(ctx, req.BotID)
	if err != nil {
		entry.WithError(err).Error("load loop config")
		out.Error = err.Error()
		return out
	}
	if !cfg.Strategy.IsAgent() {
		typ := strategy.TypeNoop
		if cfg.Strategy != nil && cfg.Strategy.Type != "" {
			typ = cfg.Strategy.Type
		}
		entry.WithField("strategy", typ).Info("strategy has no tick loop, skipping")
		out.OK = true
		return out
	}

	res, err := r.Agent.Run(ctx, agent.Tick{
		BotID:     req.BotID,
		RunID:     out.RunID,
		Wallet:    req.Wallet,
		SignerRef: req.SignerRef,
		Reason:    req.Reason,
		LogKey:    logKey,
		Policy:    cfg.NormalizedPolicy(),
		Strategy:  cfg.Strategy,
		Log:       entry,
	})
	out.Result = res
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.OK = true
	return out
}
