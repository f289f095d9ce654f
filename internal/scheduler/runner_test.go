package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/internal/loopconfig"
	"ralph/internal/runlog"
	"ralph/internal/strategy"
)

type stubConfigs struct {
	cfg loopconfig.LoopConfig
	err error
}

func (s stubConfigs) Get(context.Context, string) (loopconfig.LoopConfig, error) {
	return s.cfg, s.err
}

func newTestRunner(t *testing.T, cfgs configGetter) (*AgentTickRunner, *runlog.FSStore) {
	t.Helper()
	blobs, err := runlog.NewFSStore(t.TempDir())
	require.NoError(t, err)
	logger := log.New()
	logger.SetLevel(log.DebugLevel)
	return &AgentTickRunner{
		Configs: cfgs,
		Blobs:   blobs,
		Logger:  logger,
		Now:     func() time.Time { return testNow },
	}, blobs
}

func TestAgentTickRunnerSkipsNonAgentStrategies(t *testing.T) {
	for _, s := range []*strategy.Strategy{nil, {Type: strategy.TypeNoop}, {Type: strategy.TypeDCA}} {
		r, blobs := newTestRunner(t, stubConfigs{cfg: loopconfig.LoopConfig{Enabled: true, Strategy: s}})

		out := r.RunTick(context.Background(), TickRequest{BotID: "bot-1", Reason: ReasonCron})
		assert.True(t, out.OK)
		assert.Empty(t, out.Error)
		assert.NotEmpty(t, out.RunID)
		assert.Nil(t, out.Result)

		raw, err := blobs.Read(context.Background(), runlog.Key("bot-1", testNow))
		require.NoError(t, err)
		assert.Contains(t, string(raw), "strategy has no tick loop")
		assert.Contains(t, string(raw), out.RunID)
	}
}

func TestAgentTickRunnerConfigError(t *testing.T) {
	r, _ := newTestRunner(t, stubConfigs{err: errors.New("db down")})

	out := r.RunTick(context.Background(), TickRequest{BotID: "bot-1", Reason: ReasonManual})
	assert.False(t, out.OK)
	assert.Equal(t, "db down", out.Error)
}

func TestAgentTickRunnerRecoversPanics(t *testing.T) {
	// An agent strategy with no agent wired dereferences a nil runner.
	r, _ := newTestRunner(t, stubConfigs{cfg: loopconfig.LoopConfig{Enabled: true, Strategy: strategy.DefaultAgent()}})

	out := r.RunTick(context.Background(), TickRequest{BotID: "bot-1", Reason: ReasonManual})
	assert.False(t, out.OK)
	assert.Contains(t, out.Error, "tick-panic")
}
