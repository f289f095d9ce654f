package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"ralph/internal/loopconfig"
	"ralph/internal/memory"
	"ralph/internal/models"
	"ralph/internal/policy"
	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
	"ralph/pkg/llm"
	"ralph/pkg/solana"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeRPC struct {
	sol      uint64
	tokens   map[string]uint64
	simErr   interface{}
	sent     []string
	confirm  *solana.ConfirmResult
	simCalls int
	// onConfirm runs before the confirmation result is returned.
	onConfirm func()
}

func (f *fakeRPC) GetBalance(context.Context, string) (uint64, error) { return f.sol, nil }

func (f *fakeRPC) GetTokenBalance(_ context.Context, _ string, mint string) (uint64, error) {
	return f.tokens[mint], nil
}

func (f *fakeRPC) SimulateTransaction(context.Context, string, solana.SimulateOpts) (*solana.SimulateResult, error) {
	f.simCalls++
	return &solana.SimulateResult{Err: f.simErr}, nil
}

func (f *fakeRPC) SendTransaction(_ context.Context, b64 string, _ solana.SendOpts) (string, error) {
	f.sent = append(f.sent, b64)
	return "5igSigSigSigSigSigSig", nil
}

func (f *fakeRPC) ConfirmSignature(context.Context, string, string) (*solana.ConfirmResult, error) {
	if f.onConfirm != nil {
		f.onConfirm()
	}
	if f.confirm != nil {
		return f.confirm, nil
	}
	return &solana.ConfirmResult{OK: true, Status: "confirmed"}, nil
}

type fakeAggregator struct {
	impact   string
	quotes   []jupiter.QuoteRequest
	builds   int
	buildErr error
}

func (f *fakeAggregator) Quote(_ context.Context, r jupiter.QuoteRequest) (*jupiter.QuoteResponse, error) {
	f.quotes = append(f.quotes, r)
	out := "150000000"
	if r.InputMint != jupiter.SolMint {
		out = "6000000"
	}
	return &jupiter.QuoteResponse{
		InputMint:      r.InputMint,
		OutputMint:     r.OutputMint,
		InAmount:       r.Amount,
		OutAmount:      out,
		SwapMode:       r.SwapMode,
		SlippageBps:    r.SlippageBps,
		PriceImpactPct: f.impact,
		RoutePlan: []jupiter.RoutePlan{
			{SwapInfo: jupiter.SwapInfo{Label: "Whirlpool"}},
			{SwapInfo: jupiter.SwapInfo{Label: " "}},
			{SwapInfo: jupiter.SwapInfo{Label: "Raydium"}},
		},
	}, nil
}

func (f *fakeAggregator) BuildSwap(context.Context, *jupiter.QuoteResponse, string) (*jupiter.SwapResponse, error) {
	f.builds++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &jupiter.SwapResponse{SwapTransaction: "dW5zaWduZWQ=", LastValidBlockHeight: 100}, nil
}

type fakeSigner struct{ calls int }

func (f *fakeSigner) SignTransaction(_ context.Context, _ string, tx string) (string, error) {
	f.calls++
	return "signed:" + tx, nil
}

type fakeLedger struct {
	mu   sync.Mutex
	rows []models.TradeIndex
}

// Insert fails on a cancelled context like the gorm ledger does.
func (f *fakeLedger) Insert(ctx context.Context, row *models.TradeIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row.ID = uint(len(f.rows) + 1)
	row.CreatedAt = testNow
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeLedger) List(_ context.Context, tenantID string, limit int) ([]models.TradeIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.TradeIndex{}
	for i := len(f.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if f.rows[i].TenantID == tenantID {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

type fakeConfig struct {
	cfg loopconfig.LoopConfig
	// after disables the loop once this many reads happened.
	disableAfter int
	reads        int
}

func (f *fakeConfig) Get(context.Context, string) (loopconfig.LoopConfig, error) {
	f.reads++
	c := f.cfg
	if f.disableAfter > 0 && f.reads > f.disableAfter {
		c.Enabled = false
	}
	return c, nil
}

type fakeMemoryStore struct {
	stored *memory.Memory
	saves  int
}

func (f *fakeMemoryStore) Load(context.Context, string) (*memory.Memory, error) {
	if f.stored == nil {
		return nil, nil
	}
	b, _ := json.Marshal(f.stored)
	var m memory.Memory
	_ = json.Unmarshal(b, &m)
	return &m, nil
}

func (f *fakeMemoryStore) Save(_ context.Context, _ string, m *memory.Memory) error {
	f.saves++
	b, _ := json.Marshal(m)
	var cp memory.Memory
	_ = json.Unmarshal(b, &cp)
	f.stored = &cp
	return nil
}

type fakeStamper struct{ stamps int }

func (f *fakeStamper) StampAgentTick(context.Context, string, time.Time) error {
	f.stamps++
	return nil
}

// scriptedModel replays one completion (or error) per call.
type scriptedModel struct {
	steps    []func() (*llm.Completion, error)
	requests []llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, r llm.Request) (*llm.Completion, error) {
	m.requests = append(m.requests, r)
	i := len(m.requests) - 1
	if i >= len(m.steps) {
		return &llm.Completion{Message: llm.Message{Role: "assistant"}, FinishReason: "stop"}, nil
	}
	return m.steps[i]()
}

func calls(c ...llm.ToolCall) func() (*llm.Completion, error) {
	return func() (*llm.Completion, error) {
		return &llm.Completion{
			Message:      llm.Message{Role: "assistant", ToolCalls: c},
			ToolCalls:    c,
			FinishReason: "tool_calls",
		}, nil
	}
}

func failing(msg string) func() (*llm.Completion, error) {
	return func() (*llm.Completion, error) { return nil, errors.New(msg) }
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

type harness struct {
	rpc     *fakeRPC
	agg     *fakeAggregator
	signer  *fakeSigner
	ledger  *fakeLedger
	config  *fakeConfig
	mem     *fakeMemoryStore
	bots    *fakeStamper
	model   *scriptedModel
	logHook *test.Hook
	entry   *log.Entry
}

func newHarness() *harness {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return &harness{
		rpc:     &fakeRPC{sol: 5_000_000_000, tokens: map[string]uint64{jupiter.USDCMint: 500_000_000}},
		agg:     &fakeAggregator{impact: "0.001"},
		signer:  &fakeSigner{},
		ledger:  &fakeLedger{},
		config:  &fakeConfig{cfg: loopconfig.LoopConfig{Enabled: true}},
		mem:     &fakeMemoryStore{},
		bots:    &fakeStamper{},
		model:   &scriptedModel{},
		logHook: hook,
		entry:   log.NewEntry(logger),
	}
}

func (h *harness) runner() *Runner {
	return &Runner{
		RPC:        h.rpc,
		Aggregator: h.agg,
		Signer:     h.signer,
		Model:      h.model,
		Memory:     h.mem,
		Ledger:     h.ledger,
		Config:     h.config,
		Bots:       h.bots,
		Now:        func() time.Time { return testNow },
	}
}

func (h *harness) tick(p *policy.Policy, st *strategy.Strategy) Tick {
	if st == nil {
		st = strategy.DefaultAgent()
	}
	return Tick{
		BotID:     "bot-1",
		RunID:     "run-1",
		Wallet:    "Wallet111",
		SignerRef: "wallet-ref",
		Reason:    "manual",
		LogKey:    "logs/bot-1/2026-05-04.jsonl",
		Policy:    policy.Normalize(p),
		Strategy:  st,
		Log:       h.entry,
	}
}

// session builds a tick session with mem as the in-memory state.
func (h *harness) session(p *policy.Policy, st *strategy.Strategy, mem *memory.Memory) *session {
	if mem == nil {
		mem = memory.New(testNow)
	}
	t := h.tick(p, st)
	return &session{
		rpc:        h.rpc,
		aggregator: h.agg,
		signer:     h.signer,
		ledger:     h.ledger,
		config:     h.config,
		now:        func() time.Time { return testNow },
		tick:       t,
		log:        t.Log,
		memory:     mem,
	}
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }
