// Package agent runs one bounded tool-calling conversation per tick: the model
// researches through tools, maintains its memory and may execute one swap.
package agent

import (
	"context"
	"time"

	"ralph/internal/loopconfig"
	"ralph/internal/models"
	"ralph/pkg/jupiter"
	"ralph/pkg/llm"
	"ralph/pkg/solana"
)

// RPC is the chain access a tick needs.
type RPC interface {
	GetBalance(ctx context.Context, owner string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error)
	SimulateTransaction(ctx context.Context, b64 string, opts solana.SimulateOpts) (*solana.SimulateResult, error)
	SendTransaction(ctx context.Context, b64 string, opts solana.SendOpts) (string, error)
	ConfirmSignature(ctx context.Context, signature, commitment string) (*solana.ConfirmResult, error)
}

type Aggregator interface {
	Quote(ctx context.Context, r jupiter.QuoteRequest) (*jupiter.QuoteResponse, error)
	BuildSwap(ctx context.Context, quote *jupiter.QuoteResponse, userPublicKey string) (*jupiter.SwapResponse, error)
}

type TxSigner interface {
	SignTransaction(ctx context.Context, ref, txBase64 string) (string, error)
}

type Model interface {
	Complete(ctx context.Context, r llm.Request) (*llm.Completion, error)
}

type Ledger interface {
	Insert(ctx context.Context, row *models.TradeIndex) error
	List(ctx context.Context, tenantID string, limit int) ([]models.TradeIndex, error)
}

// ConfigSource is read right before a swap is signed and sent so that a stop
// or kill switch issued mid-tick takes effect.
type ConfigSource interface {
	Get(ctx context.Context, botID string) (loopconfig.LoopConfig, error)
}

type TickStamper interface {
	StampAgentTick(ctx context.Context, botID string, now time.Time) error
}
