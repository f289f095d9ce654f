package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = time.Second
)

// SimulateOpts controls SimulateTransaction.
type SimulateOpts struct {
	SigVerify  bool
	Commitment string
}

// SimulateResult is the outcome of a simulation. Err is the chain's error
// value and is nil when the simulation succeeded.
type SimulateResult struct {
	Err           interface{} `json:"err"`
	UnitsConsumed *uint64     `json:"unitsConsumed,omitempty"`
	Logs          []string    `json:"logs,omitempty"`
}

type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment string
}

// ConfirmResult reports how a submitted signature ended up.
type ConfirmResult struct {
	OK     bool        `json:"ok"`
	Status string      `json:"status,omitempty"`
	Err    interface{} `json:"err,omitempty"`
}

// Client wraps the solana-go RPC client with the calls the trading loop uses.
type Client struct {
	rpc            *rpc.Client
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func NewClient(endpoint string) *Client {
	return &Client{
		rpc:            rpc.New(endpoint),
		ConfirmTimeout: DefaultConfirmTimeout,
		PollInterval:   DefaultPollInterval,
	}
}

// CommitmentType maps a policy commitment string onto the rpc type.
func CommitmentType(c string) rpc.CommitmentType {
	switch c {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// GetBalance returns the owner's SOL balance in lamports.
func (c *Client) GetBalance(ctx context.Context, owner string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("invalid owner %q: %w", owner, err)
	}
	resp, err := c.rpc.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("rpc getBalance: %w", err)
	}
	return resp.Value, nil
}

// GetTokenBalance sums the balances of every token account the owner holds
// for mint. An owner without token accounts has a zero balance.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	ownerPk, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("invalid owner %q: %w", owner, err)
	}
	mintPk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}

	resp, err := c.rpc.GetTokenAccountsByOwner(ctx, ownerPk, &rpc.GetTokenAccountsConfig{
		Mint: &mintPk,
	}, &rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64})
	if err != nil {
		return 0, fmt.Errorf("rpc getTokenAccountsByOwner: %w", err)
	}

	total := uint64(0)
	for _, acc := range resp.Value {
		bal, err := c.rpc.GetTokenAccountBalance(ctx, acc.Pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, fmt.Errorf("rpc getTokenAccountBalance %s: %w", acc.Pubkey, err)
		}
		if bal == nil || bal.Value == nil {
			continue
		}
		amt, err := strconv.ParseUint(bal.Value.Amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse token amount %q: %w", bal.Value.Amount, err)
		}
		total += amt
	}
	return total, nil
}

// SimulateTransaction simulates a base64 encoded signed transaction.
func (c *Client) SimulateTransaction(ctx context.Context, b64 string, opts SimulateOpts) (*SimulateResult, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	resp, err := c.rpc.SimulateRawTransactionWithOpts(ctx, raw, &rpc.SimulateTransactionOpts{
		SigVerify:  opts.SigVerify,
		Commitment: CommitmentType(opts.Commitment),
	})
	if err != nil {
		return nil, fmt.Errorf("rpc simulateTransaction: %w", err)
	}
	out := &SimulateResult{}
	if resp != nil && resp.Value != nil {
		out.Err = resp.Value.Err
		out.UnitsConsumed = resp.Value.UnitsConsumed
		out.Logs = resp.Value.Logs
	}
	return out, nil
}

// SendTransaction broadcasts a base64 encoded signed transaction and returns
// its signature.
func (c *Client) SendTransaction(ctx context.Context, b64 string, opts SendOpts) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: CommitmentType(opts.PreflightCommitment),
	})
	if err != nil {
		return "", fmt.Errorf("rpc sendTransaction: %w", err)
	}
	return sig.String(), nil
}

// ConfirmSignature polls the signature status until it reaches commitment,
// fails on chain, or ConfirmTimeout passes.
func (c *Client) ConfirmSignature(ctx context.Context, signature, commitment string) (*ConfirmResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	timeout := c.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	want := commitmentRank(commitment)
	if want == 0 {
		want = commitmentRank("confirmed")
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		resp, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			lastErr = err
			log.Debugf("signature status %s: %v", signature, err)
		} else if len(resp.Value) > 0 && resp.Value[0] != nil {
			st := resp.Value[0]
			if st.Err != nil {
				return &ConfirmResult{OK: false, Status: "error", Err: st.Err}, nil
			}
			status := string(st.ConfirmationStatus)
			if commitmentRank(status) >= want {
				return &ConfirmResult{OK: true, Status: status}, nil
			}
		}

		select {
		case <-ctx.Done():
			msg := "confirmation-timeout"
			if lastErr != nil {
				msg = fmt.Sprintf("confirmation-timeout: %v", lastErr)
			}
			return &ConfirmResult{OK: false, Err: msg}, nil
		case <-ticker.C:
		}
	}
}

func commitmentRank(c string) int {
	switch c {
	case "processed":
		return 1
	case "confirmed":
		return 2
	case "finalized":
		return 3
	default:
		return 0
	}
}
