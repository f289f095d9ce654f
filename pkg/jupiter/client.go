package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://lite-api.jup.ag"

	SolMint  = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	SwapModeExactIn  = "ExactIn"
	SwapModeExactOut = "ExactOut"
)

// ErrStaleQuote is returned by BuildSwap when the aggregator rejects the quote
// as no longer executable (HTTP 422).
var ErrStaleQuote = errors.New("jupiter-stale-quote")

// QuoteResponse represents the response structure from the quote endpoint.
// The raw payload is retained so the swap request echoes it byte for byte.
type QuoteResponse struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RoutePlan `json:"routePlan"`
	ContextSlot          int64       `json:"contextSlot"`
	TimeTaken            float64     `json:"timeTaken"`

	raw json.RawMessage
}

// RoutePlan represents a route plan in the quote response
type RoutePlan struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
	Bps      int      `json:"bps"`
}

// SwapInfo represents swap information in a route plan
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

type quoteAlias QuoteResponse

func (q *QuoteResponse) UnmarshalJSON(data []byte) error {
	var a quoteAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*q = QuoteResponse(a)
	q.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the payload as received, or a fresh encoding for quotes built in code.
func (q *QuoteResponse) Raw() json.RawMessage {
	if len(q.raw) > 0 {
		return q.raw
	}
	data, _ := json.Marshal(quoteAlias(*q))
	return data
}

// RouteLabels returns up to max non-empty AMM labels in route order.
func (q *QuoteResponse) RouteLabels(max int) []string {
	var labels []string
	for _, hop := range q.RoutePlan {
		label := strings.TrimSpace(hop.SwapInfo.Label)
		if label != "" {
			labels = append(labels, label)
		}
		if len(labels) >= max {
			break
		}
	}
	return labels
}

type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      string
	SlippageBps int
	SwapMode    string
}

type SwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client talks to the aggregator's quote and swap endpoints.
type Client struct {
	http    *req.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		http:    req.C().SetTimeout(timeout),
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		h["x-api-key"] = c.apiKey
	}
	return h
}

// Quote retrieves a swap quote.
func (c *Client) Quote(ctx context.Context, r QuoteRequest) (*QuoteResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	mode := r.SwapMode
	if mode != SwapModeExactOut {
		mode = SwapModeExactIn
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers()).
		SetQueryParams(map[string]string{
			"inputMint":                  r.InputMint,
			"outputMint":                 r.OutputMint,
			"amount":                     r.Amount,
			"slippageBps":                strconv.Itoa(r.SlippageBps),
			"swapMode":                   mode,
			"restrictIntermediateTokens": "true",
		}).
		Get(c.baseURL + "/swap/v1/quote")
	if err != nil {
		return nil, fmt.Errorf("jupiter-quote-request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter-quote-failed: %d %s", resp.StatusCode, truncate(resp.String(), 200))
	}

	var quote QuoteResponse
	if err := json.Unmarshal(resp.Bytes(), &quote); err != nil {
		return nil, fmt.Errorf("jupiter-quote-invalid-response: %w", err)
	}
	if quote.InAmount == "" || quote.OutAmount == "" {
		return nil, errors.New("jupiter-quote-invalid-response: missing amounts")
	}
	return &quote, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports"`
}

// BuildSwap asks the aggregator for an unsigned, base64 encoded transaction
// executing quote for userPublicKey.
func (c *Client) BuildSwap(ctx context.Context, quote *QuoteResponse, userPublicKey string) (*SwapResponse, error) {
	if quote == nil {
		return nil, errors.New("jupiter-swap-missing-quote")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers()).
		SetBodyJsonMarshal(swapRequest{
			QuoteResponse:             quote.Raw(),
			UserPublicKey:             userPublicKey,
			WrapAndUnwrapSol:          true,
			DynamicComputeUnitLimit:   true,
			PrioritizationFeeLamports: "auto",
		}).
		Post(c.baseURL + "/swap/v1/swap")
	if err != nil {
		return nil, fmt.Errorf("jupiter-swap-request: %w", err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s", ErrStaleQuote, truncate(resp.String(), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter-swap-failed: %d %s", resp.StatusCode, truncate(resp.String(), 200))
	}

	var swap SwapResponse
	if err := json.Unmarshal(resp.Bytes(), &swap); err != nil {
		return nil, fmt.Errorf("jupiter-swap-invalid-response: %w", err)
	}
	if swap.SwapTransaction == "" {
		return nil, errors.New("jupiter-swap-missing-transaction")
	}
	return &swap, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
