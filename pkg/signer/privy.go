package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPrivyBaseURL = "https://api.privy.io/v1"

	privyTimeout    = 10 * time.Second
	privyRetryDelay = 500 * time.Millisecond
)

var ErrPrivyConfigMissing = errors.New("privy-config-missing")

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
}

type PrivyConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

// PrivySigner signs through Privy server wallets. Wallet refs are Privy
// wallet ids.
type PrivySigner struct {
	http       *req.Client
	baseURL    string
	appID      string
	appSecret  string
	cache      *AddressCache
	retryDelay time.Duration
}

func NewPrivySigner(cfg PrivyConfig, cache *AddressCache) *PrivySigner {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultPrivyBaseURL
	}
	if cache == nil {
		cache = NewAddressCache(0, 0)
	}
	return &PrivySigner{
		http:       req.C().SetTimeout(privyTimeout),
		baseURL:    baseURL,
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		cache:      cache,
		retryDelay: privyRetryDelay,
	}
}

type privyWallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type signResponse struct {
	Data *struct {
		SignedTransaction string `json:"signed_transaction"`
	} `json:"data"`
}

func (s *PrivySigner) request(ctx context.Context) (*req.Request, error) {
	if s.appID == "" || s.appSecret == "" {
		return nil, ErrPrivyConfigMissing
	}
	return s.http.R().
		SetContext(ctx).
		SetBasicAuth(s.appID, s.appSecret).
		SetHeader("privy-app-id", s.appID), nil
}

func (s *PrivySigner) SignTransaction(ctx context.Context, ref, txBase64 string) (string, error) {
	url := fmt.Sprintf("%s/wallets/%s/rpc", s.baseURL, ref)
	body := map[string]interface{}{
		"method": "signTransaction",
		"params": map[string]string{
			"encoding":    "base64",
			"transaction": txBase64,
		},
	}

	var resp *req.Response
	for attempt := 0; attempt < 2; attempt++ {
		r, err := s.request(ctx)
		if err != nil {
			return "", err
		}
		resp, err = r.SetBodyJsonMarshal(body).Post(url)
		if err != nil {
			return "", s.wrapErr(err, url)
		}
		if attempt == 0 && retryableStatus[resp.StatusCode] {
			log.Warnf("privy sign returned %d, retrying once", resp.StatusCode)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.retryDelay):
			}
			continue
		}
		break
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("privy-sign-failed: %d %s", resp.StatusCode, resp.String())
	}
	var parsed signResponse
	if err := json.Unmarshal(resp.Bytes(), &parsed); err != nil {
		return "", errors.New("privy-sign-invalid-response")
	}
	if parsed.Data == nil || parsed.Data.SignedTransaction == "" {
		return "", errors.New("privy-sign-missing-signed-transaction")
	}
	return parsed.Data.SignedTransaction, nil
}

// WalletAddress resolves a wallet id to its address, served from the cache
// when possible.
func (s *PrivySigner) WalletAddress(ctx context.Context, ref string) (string, error) {
	if addr, ok := s.cache.Get(ref); ok {
		return addr, nil
	}
	r, err := s.request(ctx)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/wallets/%s", s.baseURL, ref)
	resp, err := r.Get(url)
	if err != nil {
		return "", s.wrapErr(err, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("privy-wallet-fetch-failed: %d %s", resp.StatusCode, resp.String())
	}
	var wallet privyWallet
	if err := json.Unmarshal(resp.Bytes(), &wallet); err != nil {
		return "", errors.New("privy-wallet-invalid-response")
	}
	if strings.TrimSpace(wallet.Address) == "" {
		return "", errors.New("privy-wallet-missing-address")
	}
	s.cache.Put(ref, wallet.Address)
	return wallet.Address, nil
}

func (s *PrivySigner) CreateWallet(ctx context.Context) (string, string, error) {
	r, err := s.request(ctx)
	if err != nil {
		return "", "", err
	}
	url := s.baseURL + "/wallets"
	resp, err := r.SetBodyJsonMarshal(map[string]string{"chain_type": "solana"}).Post(url)
	if err != nil {
		return "", "", s.wrapErr(err, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("privy-wallet-create-failed: %d %s", resp.StatusCode, resp.String())
	}
	var wallet privyWallet
	if err := json.Unmarshal(resp.Bytes(), &wallet); err != nil {
		return "", "", errors.New("privy-wallet-create-invalid-response")
	}
	if strings.TrimSpace(wallet.ID) == "" {
		return "", "", errors.New("privy-wallet-create-missing-id")
	}
	if strings.TrimSpace(wallet.Address) == "" {
		return "", "", errors.New("privy-wallet-create-missing-address")
	}
	s.cache.Put(wallet.ID, wallet.Address)
	return wallet.ID, wallet.Address, nil
}

func (s *PrivySigner) wrapErr(err error, url string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("privy-timeout: %dms exceeded for %s", privyTimeout.Milliseconds(), url)
	}
	return fmt.Errorf("privy-request-failed: %w", err)
}
