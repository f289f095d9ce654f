package signer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ralph/pkg/solana"
)

func TestAddressCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewAddressCache(2, time.Minute)

	c.Put("a", "addr-a")
	c.Put("b", "addr-b")
	_, ok := c.Get("a")
	require.True(t, ok)

	// b is least recently used now
	c.Put("c", "addr-c")
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
	addr, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "addr-c", addr)
}

func TestAddressCacheExpires(t *testing.T) {
	c := NewAddressCache(10, 50*time.Millisecond)
	c.Put("a", "addr-a")
	_, ok := c.Get("a")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestPrivySignTransactionRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/w1/rpc", r.URL.Path)
		assert.Equal(t, "app", r.Header.Get("privy-app-id"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "app", user)
		assert.Equal(t, "secret", pass)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "signTransaction", body["method"])

		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"signed_transaction":"c2lnbmVk"}}`))
	}))
	defer srv.Close()

	s := NewPrivySigner(PrivyConfig{AppID: "app", AppSecret: "secret", BaseURL: srv.URL}, nil)
	s.retryDelay = time.Millisecond

	signed, err := s.SignTransaction(context.Background(), "w1", "dW5zaWduZWQ=")
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVk", signed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPrivySignTransactionFailures(t *testing.T) {
	t.Run("config missing", func(t *testing.T) {
		s := NewPrivySigner(PrivyConfig{}, nil)
		_, err := s.SignTransaction(context.Background(), "w1", "tx")
		assert.ErrorIs(t, err, ErrPrivyConfigMissing)
	})

	t.Run("non retryable status", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("bad tx"))
		}))
		defer srv.Close()

		s := NewPrivySigner(PrivyConfig{AppID: "app", AppSecret: "secret", BaseURL: srv.URL}, nil)
		_, err := s.SignTransaction(context.Background(), "w1", "tx")
		require.Error(t, err)
		assert.Equal(t, "privy-sign-failed: 400 bad tx", err.Error())
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("missing signed transaction", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{}}`))
		}))
		defer srv.Close()

		s := NewPrivySigner(PrivyConfig{AppID: "app", AppSecret: "secret", BaseURL: srv.URL}, nil)
		_, err := s.SignTransaction(context.Background(), "w1", "tx")
		require.Error(t, err)
		assert.Equal(t, "privy-sign-missing-signed-transaction", err.Error())
	})
}

func TestPrivyWalletAddressIsCached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/wallets/w1", r.URL.Path)
		w.Write([]byte(`{"id":"w1","address":"Addr111"}`))
	}))
	defer srv.Close()

	s := NewPrivySigner(PrivyConfig{AppID: "app", AppSecret: "secret", BaseURL: srv.URL}, NewAddressCache(10, time.Minute))
	for i := 0; i < 3; i++ {
		addr, err := s.WalletAddress(context.Background(), "w1")
		require.NoError(t, err)
		assert.Equal(t, "Addr111", addr)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestKeystoreSigner(t *testing.T) {
	keys := solana.NewKeystore(t.TempDir(), "pw")
	s := NewKeystoreSigner(keys)

	ref, address, err := s.CreateWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ref, address)

	account, err := keys.Load(address)
	require.NoError(t, err)
	other := types.NewAccount()

	msg := types.NewMessage(types.NewMessageParam{
		FeePayer:        account.PublicKey,
		RecentBlockhash: "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		Instructions: []types.Instruction{{
			ProgramID: common.SystemProgramID,
			Accounts: []types.AccountMeta{
				{PubKey: account.PublicKey, IsSigner: true, IsWritable: true},
				{PubKey: other.PublicKey, IsSigner: false, IsWritable: true},
			},
			Data: []byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
		}},
	})
	unsigned := types.Transaction{
		Signatures: []types.Signature{make(types.Signature, 64)},
		Message:    msg,
	}
	raw, err := unsigned.Serialize()
	require.NoError(t, err)

	signed, err := s.SignTransaction(context.Background(), address, base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)

	out, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)
	tx, err := types.TransactionDeserialize(out)
	require.NoError(t, err)

	data, err := tx.Message.Serialize()
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, []byte(account.Sign(data)), []byte(tx.Signatures[0]))

	addr, err := s.WalletAddress(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, address, addr)
}
