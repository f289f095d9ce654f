package signer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/types"

	"ralph/pkg/solana"
)

// KeystoreSigner signs locally with keypairs from an encrypted keystore.
// Wallet refs are the wallet addresses themselves.
type KeystoreSigner struct {
	keys *solana.Keystore
}

func NewKeystoreSigner(keys *solana.Keystore) *KeystoreSigner {
	return &KeystoreSigner{keys: keys}
}

func (s *KeystoreSigner) SignTransaction(_ context.Context, ref, txBase64 string) (string, error) {
	account, err := s.keys.Load(ref)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return "", fmt.Errorf("deserialize transaction: %w", err)
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize message: %w", err)
	}

	idx := -1
	for i := 0; i < int(tx.Message.Header.NumRequireSignatures) && i < len(tx.Message.Accounts); i++ {
		if tx.Message.Accounts[i] == account.PublicKey {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", errors.New("keystore-signer-not-required")
	}
	for len(tx.Signatures) <= idx {
		tx.Signatures = append(tx.Signatures, make(types.Signature, 64))
	}
	tx.Signatures[idx] = account.Sign(msg)

	out, err := tx.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *KeystoreSigner) WalletAddress(_ context.Context, ref string) (string, error) {
	account, err := s.keys.Load(ref)
	if err != nil {
		return "", err
	}
	return account.PublicKey.ToBase58(), nil
}

func (s *KeystoreSigner) CreateWallet(context.Context) (string, string, error) {
	address, err := s.keys.Create()
	if err != nil {
		return "", "", err
	}
	return address, address, nil
}
