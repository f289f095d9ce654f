// Package signer produces signatures for bot wallets, either through the
// remote Privy wallet API or a local encrypted keystore.
package signer

import (
	"context"
)

const (
	BackendPrivy    = "privy"
	BackendKeystore = "keystore"
)

// Signer signs base64 encoded transactions for the wallet identified by ref.
type Signer interface {
	SignTransaction(ctx context.Context, ref, txBase64 string) (string, error)
	WalletAddress(ctx context.Context, ref string) (string, error)
	// CreateWallet provisions a new wallet and returns its ref and address.
	CreateWallet(ctx context.Context) (ref string, address string, err error)
}
