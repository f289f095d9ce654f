package solana

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/blocto/solana-go-sdk/types"
)

var ErrKeyNotFound = errors.New("keystore-key-not-found")

// KeystoreEntry is one encrypted keypair on disk, stored as <address>.json.
type KeystoreEntry struct {
	Address      string `json:"address"`
	EncryptedKey string `json:"encrypted_key"`
	Version      int    `json:"version"`
}

// Keystore keeps AES-256-GCM encrypted bot keypairs in a directory.
type Keystore struct {
	dir      string
	password string
}

func NewKeystore(dir, password string) *Keystore {
	return &Keystore{dir: dir, password: password}
}

// Create generates a new keypair, stores it and returns its address.
func (k *Keystore) Create() (string, error) {
	account := types.NewAccount()
	if err := k.Save(&account); err != nil {
		return "", err
	}
	return account.PublicKey.ToBase58(), nil
}

func (k *Keystore) Save(account *types.Account) error {
	encrypted, err := encrypt(account.PrivateKey, k.password)
	if err != nil {
		return fmt.Errorf("encrypt private key: %w", err)
	}
	address := account.PublicKey.ToBase58()
	data, err := json.MarshalIndent(KeystoreEntry{
		Address:      address,
		EncryptedKey: encrypted,
		Version:      1,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore entry: %w", err)
	}

	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return fmt.Errorf("create keystore directory: %w", err)
	}
	if err := os.WriteFile(k.path(address), data, 0600); err != nil {
		return fmt.Errorf("write keystore entry: %w", err)
	}
	return nil
}

// Load decrypts the keypair stored for address.
func (k *Keystore) Load(address string) (*types.Account, error) {
	data, err := os.ReadFile(k.path(address))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore entry: %w", err)
	}

	var entry KeystoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal keystore entry: %w", err)
	}
	if entry.Address != address {
		return nil, fmt.Errorf("address mismatch: expected %s, got %s", address, entry.Address)
	}

	privateKey, err := decrypt(entry.EncryptedKey, k.password)
	if err != nil {
		return nil, err
	}
	account, err := types.AccountFromBytes(privateKey)
	if err != nil {
		return nil, fmt.Errorf("account from private key: %w", err)
	}
	if account.PublicKey.ToBase58() != address {
		return nil, fmt.Errorf("keystore entry %s holds a different key", address)
	}
	return &account, nil
}

func (k *Keystore) path(address string) string {
	return filepath.Join(k.dir, filepath.Base(address)+".json")
}

func encrypt(plaintext []byte, password string) (string, error) {
	gcm, err := newGCM(password)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	// nonce || ciphertext
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

func decrypt(encoded string, password string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	gcm, err := newGCM(password)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(password string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
