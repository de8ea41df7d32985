// Package wallet is a key-file signing capability. A wallet address is the
// hex encoded ed25519 public key, prefixed with 0x; signatures are base64.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrInvalidKeyFile   = errors.New("invalid key file")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Wallet signs messages with an ed25519 private key.
type Wallet struct {
	key     ed25519.PrivateKey
	address string
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return FromKey(priv), nil
}

func FromKey(key ed25519.PrivateKey) *Wallet {
	return &Wallet{
		key:     key,
		address: AddressOf(key.Public().(ed25519.PublicKey)),
	}
}

// Load reads a key file holding the hex encoded 32 byte seed.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyFile, path)
	}
	return FromKey(ed25519.NewKeyFromSeed(seed)), nil
}

// Save writes the wallet's seed to path, readable by the owner only. An
// existing file is never overwritten.
func (w *Wallet) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(hex.EncodeToString(w.key.Seed()) + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Wallet) Address(ctx context.Context) (string, error) {
	return w.address, nil
}

func (w *Wallet) SignMessage(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(w.key, []byte(message))), nil
}

// AddressOf returns the wallet address for a public key.
func AddressOf(pub ed25519.PublicKey) string {
	return "0x" + hex.EncodeToString(pub)
}

// PublicKeyOf parses a wallet address back into its public key.
func PublicKeyOf(address string) (ed25519.PublicKey, error) {
	raw, ok := strings.CutPrefix(strings.ToLower(address), "0x")
	if !ok {
		return nil, ErrInvalidAddress
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidAddress
	}
	return ed25519.PublicKey(b), nil
}

// Verify checks a base64 signature of message made by address.
func Verify(address, message, signature string) error {
	pub, err := PublicKeyOf(address)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}
