package devnet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// LocalWallet holds an ed25519 key and submits straight to a Ledger.
type LocalWallet struct {
	ledger     *Ledger
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    types.Address
}

var _ ledger.Wallet = (*LocalWallet)(nil)

// NewLocalWallet creates a wallet for privateKey on l.
func NewLocalWallet(l *Ledger, privateKey ed25519.PrivateKey) (*LocalWallet, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	return &LocalWallet{
		ledger:     l,
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    types.AddressFromPublicKey(publicKey),
	}, nil
}

// GenerateWallet creates a wallet with a fresh key.
func GenerateWallet(l *Ledger) (*LocalWallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewLocalWallet(l, priv)
}

func (w *LocalWallet) Address() types.Address {
	return w.address
}

// PublicKey returns the Ed25519 public key
func (w *LocalWallet) PublicKey() ed25519.PublicKey {
	return w.publicKey
}

func (w *LocalWallet) SignPersonalMessage(ctx context.Context, msg []byte) (*ledger.PersonalSignature, error) {
	return ledger.SignPersonalMessage(w.privateKey, msg), nil
}

func (w *LocalWallet) SignAndSubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.SubmitResult, error) {
	return w.ledger.Execute(ctx, w.address, tx)
}
