package jsonrpc

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// Wallet signs transactions locally and submits them through a Client.
type Wallet struct {
	client     *Client
	privateKey ed25519.PrivateKey
	address    types.Address
}

var _ ledger.Wallet = (*Wallet)(nil)

// NewWallet creates a wallet for privateKey.
func NewWallet(client *Client, privateKey ed25519.PrivateKey) (*Wallet, error) {
	if client == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	return &Wallet{
		client:     client,
		privateKey: privateKey,
		address:    types.AddressFromPublicKey(privateKey.Public().(ed25519.PublicKey)),
	}, nil
}

func (w *Wallet) Address() types.Address {
	return w.address
}

func (w *Wallet) SignPersonalMessage(ctx context.Context, msg []byte) (*ledger.PersonalSignature, error) {
	return ledger.SignPersonalMessage(w.privateKey, msg), nil
}

func (w *Wallet) SignAndSubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.SubmitResult, error) {
	kind, err := tx.MarshalKind()
	if err != nil {
		return nil, err
	}
	return w.client.Execute(ctx, kind, ledger.SignTransaction(w.privateKey, kind))
}
