// Package ledger reads and writes Proof records on the ledger and resolves
// pending writes to record identifiers once the indexer catches up.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/relves/proofvault/pkg/types"
)

// ErrTransactionNotIndexed is returned by readers while a submitted
// transaction is not yet visible. The message matches the ledger RPC error.
var ErrTransactionNotIndexed = errors.New("Could not find the referenced transaction")

// ErrObjectNotFound is returned by readers for unknown object ids.
var ErrObjectNotFound = errors.New("object not found")

// IsNotIndexed reports whether err means "retry later".
func IsNotIndexed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransactionNotIndexed) {
		return true
	}
	// Remote readers only carry the message text.
	return strings.Contains(err.Error(), ErrTransactionNotIndexed.Error())
}

// Transaction statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ObjectChange describes an object touched by a transaction.
type ObjectChange struct {
	Type       string `json:"type"` // created, mutated, deleted
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
	Sender     string `json:"sender,omitempty"`
}

// TransactionBlock is an indexed transaction.
type TransactionBlock struct {
	Digest        string         `json:"digest"`
	Sender        types.Address  `json:"sender"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	TimestampMs   int64          `json:"timestampMs"`
	ObjectChanges []ObjectChange `json:"objectChanges"`
}

// Created returns ids of created objects whose type equals objectType.
// An empty objectType matches every created object.
func (tb *TransactionBlock) Created(objectType string) []string {
	var ids []string
	for _, ch := range tb.ObjectChanges {
		if ch.Type != "created" {
			continue
		}
		if objectType == "" || strings.EqualFold(ch.ObjectType, objectType) {
			ids = append(ids, ch.ObjectID)
		}
	}
	return ids
}

// Object is the move content of a ledger object.
type Object struct {
	ObjectID string                     `json:"objectId"`
	Type     string                     `json:"type"`
	Version  uint64                     `json:"version"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

// Reader is the read side of the ledger.
type Reader interface {
	GetTransactionBlock(ctx context.Context, digest string) (*TransactionBlock, error)
	GetObject(ctx context.Context, id string) (*Object, error)
}

// SubmitResult is the outcome of a submitted transaction. A non-nil result
// with Status failure is a ledger rejection; the error return is reserved for
// transport failures and signer refusal.
type SubmitResult struct {
	Digest string `json:"digest"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the ledger rejected the transaction.
func (r *SubmitResult) Failed() bool {
	return r.Status == StatusFailure
}

// PersonalSigner signs off-ledger messages with a wallet key.
type PersonalSigner interface {
	Address() types.Address
	SignPersonalMessage(ctx context.Context, msg []byte) (*PersonalSignature, error)
}

// Wallet is the external signing collaborator. Private keys never leave it.
type Wallet interface {
	PersonalSigner
	SignAndSubmitTransaction(ctx context.Context, tx *Transaction) (*SubmitResult, error)
}

// Inspector evaluates a transaction without executing it.
type Inspector interface {
	DevInspect(ctx context.Context, sender types.Address, tx *Transaction) error
}

func submit(ctx context.Context, w Wallet, tx *Transaction, op string) (*SubmitResult, error) {
	res, err := w.SignAndSubmitTransaction(ctx, tx)
	if err != nil {
		return nil, types.NewError(types.CodeTransaction, op, "submit transaction", err).
			With("address", w.Address().String())
	}
	if res == nil {
		return nil, types.Errorf(types.CodeTransaction, op, "wallet returned no result").
			With("address", w.Address().String())
	}
	if res.Failed() {
		return res, types.Errorf(types.CodeTransaction, op, "transaction rejected: %s", res.Error).
			With("address", w.Address().String()).
			With("digest", res.Digest)
	}
	return res, nil
}
