package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown transactions and objects.
var ErrNotFound = errors.New("not found")

// LedgerStore abstracts state storage of the local ledger.
type LedgerStore interface {
	// Transactions, in commit order.
	GetTransaction(ctx context.Context, digest string) (*TransactionRecord, error)
	ListLeafHashes(ctx context.Context) ([][]byte, error)

	// Proof objects
	GetProof(ctx context.Context, objectID string) (*ProofRecord, error)
	ListViewers(ctx context.Context, objectID string) ([]string, error)
	IsViewerForPolicy(ctx context.Context, viewer, policyID string) (bool, error)

	// CommitTransaction records rec and applies its effects atomically.
	CommitTransaction(ctx context.Context, rec *TransactionRecord, effects Effects) error

	// Tree state over transaction leaf hashes
	GetTreeState(ctx context.Context) (size uint64, root []byte, err error)
	SetTreeState(ctx context.Context, size uint64, root []byte) error
}

// ObjectChange is an object touched by a transaction.
type ObjectChange struct {
	Type       string `json:"type"`
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
}

// TransactionRecord is a committed transaction.
type TransactionRecord struct {
	Seq       uint64
	Digest    string
	Sender    string
	Kind      []byte
	Status    string
	Error     string
	Changes   []ObjectChange
	LeafHash  []byte
	CreatedAt time.Time
}

// ProofRecord holds the immutable fields of a Proof object.
type ProofRecord struct {
	ObjectID       string
	Owner          string
	BlobID         string
	PolicyID       string
	ResultBlobID   string
	ResultPolicyID string
	ProofHash      string
	CreatedAt      time.Time
	Version        uint64
}

// ViewerChange adds or removes one approved viewer.
type ViewerChange struct {
	ObjectID string
	Viewer   string
	Epochs   uint64
}

// Effects are the state changes of a successful transaction. A failed
// transaction commits with empty effects.
type Effects struct {
	CreateProofs  []ProofRecord
	AddViewers    []ViewerChange
	RemoveViewers []ViewerChange
}
