// Package devnet is a single-node ledger running the truth_nft contract
// against a SQLite store. It serves local development and end-to-end tests.
package devnet

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/proofvault/internal/storage"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// Ledger executes transactions in submission order and serves reads.
type Ledger struct {
	store     storage.LedgerStore
	packageID string
	lag       int
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	rf      *compact.RangeFactory
	tree    *compact.Range
	pending map[string]int
}

var (
	_ ledger.Reader    = (*Ledger)(nil)
	_ ledger.Inspector = (*Ledger)(nil)
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithIndexingLag hides each new transaction from the first n lookups.
func WithIndexingLag(n int) Option {
	return func(l *Ledger) { l.lag = n }
}

// WithNow overrides the execution clock.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New opens a ledger over store, replaying stored leaf hashes into the
// transaction tree and checking them against the persisted tree state.
func New(ctx context.Context, store storage.LedgerStore, packageID string, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if packageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	l := &Ledger{
		store:     store,
		packageID: packageID,
		now:       time.Now,
		logger:    slog.Default(),
		rf:        &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren},
		pending:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}

	leaves, err := store.ListLeafHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transaction leaves: %w", err)
	}
	l.tree = l.rf.NewEmptyRange(0)
	for _, leaf := range leaves {
		if err := l.tree.Append(leaf, nil); err != nil {
			return nil, fmt.Errorf("replay transaction tree: %w", err)
		}
	}

	size, root, err := store.GetTreeState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tree state: %w", err)
	}
	if size > 0 {
		current, err := l.rootLocked()
		if err != nil {
			return nil, err
		}
		if size != l.tree.End() || !bytes.Equal(root, current) {
			return nil, fmt.Errorf("invalid ledger state: tree state size %d does not match %d stored transactions", size, l.tree.End())
		}
	}

	l.logger.Info("devnet ledger opened", "package", packageID, "transactions", l.tree.End())
	return l, nil
}

// PackageID returns the id the contract is published under.
func (l *Ledger) PackageID() string {
	return l.packageID
}

// Checkpoint returns the size and RFC 6962 root of the transaction tree.
func (l *Ledger) Checkpoint() (uint64, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	root, err := l.rootLocked()
	if err != nil {
		return 0, nil, err
	}
	return l.tree.End(), root, nil
}

func (l *Ledger) rootLocked() ([]byte, error) {
	if l.tree.End() == 0 {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	root, err := l.tree.GetRootHash(nil)
	if err != nil {
		return nil, fmt.Errorf("calculate root hash: %w", err)
	}
	return root, nil
}

// Execute runs tx as sender. Contract aborts produce a committed transaction
// with failure status and a nil error.
func (l *Ledger) Execute(ctx context.Context, sender types.Address, tx *ledger.Transaction) (*ledger.SubmitResult, error) {
	kind, err := tx.MarshalKind()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	leaf := leafHash(kind, sender, l.tree.End())
	digest := "0x" + hex.EncodeToString(leaf)
	now := l.now()

	rec := &storage.TransactionRecord{
		Digest:    digest,
		Sender:    sender.String(),
		Kind:      kind,
		Status:    ledger.StatusSuccess,
		LeafHash:  leaf,
		CreatedAt: now,
	}
	effects, changes, abort := l.apply(ctx, sender, tx, leaf, now)
	if abort != nil {
		rec.Status = ledger.StatusFailure
		rec.Error = abort.Error()
		effects = storage.Effects{}
	} else {
		rec.Changes = changes
	}

	if err := l.store.CommitTransaction(ctx, rec, effects); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	if err := l.tree.Append(leaf, nil); err != nil {
		return nil, fmt.Errorf("append transaction leaf: %w", err)
	}
	root, err := l.rootLocked()
	if err != nil {
		return nil, err
	}
	if err := l.store.SetTreeState(ctx, l.tree.End(), root); err != nil {
		return nil, fmt.Errorf("persist tree state: %w", err)
	}
	if l.lag > 0 {
		l.pending[digest] = l.lag
	}

	l.logger.Info("transaction executed",
		"digest", digest,
		"sender", sender.Short(),
		"status", rec.Status,
		"error", rec.Error,
		"treeSize", l.tree.End())

	return &ledger.SubmitResult{Digest: digest, Status: rec.Status, Error: rec.Error}, nil
}

// leafHash binds the transaction kind to its sender and position so that
// resubmitting identical calls yields a fresh digest.
func leafHash(kind []byte, sender types.Address, seq uint64) []byte {
	senderBytes, _ := hex.DecodeString(sender.Hex())
	data := make([]byte, 0, len(kind)+len(senderBytes)+8)
	data = append(data, kind...)
	data = append(data, senderBytes...)
	data = binary.BigEndian.AppendUint64(data, seq)
	return rfc6962.DefaultHasher.HashLeaf(data)
}

// GetTransactionBlock returns a committed transaction once it is indexed.
func (l *Ledger) GetTransactionBlock(ctx context.Context, digest string) (*ledger.TransactionBlock, error) {
	l.mu.Lock()
	if remaining, ok := l.pending[digest]; ok {
		if remaining > 0 {
			l.pending[digest] = remaining - 1
			l.mu.Unlock()
			return nil, ledger.ErrTransactionNotIndexed
		}
		delete(l.pending, digest)
	}
	l.mu.Unlock()

	rec, err := l.store.GetTransaction(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ledger.ErrTransactionNotIndexed
	}
	if err != nil {
		return nil, err
	}

	sender, err := types.ParseAddress(rec.Sender)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", digest, err)
	}
	tb := &ledger.TransactionBlock{
		Digest:      rec.Digest,
		Sender:      sender,
		Status:      rec.Status,
		Error:       rec.Error,
		TimestampMs: rec.CreatedAt.UnixMilli(),
	}
	for _, ch := range rec.Changes {
		tb.ObjectChanges = append(tb.ObjectChanges, ledger.ObjectChange{
			Type:       ch.Type,
			ObjectID:   ch.ObjectID,
			ObjectType: ch.ObjectType,
			Sender:     rec.Sender,
		})
	}
	return tb, nil
}

// GetObject returns the move content of a Proof.
func (l *Ledger) GetObject(ctx context.Context, id string) (*ledger.Object, error) {
	norm, err := types.NormalizeObjectID(id)
	if err != nil {
		return nil, ledger.ErrObjectNotFound
	}
	p, err := l.store.GetProof(ctx, norm)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ledger.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	viewers, err := l.store.ListViewers(ctx, norm)
	if err != nil {
		return nil, err
	}

	approved, err := json.Marshal(map[string]any{
		"type":   "0x2::vec_set::VecSet<address>",
		"fields": map[string]any{"contents": viewers},
	})
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{
		"id":               mustJSON(map[string]string{"id": p.ObjectID}),
		"owner":            mustJSON(p.Owner),
		"blob_id":          mustJSON(p.BlobID),
		"policy_id":        mustJSON(p.PolicyID),
		"result_blob_id":   mustJSON(p.ResultBlobID),
		"result_policy_id": mustJSON(p.ResultPolicyID),
		"proof_hash":       mustJSON(p.ProofHash),
		"created_at":       mustJSON(strconv.FormatInt(p.CreatedAt.UnixMilli(), 10)),
		"approved_viewers": approved,
	}
	return &ledger.Object{
		ObjectID: p.ObjectID,
		Type:     types.ProofType(l.packageID),
		Version:  p.Version,
		Fields:   fields,
	}, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DevInspect evaluates seal_approve calls for sender without committing.
func (l *Ledger) DevInspect(ctx context.Context, sender types.Address, tx *ledger.Transaction) error {
	if len(tx.Calls) == 0 {
		return fmt.Errorf("dev inspect: empty transaction")
	}
	for _, call := range tx.Calls {
		if call.Target != types.Target(l.packageID, types.ContractSealApprove) {
			return fmt.Errorf("dev inspect: %s is not a predicate", call.Target)
		}
		if abort := l.sealApprove(ctx, sender, call); abort != nil {
			return abort
		}
	}
	return nil
}
