package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relves/proofvault/pkg/blob"
	"github.com/relves/proofvault/pkg/types"
)

// DefaultSnapshotCacheSize bounds the number of cached record snapshots.
const DefaultSnapshotCacheSize = 1024

// PendingWrite is a submitted mint whose record id is not yet known.
type PendingWrite struct {
	Digest      string        `json:"digest"`
	Sender      types.Address `json:"sender"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// RecordManager mints and reads Proof records.
type RecordManager struct {
	packageID string
	reader    Reader
	snapshots *lru.Cache[string, *types.ProofSnapshot]
	logger    *slog.Logger
	now       func() time.Time
}

// RecordManagerOption configures a RecordManager.
type RecordManagerOption func(*RecordManager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RecordManagerOption {
	return func(m *RecordManager) { m.logger = l }
}

// WithSnapshotCacheSize sets the snapshot cache size.
func WithSnapshotCacheSize(n int) RecordManagerOption {
	return func(m *RecordManager) {
		if c, err := lru.New[string, *types.ProofSnapshot](n); err == nil {
			m.snapshots = c
		}
	}
}

// NewRecordManager creates a RecordManager for the contract at packageID.
func NewRecordManager(packageID string, reader Reader, opts ...RecordManagerOption) (*RecordManager, error) {
	if packageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("ledger reader is required")
	}
	cache, err := lru.New[string, *types.ProofSnapshot](DefaultSnapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	m := &RecordManager{
		packageID: packageID,
		reader:    reader,
		snapshots: cache,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PackageID returns the contract package id.
func (m *RecordManager) PackageID() string {
	return m.packageID
}

// Reader returns the underlying ledger reader.
func (m *RecordManager) Reader() Reader {
	return m.reader
}

// Mint submits a new Proof record owned by the wallet address.
func (m *RecordManager) Mint(ctx context.Context, w Wallet, p MintParams) (PendingWrite, error) {
	for name, id := range map[string]string{"blob_id": p.BlobID, "result_blob_id": p.ResultBlobID} {
		if err := blob.ValidateID(id); err != nil {
			return PendingWrite{}, fmt.Errorf("mint %s: %w", name, err)
		}
	}
	own := w.Address().PolicyID()
	for name, id := range map[string]string{"policy_id": p.PolicyID, "result_policy_id": p.ResultPolicyID} {
		if _, err := PolicyBytes(id); err != nil {
			return PendingWrite{}, fmt.Errorf("mint %s: %w", name, err)
		}
		if !strings.EqualFold(id, own) {
			return PendingWrite{}, types.Errorf(types.CodeValidation, "mint",
				"%s %s is not derived from the owner", name, id).
				With("address", w.Address().String()).
				With("policy", id)
		}
	}

	res, err := submit(ctx, w, MintTx(m.packageID, p), "mint")
	if err != nil {
		return PendingWrite{}, err
	}
	m.logger.Info("proof minted",
		"digest", res.Digest,
		"owner", w.Address().Short(),
		"blob_id", p.BlobID)
	return PendingWrite{Digest: res.Digest, Sender: w.Address(), SubmittedAt: m.now()}, nil
}

// Query reads the current state of a record. It returns nil, nil when the
// object does not exist.
func (m *RecordManager) Query(ctx context.Context, recordID string) (*types.ProofSnapshot, error) {
	id, err := types.NormalizeObjectID(recordID)
	if err != nil {
		return nil, err
	}
	obj, err := m.reader.GetObject(ctx, id)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		var te *types.Error
		if errors.As(err, &te) {
			te.With("record", id)
		}
		return nil, fmt.Errorf("query record %s: %w", id, err)
	}
	if obj == nil {
		return nil, nil
	}
	if !strings.EqualFold(obj.Type, types.ProofType(m.packageID)) {
		return nil, types.Errorf(types.CodeValidation, "query record",
			"object has type %s, not a Proof", obj.Type).With("record", id)
	}

	snap, err := m.decodeSnapshot(id, obj)
	if err != nil {
		return nil, err
	}
	m.snapshots.Add(id, snap)
	return snap, nil
}

// Cached returns the last snapshot read for recordID.
func (m *RecordManager) Cached(recordID string) (*types.ProofSnapshot, bool) {
	id, err := types.NormalizeObjectID(recordID)
	if err != nil {
		return nil, false
	}
	return m.snapshots.Get(id)
}

// Forget drops a cached snapshot.
func (m *RecordManager) Forget(recordID string) {
	if id, err := types.NormalizeObjectID(recordID); err == nil {
		m.snapshots.Remove(id)
	}
}

func (m *RecordManager) decodeSnapshot(id string, obj *Object) (*types.ProofSnapshot, error) {
	snap := &types.ProofSnapshot{ObjectID: id}

	owner, err := fieldString(obj.Fields, "owner")
	if err != nil {
		return nil, types.NewError(types.CodeMalformedRecord, "query record", "owner", err).With("record", id)
	}
	if snap.Owner, err = types.ParseAddress(owner); err != nil {
		return nil, types.NewError(types.CodeMalformedRecord, "query record", "owner", err).With("record", id)
	}

	for name, dst := range map[string]*string{
		"blob_id":          &snap.BlobID,
		"policy_id":        &snap.PolicyID,
		"result_blob_id":   &snap.ResultBlobID,
		"result_policy_id": &snap.ResultPolicyID,
		"proof_hash":       &snap.ProofHash,
	} {
		if *dst, err = fieldString(obj.Fields, name); err != nil {
			return nil, types.NewError(types.CodeMalformedRecord, "query record", name, err).With("record", id)
		}
	}

	if raw, ok := obj.Fields["created_at"]; ok {
		ms, err := parseU64(raw)
		if err != nil {
			snap.Diagnostics = append(snap.Diagnostics, "created_at: "+err.Error())
		} else {
			snap.CreatedAt = time.UnixMilli(int64(ms)).UTC()
		}
	}

	viewers, enc, perr := ParseApprovedViewers(obj.Fields["approved_viewers"])
	if perr != nil {
		m.logger.Warn("approved viewers malformed",
			"record", id,
			"encoding", enc.String(),
			"error", perr)
		snap.Diagnostics = append(snap.Diagnostics, perr.Error())
	}
	snap.ApprovedViewers = make([]types.Address, 0, len(viewers))
	for _, v := range viewers {
		if v.Equal(snap.Owner) {
			continue
		}
		snap.ApprovedViewers = append(snap.ApprovedViewers, v)
	}
	return snap, nil
}

// fieldString reads a string field that the ledger renders either as a JSON
// string or as an array of UTF-8 bytes.
func fieldString(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing field %s", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var b []uint8
	var nums []int
	if err := json.Unmarshal(raw, &nums); err == nil {
		b = make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return "", fmt.Errorf("field %s: byte %d out of range", name, n)
			}
			b[i] = byte(n)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("field %s: unsupported encoding", name)
}

// parseU64 accepts both numeric and decimal-string encodings.
func parseU64(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a u64: %s", string(raw))
	}
	return strconv.ParseUint(s, 10, 64)
}
