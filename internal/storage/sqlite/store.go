package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relves/proofvault/internal/storage"
	"github.com/relves/proofvault/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound aliases storage.ErrNotFound for callers of this package.
var ErrNotFound = storage.ErrNotFound

type LedgerStore struct {
	db      *sql.DB
	network string
	dbPath  string
}

func OpenLedgerStore(basePath, network string) (*LedgerStore, error) {
	network = strings.ToLower(strings.TrimSpace(network))
	if network == "" {
		return nil, fmt.Errorf("network name is required")
	}
	dir := filepath.Join(basePath, "ledgers", network)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &LedgerStore{
		db:      db,
		network: network,
		dbPath:  dbPath,
	}, nil
}

func (s *LedgerStore) Close() error {
	return s.db.Close()
}

func (s *LedgerStore) Network() string {
	return s.network
}

func (s *LedgerStore) DBPath() string {
	return s.dbPath
}

func (s *LedgerStore) GetTransaction(ctx context.Context, digest string) (*storage.TransactionRecord, error) {
	var (
		rec       storage.TransactionRecord
		changes   string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, digest, sender, kind, status, error, changes, leaf_hash, created_at
		 FROM transactions WHERE digest = ?`,
		digest).Scan(&rec.Seq, &rec.Digest, &rec.Sender, &rec.Kind, &rec.Status, &rec.Error, &changes, &rec.LeafHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(changes), &rec.Changes); err != nil {
		return nil, fmt.Errorf("decode object changes of %s: %w", digest, err)
	}
	var parseErr error
	rec.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt)
	if parseErr != nil {
		slog.Warn("failed to parse created_at timestamp", "digest", digest, "value", createdAt, "error", parseErr)
	}
	return &rec, nil
}

// ListLeafHashes returns the leaf hash of every transaction in commit order.
func (s *LedgerStore) ListLeafHashes(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT leaf_hash FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *LedgerStore) GetProof(ctx context.Context, objectID string) (*storage.ProofRecord, error) {
	var (
		p         storage.ProofRecord
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT object_id, owner, blob_id, policy_id, result_blob_id, result_policy_id, proof_hash, created_at_ms, version
		 FROM proofs WHERE object_id = ?`,
		objectID).Scan(&p.ObjectID, &p.Owner, &p.BlobID, &p.PolicyID, &p.ResultBlobID, &p.ResultPolicyID, &p.ProofHash, &createdMs, &p.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &p, nil
}

// ListViewers returns approved viewers in grant order.
func (s *LedgerStore) ListViewers(ctx context.Context, objectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT viewer FROM approved_viewers WHERE object_id = ? ORDER BY rowid`,
		objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	viewers := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		viewers = append(viewers, v)
	}
	return viewers, rows.Err()
}

// IsViewerForPolicy reports whether viewer is approved on any record that
// references policyID as its document or result policy and whose owner
// address derives policyID.
func (s *LedgerStore) IsViewerForPolicy(ctx context.Context, viewer, policyID string) (bool, error) {
	policyID = strings.ToLower(policyID)
	if len(policyID) != 2+types.PolicyHexLen {
		return false, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approved_viewers v
		 JOIN proofs p ON p.object_id = v.object_id
		 WHERE v.viewer = ?
		   AND (p.policy_id = ? OR p.result_policy_id = ?)
		   AND substr(lower(p.owner), 1, ?) = ?`,
		viewer, policyID, policyID, len(policyID), policyID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *LedgerStore) CommitTransaction(ctx context.Context, rec *storage.TransactionRecord, effects storage.Effects) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("encode object changes: %w", err)
	}
	if rec.Changes == nil {
		changes = []byte("[]")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range effects.CreateProofs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO proofs (object_id, owner, blob_id, policy_id, result_blob_id, result_policy_id, proof_hash, created_at_ms, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			p.ObjectID, p.Owner, p.BlobID, p.PolicyID, p.ResultBlobID, p.ResultPolicyID, p.ProofHash, p.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert proof %s: %w", p.ObjectID, err)
		}
	}

	now := createdAt.UTC().Format(time.RFC3339Nano)
	touched := make(map[string]bool)
	for _, v := range effects.AddViewers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO approved_viewers (object_id, viewer, epochs, granted_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(object_id, viewer) DO NOTHING`,
			v.ObjectID, v.Viewer, v.Epochs, now); err != nil {
			return fmt.Errorf("add viewer: %w", err)
		}
		touched[v.ObjectID] = true
	}
	for _, v := range effects.RemoveViewers {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM approved_viewers WHERE object_id = ? AND viewer = ?`,
			v.ObjectID, v.Viewer); err != nil {
			return fmt.Errorf("remove viewer: %w", err)
		}
		touched[v.ObjectID] = true
	}
	for id := range touched {
		if _, err := tx.ExecContext(ctx,
			`UPDATE proofs SET version = version + 1 WHERE object_id = ?`, id); err != nil {
			return fmt.Errorf("bump version of %s: %w", id, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (digest, sender, kind, status, error, changes, leaf_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Digest, rec.Sender, rec.Kind, rec.Status, rec.Error, string(changes), rec.LeafHash, now)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", rec.Digest, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		rec.Seq = uint64(seq)
	}

	return tx.Commit()
}

// GetTreeState retrieves the Merkle tree state over transactions.
// Returns (0, nil, nil) if no tree state exists yet.
func (s *LedgerStore) GetTreeState(ctx context.Context) (size uint64, root []byte, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT size, root FROM tree_state WHERE id = 1`).Scan(&size, &root)
	if err == sql.ErrNoRows {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return size, root, nil
}

// SetTreeState sets the Merkle tree state (upsert).
func (s *LedgerStore) SetTreeState(ctx context.Context, size uint64, root []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tree_state (id, size, root) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET size = excluded.size, root = excluded.root`,
		size, root)
	return err
}
