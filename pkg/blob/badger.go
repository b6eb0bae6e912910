package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/relves/proofvault/pkg/types"
)

// BadgerStore persists blobs in a badger database keyed by CID.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a store at dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blob database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func blobKey(id string) []byte {
	return []byte("blob/" + id)
}

// Upload stores data under its CID. Existing blobs are left untouched.
func (s *BadgerStore) Upload(ctx context.Context, data []byte) (string, error) {
	id, err := ComputeID(data)
	if err != nil {
		return "", types.NewError(types.CodeUpload, "badger upload", "compute id", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(blobKey(id))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(blobKey(id), data)
	})
	if err != nil {
		return "", types.NewError(types.CodeUpload, "badger upload", "write blob", err).With("blob", id)
	}
	return id, nil
}

// Fetch reads the blob stored under id.
func (s *BadgerStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.Errorf(types.CodeFetch, "badger fetch", "blob not found").With("blob", id)
	}
	if err != nil {
		return nil, types.NewError(types.CodeFetch, "badger fetch", "read blob", err).With("blob", id)
	}
	return data, nil
}

// Has reports whether id is stored.
func (s *BadgerStore) Has(ctx context.Context, id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blobKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ Store = (*BadgerStore)(nil)
