package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/internal/storage"
	"github.com/relves/proofvault/internal/storage/sqlite"
)

const (
	proofA   = "0x00000000000000000000000000000000000000000000000000000000000000a1"
	ownerA   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	viewerB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	viewerC  = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	policyA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	resultPA = "0x00000000000000000000000000000001"
)

func openStore(t *testing.T) *sqlite.LedgerStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := sqlite.OpenLedgerStore(tmpDir, "devnet")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mintProof(t *testing.T, store *sqlite.LedgerStore, digest string) {
	t.Helper()
	err := store.CommitTransaction(context.Background(), &storage.TransactionRecord{
		Digest:   digest,
		Sender:   ownerA,
		Kind:     []byte("mint"),
		Status:   "success",
		LeafHash: []byte(digest),
		Changes: []storage.ObjectChange{
			{Type: "created", ObjectID: proofA, ObjectType: "0x1::proof::Proof"},
		},
	}, storage.Effects{
		CreateProofs: []storage.ProofRecord{{
			ObjectID:       proofA,
			Owner:          ownerA,
			BlobID:         "bafkreiblob",
			PolicyID:       policyA,
			ResultBlobID:   "bafkreiresult",
			ResultPolicyID: resultPA,
			ProofHash:      "cafe",
			CreatedAt:      time.UnixMilli(1700000000000),
		}},
	})
	require.NoError(t, err)
}

func TestLedgerStore_OpenAndClose(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	store, err := sqlite.OpenLedgerStore(tmpDir, "devnet")
	require.NoError(t, err)
	require.NotNil(t, store)

	_, err = os.Stat(filepath.Join(tmpDir, "ledgers", "devnet", "ledger.db"))
	require.NoError(t, err)

	require.NoError(t, store.Close())
}

func TestLedgerStore_OpenNetworkName(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := sqlite.OpenLedgerStore(tmpDir, "  ")
	assert.Error(t, err)

	store, err := sqlite.OpenLedgerStore(tmpDir, " DevNet ")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = os.Stat(filepath.Join(tmpDir, "ledgers", "devnet", "ledger.db"))
	require.NoError(t, err)
}

func TestLedgerStore_OpenExisting(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	store1, err := sqlite.OpenLedgerStore(tmpDir, "devnet")
	require.NoError(t, err)
	mintProof(t, store1, "0x01")
	require.NoError(t, store1.Close())

	store2, err := sqlite.OpenLedgerStore(tmpDir, "devnet")
	require.NoError(t, err)
	defer store2.Close()

	rec, err := store2.GetTransaction(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Equal(t, ownerA, rec.Sender)
}

func TestLedgerStore_Transaction_Get(t *testing.T) {
	store := openStore(t)
	mintProof(t, store, "0x01")

	rec, err := store.GetTransaction(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, "success", rec.Status)
	assert.Equal(t, []byte("mint"), rec.Kind)
	require.Len(t, rec.Changes, 1)
	assert.Equal(t, proofA, rec.Changes[0].ObjectID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestLedgerStore_Transaction_NotFound(t *testing.T) {
	store := openStore(t)

	_, err := store.GetTransaction(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)

	_, err = store.GetProof(context.Background(), proofA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_Transaction_DuplicateDigestRollsBack(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mintProof(t, store, "0x01")

	err := store.CommitTransaction(ctx, &storage.TransactionRecord{
		Digest: "0x01", Sender: ownerA, Kind: []byte("grant"), Status: "success", LeafHash: []byte("x"),
	}, storage.Effects{
		AddViewers: []storage.ViewerChange{{ObjectID: proofA, Viewer: viewerB, Epochs: 1}},
	})
	require.Error(t, err)

	viewers, err := store.ListViewers(ctx, proofA)
	require.NoError(t, err)
	assert.Empty(t, viewers, "effects of a rejected commit must not persist")
}

func TestLedgerStore_Proof_Get(t *testing.T) {
	store := openStore(t)
	mintProof(t, store, "0x01")

	p, err := store.GetProof(context.Background(), proofA)
	require.NoError(t, err)
	assert.Equal(t, ownerA, p.Owner)
	assert.Equal(t, policyA, p.PolicyID)
	assert.Equal(t, resultPA, p.ResultPolicyID)
	assert.Equal(t, int64(1700000000000), p.CreatedAt.UnixMilli())
	assert.Equal(t, uint64(1), p.Version)
}

func TestLedgerStore_Viewers_AddRemove(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mintProof(t, store, "0x01")

	commit := func(digest string, effects storage.Effects) {
		require.NoError(t, store.CommitTransaction(ctx, &storage.TransactionRecord{
			Digest: digest, Sender: ownerA, Kind: []byte(digest), Status: "success", LeafHash: []byte(digest),
		}, effects))
	}

	commit("0x02", storage.Effects{AddViewers: []storage.ViewerChange{{ObjectID: proofA, Viewer: viewerC, Epochs: 5}}})
	commit("0x03", storage.Effects{AddViewers: []storage.ViewerChange{{ObjectID: proofA, Viewer: viewerB, Epochs: 5}}})
	// Granting twice is a no-op
	commit("0x04", storage.Effects{AddViewers: []storage.ViewerChange{{ObjectID: proofA, Viewer: viewerC, Epochs: 9}}})

	viewers, err := store.ListViewers(ctx, proofA)
	require.NoError(t, err)
	assert.Equal(t, []string{viewerC, viewerB}, viewers)

	ok, err := store.IsViewerForPolicy(ctx, viewerB, policyA)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsViewerForPolicy(ctx, viewerB, "0XAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.True(t, ok, "policy match ignores case")
	// The record names a policy its owner does not derive.
	ok, err = store.IsViewerForPolicy(ctx, viewerB, resultPA)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.IsViewerForPolicy(ctx, viewerB, policyA[:20])
	require.NoError(t, err)
	assert.False(t, ok)

	commit("0x05", storage.Effects{RemoveViewers: []storage.ViewerChange{{ObjectID: proofA, Viewer: viewerB}}})

	viewers, err = store.ListViewers(ctx, proofA)
	require.NoError(t, err)
	assert.Equal(t, []string{viewerC}, viewers)

	ok, err = store.IsViewerForPolicy(ctx, viewerB, policyA)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := store.GetProof(ctx, proofA)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), p.Version)
}

func TestLedgerStore_ListViewers_Empty(t *testing.T) {
	store := openStore(t)
	mintProof(t, store, "0x01")

	viewers, err := store.ListViewers(context.Background(), proofA)
	require.NoError(t, err)
	assert.NotNil(t, viewers)
	assert.Empty(t, viewers)
}

func TestLedgerStore_ListLeafHashes(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mintProof(t, store, "0x01")
	require.NoError(t, store.CommitTransaction(ctx, &storage.TransactionRecord{
		Digest: "0x02", Sender: ownerA, Kind: []byte("k"), Status: "failure", Error: "denied", LeafHash: []byte("0x02"),
	}, storage.Effects{}))

	hashes, err := store.ListLeafHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("0x01"), []byte("0x02")}, hashes)
}

func TestLedgerStore_TreeState_DefaultEmpty(t *testing.T) {
	store := openStore(t)

	size, root, err := store.GetTreeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
	assert.Nil(t, root)
}

func TestLedgerStore_TreeState_Update(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTreeState(ctx, 1, []byte("root-1")))
	require.NoError(t, store.SetTreeState(ctx, 2, []byte("root-2")))

	size, root, err := store.GetTreeState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), size)
	assert.Equal(t, []byte("root-2"), root)
}
