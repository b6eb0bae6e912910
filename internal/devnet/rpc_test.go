package devnet_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/internal/devnet"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/ledger/jsonrpc"
	"github.com/relves/proofvault/pkg/seal"
	"github.com/relves/proofvault/pkg/types"
)

func serveRPC(t *testing.T, l *devnet.Ledger) *jsonrpc.Client {
	t.Helper()
	mux := http.NewServeMux()
	devnet.NewRPCHandler(l, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := jsonrpc.NewClient(srv.URL+"/rpc", srv.Client())
	require.NoError(t, err)
	return client
}

func TestRPC_ReadsMatchLedger(t *testing.T) {
	l := openLedger(t, t.TempDir())
	client := serveRPC(t, l)
	owner := newWallet(t, l)
	viewer := newWallet(t, l)
	ctx := context.Background()

	id := mint(t, l, owner)
	res, err := owner.SignAndSubmitTransaction(ctx, ledger.GrantAccessTx(testPackage, id, viewer.Address(), 3))
	require.NoError(t, err)

	tb, err := client.GetTransactionBlock(ctx, res.Digest)
	require.NoError(t, err)
	assert.Equal(t, owner.Address(), tb.Sender)
	assert.Equal(t, ledger.StatusSuccess, tb.Status)
	assert.Equal(t, fixedNow.UnixMilli(), tb.TimestampMs)
	require.Len(t, tb.ObjectChanges, 1)
	assert.Equal(t, "mutated", tb.ObjectChanges[0].Type)

	// RecordManager over the RPC client decodes the same snapshot
	records, err := ledger.NewRecordManager(testPackage, client)
	require.NoError(t, err)
	snap, err := records.Query(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, owner.Address(), snap.Owner)
	assert.Equal(t, []types.Address{viewer.Address()}, snap.ApprovedViewers)

	obj, err := client.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), obj.Version)
}

func TestRPC_NotIndexedIsRetryable(t *testing.T) {
	l := openLedger(t, t.TempDir(), devnet.WithIndexingLag(1))
	client := serveRPC(t, l)
	owner := newWallet(t, l)
	ctx := context.Background()

	res, err := owner.SignAndSubmitTransaction(ctx, ledger.MintTx(testPackage, mintParams(t, owner.Address())))
	require.NoError(t, err)

	_, err = client.GetTransactionBlock(ctx, res.Digest)
	require.Error(t, err)
	assert.True(t, ledger.IsNotIndexed(err))

	tb, err := client.GetTransactionBlock(ctx, res.Digest)
	require.NoError(t, err)
	assert.Len(t, tb.Created(types.ProofType(testPackage)), 1)
}

func TestRPC_MissingObject(t *testing.T) {
	l := openLedger(t, t.TempDir())
	client := serveRPC(t, l)

	_, err := client.GetObject(context.Background(), "0x"+strings.Repeat("12", 32))
	assert.ErrorIs(t, err, ledger.ErrObjectNotFound)
}

func TestRPC_DevInspect(t *testing.T) {
	l := openLedger(t, t.TempDir())
	client := serveRPC(t, l)
	owner := newWallet(t, l)
	stranger := newWallet(t, l)
	ctx := context.Background()
	mint(t, l, owner)

	policy, err := seal.PolicyID(owner.Address().String())
	require.NoError(t, err)
	predicate, err := ledger.SealApproveTx(testPackage, policy)
	require.NoError(t, err)

	assert.NoError(t, client.DevInspect(ctx, owner.Address(), predicate))
	err = client.DevInspect(ctx, stranger.Address(), predicate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), devnet.AbortNoAccess)
}

func TestRPC_ProtocolErrors(t *testing.T) {
	l := openLedger(t, t.TempDir())
	mux := http.NewServeMux()
	devnet.NewRPCHandler(l, nil).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	post := func(body string) jsonrpc.Response {
		resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out jsonrpc.Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	out := post(`{not json`)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeParseError, out.Error.Code)

	out = post(`{"jsonrpc":"2.0","id":7,"method":"sui_unknown","params":[]}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, out.Error.Code)
	assert.Equal(t, uint64(7), out.ID)

	out = post(`{"jsonrpc":"2.0","id":8,"method":"sui_getObject","params":[]}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeInvalidParams, out.Error.Code)
}

func TestRPC_Checkpoint(t *testing.T) {
	l := openLedger(t, t.TempDir())
	owner := newWallet(t, l)
	mint(t, l, owner)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := devnet.NewCheckpointSigner(priv, "proofvault-test")
	require.NoError(t, err)

	mux := http.NewServeMux()
	devnet.NewRPCHandler(l, nil, devnet.WithCheckpointSigner(signer)).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/checkpoint")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cp devnet.CheckpointResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cp))
	assert.Equal(t, uint64(1), cp.TreeSize)
	assert.NotEmpty(t, cp.RootHash)

	size, root, err := devnet.VerifyCheckpoint([]byte(cp.Note), signer.Name(), signer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, cp.TreeSize, size)
	assert.Equal(t, cp.RootHash, base64.StdEncoding.EncodeToString(root))
}

func TestRPC_RemoteWallet(t *testing.T) {
	l := openLedger(t, t.TempDir())
	client := serveRPC(t, l)
	ctx := context.Background()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	owner, err := jsonrpc.NewWallet(client, priv)
	require.NoError(t, err)
	viewer := newWallet(t, l)

	records, err := ledger.NewRecordManager(testPackage, client)
	require.NoError(t, err)
	pw, err := records.Mint(ctx, owner, mintParams(t, owner.Address()))
	require.NoError(t, err)

	id, err := ledger.NewResolver(testPackage, client).ResolveStrict(ctx, pw)
	require.NoError(t, err)

	access := ledger.NewAccessController(records, ledger.WithSettlingDelay(0))
	snap, err := access.GrantAndConfirm(ctx, owner, id, viewer.Address().String(), 30)
	require.NoError(t, err)
	assert.Equal(t, owner.Address(), snap.Owner)
	assert.Equal(t, []types.Address{viewer.Address()}, snap.ApprovedViewers)

	// A rejection comes back as a failed result
	_, err = access.Grant(ctx, owner, "0x"+strings.Repeat("77", 32), viewer.Address().String(), 1)
	assert.True(t, errors.Is(err, types.ErrTransaction))
}

func TestRPC_ExecuteRejectsBadSignature(t *testing.T) {
	l := openLedger(t, t.TempDir())
	client := serveRPC(t, l)
	ctx := context.Background()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	kind, err := ledger.MintTx(testPackage, mintParams(t, types.AddressFromPublicKey(priv.Public().(ed25519.PublicKey)))).MarshalKind()
	require.NoError(t, err)

	// Signed as a personal message instead of a transaction
	_, err = client.Execute(ctx, kind, ledger.SignPersonalMessage(priv, kind))
	require.Error(t, err)
	var rpcErr *jsonrpc.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)

	size, _, err := l.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}
