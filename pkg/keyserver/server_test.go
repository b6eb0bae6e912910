package keyserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/blob"
	"github.com/relves/proofvault/pkg/capabilities"
	"github.com/relves/proofvault/pkg/keyserver"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/ledger/ledgertest"
	"github.com/relves/proofvault/pkg/seal"
)

const testPackage = "0x5eed"

type env struct {
	server    *keyserver.Server
	client    *keyserver.Client
	inspector *ledgertest.Inspector
	encryptor *seal.Encryptor
	sessions  *seal.SessionAuthorizer
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{inspector: ledgertest.NewInspector(), now: time.Now()}
	srv, err := keyserver.New(keyserver.Config{
		ObjectID:  "0xks0",
		PackageID: testPackage,
		Inspector: e.inspector,
		Now:       func() time.Time { return e.now },
	})
	require.NoError(t, err)
	e.server = srv

	mux := http.NewServeMux()
	keyserver.NewHTTPHandler(srv, nil).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	e.client, err = keyserver.Dial(context.Background(), ts.URL, nil)
	require.NoError(t, err)
	e.encryptor, err = seal.NewEncryptor(seal.EncryptorConfig{PackageID: testPackage, Servers: []seal.KeyServerInfo{e.client.Info()}})
	require.NoError(t, err)
	e.sessions = seal.NewSessionAuthorizer(testPackage)
	return e
}

// request builds a signed fetch-key request for the single share of a
// freshly encrypted object owned by w.
func (e *env) request(t *testing.T, w *ledgertest.Wallet, policyID string) (*seal.SessionKey, *seal.FetchKeyRequest) {
	t.Helper()
	obj, err := e.encryptor.EncryptForPolicy(context.Background(), []byte("doc"), policyID)
	require.NoError(t, err)
	session, err := e.sessions.CreateSession(context.Background(), w.Address().String(), w, 5*time.Minute)
	require.NoError(t, err)
	approve, err := ledger.SealApproveTx(testPackage, policyID)
	require.NoError(t, err)
	predicate, err := approve.MarshalKind()
	require.NoError(t, err)
	req, err := session.NewFetchKeyRequest("req-1", e.client.Info(), policyID, predicate, obj.Services[0])
	require.NoError(t, err)
	return session, req
}

func TestDial_ServiceInfo(t *testing.T) {
	e := newEnv(t)

	info := e.client.Info()
	assert.Equal(t, "0xks0", info.ObjectID)
	assert.Equal(t, e.server.Info().DID, info.DID)
	assert.Equal(t, e.server.Info().PublicKey, info.PublicKey)
	assert.NotEmpty(t, info.URL)
}

func TestFetchKey_OverHTTP(t *testing.T) {
	e := newEnv(t)
	w := ledgertest.NewWallet()
	e.inspector.Allow(w.Address())
	policyID, err := seal.PolicyID(w.Address().String())
	require.NoError(t, err)

	session, req := e.request(t, w, policyID)
	resp, err := e.client.FetchKey(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Index)

	share, err := session.OpenResponse("req-1", resp)
	require.NoError(t, err)
	assert.Len(t, share, 32)
}

func TestFetchKey_Refusals(t *testing.T) {
	policy := "0x" + strings.Repeat("ab", 16)

	tests := []struct {
		name   string
		mutate func(e *env, req *seal.FetchKeyRequest)
		want   string
	}{
		{
			name:   "predicate denies",
			mutate: func(e *env, req *seal.FetchKeyRequest) {},
			want:   capabilities.FailureNoAccess,
		},
		{
			name: "tampered signature",
			mutate: func(e *env, req *seal.FetchKeyRequest) {
				req.Signature[0] ^= 0xff
			},
			want: capabilities.FailureInvalidRequest,
		},
		{
			name: "forged certificate",
			mutate: func(e *env, req *seal.FetchKeyRequest) {
				req.Certificate.Address = ledgertest.NewWallet().Address()
			},
			want: capabilities.FailureInvalidCertificate,
		},
		{
			name: "expired session",
			mutate: func(e *env, req *seal.FetchKeyRequest) {
				e.now = e.now.Add(time.Hour)
			},
			want: capabilities.FailureSessionExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, req := e.request(t, ledgertest.NewWallet(), policy)
			tt.mutate(e, req)

			_, err := e.client.FetchKey(context.Background(), req)
			require.Error(t, err)
			var kse *seal.KeyServerError
			require.True(t, errors.As(err, &kse), "got %v", err)
			assert.Equal(t, tt.want, kse.Name)
		})
	}
}

func TestFetchKey_PredicateForOtherPolicy(t *testing.T) {
	e := newEnv(t)
	w := ledgertest.NewWallet()
	e.inspector.Allow(w.Address())
	policy := "0x" + strings.Repeat("ab", 16)

	session, req := e.request(t, w, policy)
	other, err := ledger.SealApproveTx(testPackage, "0x"+strings.Repeat("cd", 16))
	require.NoError(t, err)
	predicate, err := other.MarshalKind()
	require.NoError(t, err)

	obj, err := e.encryptor.EncryptForPolicy(context.Background(), []byte("doc"), policy)
	require.NoError(t, err)
	req, err = session.NewFetchKeyRequest("req-2", e.client.Info(), policy, predicate, obj.Services[0])
	require.NoError(t, err)

	_, err = e.server.FetchKey(context.Background(), req)
	var kse *seal.KeyServerError
	require.True(t, errors.As(err, &kse))
	assert.Equal(t, capabilities.FailureInvalidRequest, kse.Name)
	assert.Zero(t, e.inspector.Calls())
}

func TestFetchKey_BadJSON(t *testing.T) {
	e := newEnv(t)
	mux := http.NewServeMux()
	keyserver.NewHTTPHandler(e.server, nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/fetch_key", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecryptor_WithHTTPClient(t *testing.T) {
	e := newEnv(t)
	w := ledgertest.NewWallet()
	e.inspector.Allow(w.Address())
	store := blob.NewMemoryStore()

	data, policyID, err := e.encryptor.Encrypt(context.Background(), []byte("over the wire"), w.Address().String())
	require.NoError(t, err)
	blobID, err := store.Upload(context.Background(), data)
	require.NoError(t, err)

	dec, err := seal.NewDecryptor(seal.DecryptorConfig{PackageID: testPackage, Store: store, Servers: []seal.KeyServer{e.client}})
	require.NoError(t, err)
	session, err := e.sessions.CreateSession(context.Background(), w.Address().String(), w, 5*time.Minute)
	require.NoError(t, err)

	got, err := dec.Decrypt(context.Background(), blobID, policyID, session)
	require.NoError(t, err)
	assert.Equal(t, []byte("over the wire"), got)
}
