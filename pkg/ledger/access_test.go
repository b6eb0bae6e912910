package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/ledger/ledgertest"
	"github.com/relves/proofvault/pkg/types"
)

func TestGrant_SubmitsGrantAccess(t *testing.T) {
	wallet := ledgertest.NewWallet()
	ac := ledger.NewAccessController(newManager(t, ledgertest.NewReader()))

	res, err := ac.Grant(context.Background(), wallet, recordID, "0x"+repeat("BB", 32), 5)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, res.Status)

	txs := wallet.Submitted()
	require.Len(t, txs, 1)
	call := txs[0].Calls[0]
	assert.Equal(t, types.Target(testPackage, "grant_access"), call.Target)
	assert.Equal(t, recordID, call.Args[0].ObjectID)
	assert.Equal(t, viewerBB, call.Args[1].Address, "viewer normalized to lowercase")
	assert.Equal(t, uint64(5), call.Args[2].U64)
}

func TestRevoke_SubmitsRevokeAccess(t *testing.T) {
	wallet := ledgertest.NewWallet()
	ac := ledger.NewAccessController(newManager(t, ledgertest.NewReader()))

	_, err := ac.Revoke(context.Background(), wallet, recordID, viewerBB.String())
	require.NoError(t, err)

	call := wallet.Submitted()[0].Calls[0]
	assert.Equal(t, "revoke_access", call.Function())
	require.Len(t, call.Args, 2)
}

func TestRevoke_OwnerIsNoOp(t *testing.T) {
	wallet := ledgertest.NewWallet()
	ac := ledger.NewAccessController(newManager(t, ledgertest.NewReader()))

	res, err := ac.Revoke(context.Background(), wallet, recordID, wallet.Address().String())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, res.Status)

	txs := wallet.Submitted()
	require.Len(t, txs, 1)
	assert.Equal(t, "revoke_access", txs[0].Calls[0].Function())
	assert.Equal(t, wallet.Address(), txs[0].Calls[0].Args[1].Address)
}

func TestGrant_ValidationBeforeWrite(t *testing.T) {
	wallet := ledgertest.NewWallet()
	ac := ledger.NewAccessController(newManager(t, ledgertest.NewReader()))

	tests := []struct {
		name   string
		record string
		viewer string
	}{
		{"short viewer", recordID, "0xbb"},
		{"missing prefix", recordID, repeat("bb", 33)},
		{"non hex viewer", recordID, "0x" + repeat("zz", 32)},
		{"bad record", "0x12", viewerBB.String()},
		{"owner as viewer", recordID, wallet.Address().String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ac.Grant(context.Background(), wallet, tt.record, tt.viewer, 1)
			assert.True(t, errors.Is(err, types.ErrValidation))
		})
	}
	assert.Empty(t, wallet.Submitted())
}

func TestGrant_Rejected(t *testing.T) {
	wallet := ledgertest.NewWallet()
	wallet.Result = func(*ledger.Transaction) (*ledger.SubmitResult, error) {
		return &ledger.SubmitResult{Digest: "d", Status: ledger.StatusFailure, Error: "ENotOwner"}, nil
	}
	ac := ledger.NewAccessController(newManager(t, ledgertest.NewReader()))

	_, err := ac.Grant(context.Background(), wallet, recordID, viewerBB.String(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTransaction))

	var te *types.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, recordID, te.Context["record"])
	assert.Equal(t, viewerBB.String(), te.Context["viewer"])
}

func TestGrantAndConfirm_WaitsSettlingDelay(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.PutObject(ledgertest.ProofObject(testPackage, recordID, ownerAA, viewerBB))
	clock := ledgertest.NewFakeClock(time.Unix(0, 0))
	ac := ledger.NewAccessController(newManager(t, reader), ledger.WithAccessClock(clock))
	assert.Equal(t, 3*time.Second, ac.SettlingDelay())

	snap, err := ac.GrantAndConfirm(context.Background(), ledgertest.NewWallet(), recordID, viewerBB.String(), 1)
	require.NoError(t, err)
	assert.True(t, snap.IsApproved(viewerBB))
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.Waits())
}
