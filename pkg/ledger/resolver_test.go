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

func mintBlock(digest string) *ledger.TransactionBlock {
	return &ledger.TransactionBlock{
		Digest: digest,
		Status: ledger.StatusSuccess,
		ObjectChanges: []ledger.ObjectChange{
			{Type: "mutated", ObjectID: "0xgas", ObjectType: "0x2::coin::Coin<0x2::sui::SUI>"},
			{Type: "created", ObjectID: recordID, ObjectType: types.ProofType(testPackage)},
		},
	}
}

func newResolver(reader ledger.Reader, clock ledger.Clock) *ledger.Resolver {
	return ledger.NewResolver(testPackage, reader, ledger.WithClock(clock))
}

func TestResolve_AfterIndexingLag(t *testing.T) {
	for _, lag := range []int{0, 1, 10, 29} {
		reader := ledgertest.NewReader()
		reader.AddTransaction(mintBlock("d1"), lag)
		clock := ledgertest.NewFakeClock(time.Unix(0, 0))

		id, found, err := newResolver(reader, clock).Resolve(context.Background(), ledger.PendingWrite{Digest: "d1"})
		require.NoError(t, err)
		assert.True(t, found, "lag %d", lag)
		assert.Equal(t, recordID, id)
		assert.Equal(t, lag+1, reader.Calls("d1"))
		assert.Equal(t, time.Duration(lag)*2*time.Second, clock.Elapsed())
	}
}

func TestResolve_NeverIndexed(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.AddTransaction(mintBlock("d1"), -1)
	clock := ledgertest.NewFakeClock(time.Unix(0, 0))
	r := newResolver(reader, clock)

	id, found, err := r.Resolve(context.Background(), ledger.PendingWrite{Digest: "d1"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, id)
	assert.Equal(t, 30, reader.Calls("d1"))
	assert.LessOrEqual(t, clock.Elapsed(), 60*time.Second)

	_, err = r.ResolveStrict(context.Background(), ledger.PendingWrite{Digest: "d1"})
	assert.True(t, errors.Is(err, types.ErrIndexingTimeout))
}

func TestResolve_FatalError(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.FailTransaction("d1", errors.New("connection refused"))
	clock := ledgertest.NewFakeClock(time.Unix(0, 0))

	_, _, err := newResolver(reader, clock).Resolve(context.Background(), ledger.PendingWrite{Digest: "d1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrResolution))
	assert.Equal(t, 1, reader.Calls("d1"))
	assert.Empty(t, clock.Waits())
}

func TestResolve_RemoteNotIndexedMessage(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.FailTransaction("d1", errors.New("rpc error -32602: Could not find the referenced transaction [TransactionDigest(d1)]"))
	clock := ledgertest.NewFakeClock(time.Unix(0, 0))
	r := ledger.NewResolver(testPackage, reader, ledger.WithClock(clock), ledger.WithBackoff(ledger.BackoffPolicy{
		Attempts: 3,
		Interval: time.Second,
	}))

	_, found, err := r.Resolve(context.Background(), ledger.PendingWrite{Digest: "d1"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 3, reader.Calls("d1"))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Waits())
}

func TestResolve_NoProofCreated(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.AddTransaction(&ledger.TransactionBlock{Digest: "d1", Status: ledger.StatusSuccess}, 0)

	_, found, err := newResolver(reader, ledgertest.NewFakeClock(time.Unix(0, 0))).
		Resolve(context.Background(), ledger.PendingWrite{Digest: "d1"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_FailedTransaction(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.AddTransaction(&ledger.TransactionBlock{Digest: "d1", Status: ledger.StatusFailure, Error: "MoveAbort"}, 0)

	_, _, err := newResolver(reader, ledgertest.NewFakeClock(time.Unix(0, 0))).
		Resolve(context.Background(), ledger.PendingWrite{Digest: "d1"})
	assert.True(t, errors.Is(err, types.ErrResolution))
}

func TestResolve_Cancelled(t *testing.T) {
	reader := ledgertest.NewReader()
	reader.AddTransaction(mintBlock("d1"), -1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ledger.NewResolver(testPackage, reader).Resolve(ctx, ledger.PendingWrite{Digest: "d1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDefaultBackoff(t *testing.T) {
	p := ledger.DefaultBackoff()
	assert.Equal(t, 30, p.Attempts)
	assert.Equal(t, 2*time.Second, p.Interval)
	assert.Equal(t, 58*time.Second, p.Ceiling())
	assert.True(t, p.Retryable(ledger.ErrTransactionNotIndexed))
	assert.False(t, p.Retryable(errors.New("boom")))
}
