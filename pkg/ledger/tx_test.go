package ledger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

const testPackage = "0x" + "5eed000000000000000000000000000000000000000000000000000000000001"

func TestMintTx_FiveIndependentArgs(t *testing.T) {
	tx := ledger.MintTx(testPackage, ledger.MintParams{
		BlobID:         "blob-a",
		PolicyID:       "0xaa",
		ResultBlobID:   "blob-b",
		ResultPolicyID: "0xbb",
		ProofHash:      "hash",
	})

	require.Len(t, tx.Calls, 1)
	call := tx.Calls[0]
	assert.Equal(t, testPackage+"::truth_nft::mint", call.Target)
	assert.Equal(t, "mint", call.Function())
	require.Len(t, call.Args, 5)
	want := []string{"blob-a", "0xaa", "blob-b", "0xbb", "hash"}
	for i, arg := range call.Args {
		assert.Equal(t, ledger.ArgBytes, arg.Kind)
		assert.Equal(t, want[i], string(arg.Bytes))
	}
}

func TestMarshalKind_RoundTrip(t *testing.T) {
	viewer := types.MustParseAddress("0x" + repeat("bb", 32))
	tx := ledger.GrantAccessTx(testPackage, "0x"+repeat("01", 32), viewer, 7)
	approve, err := ledger.SealApproveTx(testPackage, "0x"+repeat("aa", 16))
	require.NoError(t, err)
	tx.Calls = append(tx.Calls, approve.Calls...)

	data, err := tx.MarshalKind()
	require.NoError(t, err)

	again, err := tx.MarshalKind()
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	decoded, err := ledger.UnmarshalKind(data)
	require.NoError(t, err)
	require.Len(t, decoded.Calls, 2)

	grant := decoded.Calls[0]
	require.Len(t, grant.Args, 3)
	assert.Equal(t, ledger.ArgObject, grant.Args[0].Kind)
	assert.Equal(t, "0x"+repeat("01", 32), grant.Args[0].ObjectID)
	assert.Equal(t, viewer, grant.Args[1].Address)
	assert.Equal(t, uint64(7), grant.Args[2].U64)

	seal := decoded.Calls[1]
	assert.Equal(t, "seal_approve", seal.Function())
	require.Len(t, seal.Args, 1)
	assert.Len(t, seal.Args[0].Bytes, 16)
}

func TestUnmarshalKind_Garbage(t *testing.T) {
	_, err := ledger.UnmarshalKind([]byte("not cbor"))
	assert.Error(t, err)
}

func TestPolicyBytes(t *testing.T) {
	raw, err := ledger.PolicyBytes("0x" + repeat("ab", 16))
	require.NoError(t, err)
	assert.Len(t, raw, 16)

	for _, bad := range []string{"", "0x", "0xzz"} {
		_, err := ledger.PolicyBytes(bad)
		assert.True(t, errors.Is(err, types.ErrValidation), "policy %q", bad)
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
