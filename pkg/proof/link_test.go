package proof_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/proof"
	"github.com/relves/proofvault/pkg/types"
)

func TestShareLink(t *testing.T) {
	id := "0x" + strings.Repeat("ab", 32)
	tests := []struct {
		name string
		base string
		ref  proof.Ref
		want string
	}{
		{"digest", "https://proofs.example", proof.Ref{Digest: "0xd1"}, "https://proofs.example/view?tx=0xd1"},
		{"digest wins", "https://proofs.example/", proof.Ref{Digest: "0xd1", RecordID: id}, "https://proofs.example/view?tx=0xd1"},
		{"record id", "http://localhost:3000", proof.Ref{RecordID: strings.ToUpper(id[2:])}, "http://localhost:3000/view?id=" + id},
		{"base path", "https://host/app", proof.Ref{Digest: "0xd1"}, "https://host/app/view?tx=0xd1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := proof.ShareLink(tt.base, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, link)
		})
	}
}

func TestShareLink_Errors(t *testing.T) {
	_, err := proof.ShareLink("not a url", proof.Ref{Digest: "0xd1"})
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = proof.ShareLink("https://host", proof.Ref{})
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestParseShareLink(t *testing.T) {
	id := "0x" + strings.Repeat("cd", 32)

	ref, err := proof.ParseShareLink("https://host/view?tx=0xd1")
	require.NoError(t, err)
	assert.Equal(t, proof.Ref{Digest: "0xd1"}, ref)

	ref, err = proof.ParseShareLink("https://host/view?id=" + id)
	require.NoError(t, err)
	assert.Equal(t, proof.Ref{RecordID: id}, ref)

	_, err = proof.ParseShareLink("https://host/view")
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = proof.ParseShareLink("https://host/view?id=nothex")
	assert.Error(t, err)
}

func TestShareLink_RoundTrip(t *testing.T) {
	link, err := proof.ShareLink("https://host", proof.Ref{Digest: "0xfeed"})
	require.NoError(t, err)
	ref, err := proof.ParseShareLink(link)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", ref.Digest)
}
