package devnet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sumnote "golang.org/x/mod/sumdb/note"
)

func newSigner(t *testing.T, name string) *CheckpointSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := NewCheckpointSigner(priv, name)
	require.NoError(t, err)
	return s
}

func TestNewCheckpointSigner(t *testing.T) {
	_, err := NewCheckpointSigner(make([]byte, 10), "x")
	assert.Error(t, err)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = NewCheckpointSigner(priv, "bad name")
	assert.Error(t, err)

	s, err := NewCheckpointSigner(priv, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.Name(), "devnet-"))
	assert.True(t, strings.HasPrefix(s.VerifierKey(), s.Name()+"+"))
}

func TestSignCheckpoint(t *testing.T) {
	s := newSigner(t, "devnet.example/log")
	root := bytes.Repeat([]byte{0xab}, 32)

	note, err := s.SignCheckpoint(7, root)
	require.NoError(t, err)
	lines := strings.Split(string(note), "\n")
	assert.Equal(t, "devnet.example/log", lines[0])
	assert.Equal(t, "7", lines[1])
	assert.Equal(t, "", lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "— devnet.example/log "))

	size, got, err := VerifyCheckpoint(note, s.Name(), s.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), size)
	assert.Equal(t, root, got)

	v, err := sumnote.NewVerifier(s.VerifierKey())
	require.NoError(t, err)
	n, err := sumnote.Open(note, sumnote.VerifierList(v))
	require.NoError(t, err)
	require.Len(t, n.Sigs, 1)
	assert.Equal(t, s.Name(), n.Sigs[0].Name)
}

func TestVerifyCheckpoint_Rejects(t *testing.T) {
	s := newSigner(t, "devnet.example/log")
	note, err := s.SignCheckpoint(3, bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	tampered := bytes.Replace(note, []byte("\n3\n"), []byte("\n4\n"), 1)
	_, _, err = VerifyCheckpoint(tampered, s.Name(), s.PublicKey())
	assert.Error(t, err)

	other := newSigner(t, "devnet.example/log")
	_, _, err = VerifyCheckpoint(note, other.Name(), other.PublicKey())
	assert.Error(t, err)

	_, _, err = VerifyCheckpoint(note, "another/origin", s.PublicKey())
	assert.Error(t, err)

	_, _, err = VerifyCheckpoint([]byte("no signature block"), s.Name(), s.PublicKey())
	assert.Error(t, err)
}
