package devnet

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/sumdb/note"
)

// CheckpointSigner signs transaction-tree checkpoints as signed notes
// (c2sp.org/signed-note) so clients can pin the ledger's history.
type CheckpointSigner struct {
	signer      note.Signer
	publicKey   ed25519.PublicKey
	verifierKey string
}

// NewCheckpointSigner creates a signer. The name is also the checkpoint
// origin; empty defaults to devnet-<first 4 bytes of the key>.
func NewCheckpointSigner(privateKey ed25519.PrivateKey, name string) (*CheckpointSigner, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)
	if name == "" {
		name = fmt.Sprintf("devnet-%x", publicKey[:4])
	}
	vkey, err := note.NewEd25519VerifierKey(name, publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint origin %q: %w", name, err)
	}
	signer, err := note.NewSigner(signerKey(vkey, privateKey))
	if err != nil {
		return nil, fmt.Errorf("create checkpoint signer: %w", err)
	}
	return &CheckpointSigner{signer: signer, publicKey: publicKey, verifierKey: vkey}, nil
}

// Name returns the key name and checkpoint origin.
func (s *CheckpointSigner) Name() string {
	return s.signer.Name()
}

// PublicKey returns the verifying key.
func (s *CheckpointSigner) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// VerifierKey returns the key in name+hash+base64 verifier form.
func (s *CheckpointSigner) VerifierKey() string {
	return s.verifierKey
}

// SignCheckpoint renders and signs the checkpoint for a tree of size with
// the given root.
func (s *CheckpointSigner) SignCheckpoint(size uint64, root []byte) ([]byte, error) {
	return note.Sign(&note.Note{Text: checkpointBody(s.Name(), size, root)}, s.signer)
}

// VerifyCheckpoint checks a note produced by SignCheckpoint against the
// named key and returns the tree size and root it commits to.
func VerifyCheckpoint(msg []byte, name string, publicKey ed25519.PublicKey) (uint64, []byte, error) {
	vkey, err := note.NewEd25519VerifierKey(name, publicKey)
	if err != nil {
		return 0, nil, err
	}
	verifier, err := note.NewVerifier(vkey)
	if err != nil {
		return 0, nil, err
	}
	n, err := note.Open(msg, note.VerifierList(verifier))
	if err != nil {
		return 0, nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return parseCheckpointBody(n.Text, name)
}

func checkpointBody(origin string, size uint64, root []byte) string {
	return fmt.Sprintf("%s\n%d\n%s\n", origin, size, base64.StdEncoding.EncodeToString(root))
}

func parseCheckpointBody(text, origin string) (uint64, []byte, error) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) < 3 {
		return 0, nil, fmt.Errorf("malformed checkpoint: want 3 lines, got %d", len(lines))
	}
	if lines[0] != origin {
		return 0, nil, fmt.Errorf("checkpoint origin %q, want %q", lines[0], origin)
	}
	size, err := strconv.ParseUint(lines[1], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("malformed checkpoint size: %w", err)
	}
	root, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed checkpoint root: %w", err)
	}
	return size, root, nil
}

// signerKey encodes privateKey in the note package's
// PRIVATE+KEY+<name>+<hash>+<keydata> form, reusing the name and hash of
// its verifier key.
func signerKey(vkey string, privateKey ed25519.PrivateKey) string {
	i := strings.LastIndex(vkey, "+")
	seed := append([]byte{0x01}, privateKey.Seed()...)
	return "PRIVATE+KEY+" + vkey[:i+1] + base64.StdEncoding.EncodeToString(seed)
}
