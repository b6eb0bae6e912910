package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/relves/proofvault/pkg/types"
)

// SchemeEd25519 is the flag byte of ed25519 serialized signatures.
const SchemeEd25519 byte = 0x00

// Intent prefixes keep personal messages and transaction bytes in separate
// signing domains.
var (
	personalMessageIntent = []byte{3, 0, 0}
	transactionIntent     = []byte{0, 0, 0}
)

// PersonalSignature is a wallet signature over a personal message.
type PersonalSignature struct {
	Signature []byte
	PublicKey ed25519.PublicKey
}

// Serialize encodes flag || signature || public key as base64.
func (s *PersonalSignature) Serialize() string {
	buf := make([]byte, 0, 1+len(s.Signature)+len(s.PublicKey))
	buf = append(buf, SchemeEd25519)
	buf = append(buf, s.Signature...)
	buf = append(buf, s.PublicKey...)
	return base64.StdEncoding.EncodeToString(buf)
}

// ParsePersonalSignature decodes a serialized signature.
func ParsePersonalSignature(s string) (*PersonalSignature, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode signature: unexpected length %d", len(raw))
	}
	if raw[0] != SchemeEd25519 {
		return nil, fmt.Errorf("decode signature: unsupported scheme %#x", raw[0])
	}
	return &PersonalSignature{
		Signature: raw[1 : 1+ed25519.SignatureSize],
		PublicKey: ed25519.PublicKey(raw[1+ed25519.SignatureSize:]),
	}, nil
}

func intentDigest(intent, msg []byte) []byte {
	buf := make([]byte, 0, len(intent)+len(msg))
	buf = append(buf, intent...)
	buf = append(buf, msg...)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

// PersonalMessageDigest is the digest wallets sign for msg.
func PersonalMessageDigest(msg []byte) []byte {
	return intentDigest(personalMessageIntent, msg)
}

// TransactionDigest is the digest wallets sign for encoded transaction bytes.
func TransactionDigest(txBytes []byte) []byte {
	return intentDigest(transactionIntent, txBytes)
}

// SignPersonalMessage signs msg with priv.
func SignPersonalMessage(priv ed25519.PrivateKey, msg []byte) *PersonalSignature {
	return &PersonalSignature{
		Signature: ed25519.Sign(priv, PersonalMessageDigest(msg)),
		PublicKey: priv.Public().(ed25519.PublicKey),
	}
}

// VerifyPersonalMessage checks that sig is a signature over msg by the key
// controlling addr.
func VerifyPersonalMessage(addr types.Address, msg []byte, sig *PersonalSignature) error {
	return verify("verify personal message", addr, PersonalMessageDigest(msg), sig)
}

// SignTransaction signs encoded transaction bytes with priv.
func SignTransaction(priv ed25519.PrivateKey, txBytes []byte) *PersonalSignature {
	return &PersonalSignature{
		Signature: ed25519.Sign(priv, TransactionDigest(txBytes)),
		PublicKey: priv.Public().(ed25519.PublicKey),
	}
}

// VerifyTransaction checks that sig authorizes txBytes on behalf of addr.
func VerifyTransaction(addr types.Address, txBytes []byte, sig *PersonalSignature) error {
	return verify("verify transaction", addr, TransactionDigest(txBytes), sig)
}

func verify(op string, addr types.Address, digest []byte, sig *PersonalSignature) error {
	if sig == nil || len(sig.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%s: missing public key", op)
	}
	if derived := types.AddressFromPublicKey(sig.PublicKey); !derived.Equal(addr) {
		return fmt.Errorf("%s: key belongs to %s, not %s", op, derived.Short(), addr.Short())
	}
	if !ed25519.Verify(sig.PublicKey, digest, sig.Signature) {
		return fmt.Errorf("%s: invalid signature", op)
	}
	return nil
}
