// pkg/types/address.go
package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// AddressHexLen is the number of hex characters after the 0x prefix.
const AddressHexLen = 64

// PolicyHexLen is the number of hex characters of a derived policy id.
const PolicyHexLen = 32

// ed25519Flag is the signature-scheme byte hashed into derived addresses.
const ed25519Flag = 0x00

// Address is a ledger identity: 0x followed by 64 lowercase hex characters.
type Address string

// ParseAddress validates s and returns it normalized to lowercase.
func ParseAddress(s string) (Address, error) {
	norm, ok := normalizeHex(s)
	if !ok {
		return "", Errorf(CodeValidation, "parse address",
			"invalid address %q: must be 0x followed by %d hex characters", s, AddressHexLen).
			With("address", s)
	}
	return Address(norm), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ValidateObjectID checks that id has the object identifier format.
func ValidateObjectID(id string) error {
	if _, ok := normalizeHex(id); !ok {
		return Errorf(CodeValidation, "validate object id",
			"invalid object id %q", id).With("record", id)
	}
	return nil
}

// NormalizeObjectID lowercases a valid object id. Share links may carry the
// id without its 0x prefix; it is restored.
func NormalizeObjectID(id string) (string, error) {
	raw := strings.TrimSpace(id)
	if len(raw) == AddressHexLen {
		raw = "0x" + raw
	}
	norm, ok := normalizeHex(raw)
	if !ok {
		return "", Errorf(CodeValidation, "normalize object id",
			"invalid object id %q", id).With("record", id)
	}
	return norm, nil
}

// AddressFromPublicKey derives the address controlled by an ed25519 key.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, ed25519Flag)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return Address("0x" + hex.EncodeToString(sum[:]))
}

func (a Address) String() string {
	return string(a)
}

// Equal compares addresses case-insensitively.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

// Hex returns the address without the 0x prefix.
func (a Address) Hex() string {
	return strings.TrimPrefix(strings.ToLower(string(a)), "0x")
}

// Short renders 0x1234…abcd for logs.
func (a Address) Short() string {
	h := a.Hex()
	if len(h) < 8 {
		return string(a)
	}
	return "0x" + h[:4] + "…" + h[len(h)-4:]
}

// PolicyID is the access policy derived from a: 0x followed by the first
// PolicyHexLen hex characters of the address.
func (a Address) PolicyID() string {
	h := a.Hex()
	if len(h) < PolicyHexLen {
		return ""
	}
	return "0x" + h[:PolicyHexLen]
}

func normalizeHex(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 2+AddressHexLen || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", false
	}
	body := strings.ToLower(s[2:])
	if _, err := hex.DecodeString(body); err != nil {
		return "", false
	}
	return "0x" + body, true
}
