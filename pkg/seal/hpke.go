package seal

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// HPKE contexts.
const (
	ShareInfo    = "proofvault/share/v1"
	ResponseInfo = "proofvault/share-response/v1"
)

var (
	hpkeKEM   = hpke.KEM_X25519_HKDF_SHA256
	hpkeSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)
)

// NewHPKEKeyPair generates an X25519 key pair and returns the private key
// and the marshaled public key.
func NewHPKEKeyPair() (kem.PrivateKey, []byte, error) {
	pub, priv, err := hpkeKEM.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate hpke key: %w", err)
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal hpke key: %w", err)
	}
	return priv, raw, nil
}

// UnmarshalHPKEPrivateKey decodes a private key stored with MarshalBinary.
func UnmarshalHPKEPrivateKey(raw []byte) (kem.PrivateKey, error) {
	priv, err := hpkeKEM.Scheme().UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal hpke key: %w", err)
	}
	return priv, nil
}

// HPKEPublicKey returns the marshaled public half of priv.
func HPKEPublicKey(priv kem.PrivateKey) ([]byte, error) {
	return priv.Public().MarshalBinary()
}

// SealTo encrypts pt to the marshaled public key.
func SealTo(pub []byte, info string, aad, pt []byte) (enc, ct []byte, err error) {
	pk, err := hpkeKEM.Scheme().UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal hpke public key: %w", err)
	}
	sender, err := hpkeSuite.NewSender(pk, []byte(info))
	if err != nil {
		return nil, nil, err
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke setup: %w", err)
	}
	ct, err = sealer.Seal(pt, aad)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke seal: %w", err)
	}
	return enc, ct, nil
}

// OpenWith decrypts a SealTo ciphertext.
func OpenWith(priv kem.PrivateKey, info string, enc, ct, aad []byte) ([]byte, error) {
	receiver, err := hpkeSuite.NewReceiver(priv, []byte(info))
	if err != nil {
		return nil, err
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("hpke setup: %w", err)
	}
	pt, err := opener.Open(ct, aad)
	if err != nil {
		return nil, fmt.Errorf("hpke open: %w", err)
	}
	return pt, nil
}

// ShareAAD binds a wrapped share to its package, policy and position.
func ShareAAD(packageID, policyID string, index int) []byte {
	aad := make([]byte, 0, len(packageID)+len(policyID)+1)
	aad = append(aad, packageID...)
	aad = append(aad, policyID...)
	aad = append(aad, byte(index))
	return aad
}
