package seal

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/relves/proofvault/pkg/capabilities"
	"github.com/relves/proofvault/pkg/types"
)

// KeyServerInfo describes a key server. PublicKey is its HPKE key.
type KeyServerInfo struct {
	ObjectID  string `json:"objectId"`
	DID       string `json:"did"`
	URL       string `json:"url,omitempty"`
	PublicKey []byte `json:"publicKey"`
}

// KeyServer releases shares to sessions the access predicate approves.
type KeyServer interface {
	Info() KeyServerInfo
	FetchKey(ctx context.Context, req *FetchKeyRequest) (*FetchKeyResponse, error)
}

// Certificate is the wallet-signed half of a session. It carries no secret.
type Certificate struct {
	Address          types.Address `json:"address"`
	PackageID        string        `json:"packageId"`
	SessionDID       string        `json:"sessionDid"`
	SessionPublicKey []byte        `json:"sessionPublicKey"`
	CreatedAt        time.Time     `json:"createdAt"`
	TTLMinutes       int           `json:"ttlMinutes"`
	Signature        string        `json:"signature"`
}

// ExpiresAt returns when the session stops being valid.
func (c *Certificate) ExpiresAt() time.Time {
	return c.CreatedAt.Add(time.Duration(c.TTLMinutes) * time.Minute)
}

// Message is the personal message the wallet signed.
func (c *Certificate) Message() []byte {
	return PersonalMessage(c.PackageID, c.TTLMinutes, c.CreatedAt, c.SessionDID)
}

// PersonalMessage renders the text a wallet signs to authorize a session.
func PersonalMessage(packageID string, ttlMinutes int, createdAt time.Time, sessionDID string) []byte {
	return []byte(fmt.Sprintf("Accessing keys of package %s for %d mins from %s, session key %s",
		packageID, ttlMinutes, createdAt.UTC().Format(time.RFC3339), sessionDID))
}

// FetchKeyRequest asks one key server to release its share of an object's
// data key to the session's HPKE key.
type FetchKeyRequest struct {
	RequestID   string      `json:"requestId"`
	Certificate Certificate `json:"certificate"`
	// Delegation is a base64 seal/fetch_key UCAN issued by the session key.
	Delegation string `json:"delegation"`
	// PredicateTx is the seal_approve transaction kind, never executed.
	PredicateTx []byte `json:"predicateTx"`
	ResponseKey []byte `json:"responseKey"`
	PolicyID    string `json:"policyId"`
	Share       struct {
		Index int    `json:"index"`
		Enc   []byte `json:"enc"`
		Data  []byte `json:"data"`
	} `json:"share"`
	Signature []byte `json:"signature"`
}

// SigningPayload is the digest the session request key signs.
func (r *FetchKeyRequest) SigningPayload() []byte {
	h, _ := blake2b.New256(nil)
	for _, part := range [][]byte{
		[]byte(r.RequestID),
		[]byte(r.Certificate.Signature),
		[]byte(r.Delegation),
		r.PredicateTx,
		r.ResponseKey,
		[]byte(r.PolicyID),
		{byte(r.Share.Index)},
		r.Share.Enc,
		r.Share.Data,
	} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return h.Sum(nil)
}

// VerifySignature checks the request signature against the session key in
// the certificate.
func (r *FetchKeyRequest) VerifySignature() bool {
	if len(r.Certificate.SessionPublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(r.Certificate.SessionPublicKey, r.SigningPayload(), r.Signature)
}

// FetchKeyResponse carries a share resealed to the session.
type FetchKeyResponse struct {
	ObjectID string `json:"objectId"`
	Index    int    `json:"index"`
	Enc      []byte `json:"enc"`
	Data     []byte `json:"data"`
}

// KeyServerError is a refusal from a key server.
type KeyServerError struct {
	Server  string
	Name    string
	Message string
}

func (e *KeyServerError) Error() string {
	return fmt.Sprintf("key server %s: %s: %s", e.Server, e.Name, e.Message)
}

// Denied reports whether the access predicate rejected the request.
func (e *KeyServerError) Denied() bool {
	return capabilities.IsAccessDenial(e.Name)
}

// Expired reports whether the server considered the session expired.
func (e *KeyServerError) Expired() bool {
	return e.Name == capabilities.FailureSessionExpired
}

// ResponseAAD binds a resealed share to its request.
func ResponseAAD(requestID string, index int) []byte {
	return append([]byte(requestID), byte(index))
}
