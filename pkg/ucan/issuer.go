// pkg/ucan/issuer.go
package ucan

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/principal/ed25519/verifier"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/relves/proofvault/pkg/capabilities"
)

// Issuer creates and signs UCANs with a session request key.
type Issuer struct {
	signer ucan.Signer
	did    string
}

// NewIssuer creates an Issuer for an ed25519 private key.
func NewIssuer(privateKey ed25519.PrivateKey) (*Issuer, error) {
	edSigner, err := signer.FromRaw(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ed25519 signer: %w", err)
	}
	return &Issuer{
		signer: edSigner,
		did:    edSigner.DID().String(),
	}, nil
}

// IssueFetchKey delegates seal/fetch_key on policyID to a key server.
// The delegation expires with the session.
func (i *Issuer) IssueFetchKey(audienceDID, policyID string, expiresAt time.Time) (delegation.Delegation, error) {
	audience, err := did.Parse(audienceDID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse audience DID: %w", err)
	}

	caps := []ucan.Capability[ucan.NoCaveats]{
		ucan.NewCapability(
			ucan.Ability(capabilities.AbilityFetchKey),
			ucan.Resource(PolicyResource(policyID)),
			ucan.NoCaveats{},
		),
	}

	exp := ucan.UTCUnixTimestamp(expiresAt.Unix())
	dlg, err := delegation.Delegate(
		i.signer,
		audience,
		caps,
		delegation.WithExpiration(int(exp)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delegation: %w", err)
	}
	return dlg, nil
}

// DID returns the issuer's DID.
func (i *Issuer) DID() string {
	return i.did
}

// DIDFromPublicKey returns the did:key of an ed25519 public key.
func DIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	v, err := verifier.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}
	return v.DID().String(), nil
}
