package seal

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudflare/circl/kem"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
	"github.com/relves/proofvault/pkg/ucan"
)

// Session TTL bounds.
const (
	MinSessionTTL     = time.Minute
	MaxSessionTTL     = 30 * time.Minute
	DefaultSessionTTL = MaxSessionTTL
)

// SessionKey is a short-lived, wallet-approved authorization bound to one
// address. It lives only in process memory.
type SessionKey struct {
	cert       Certificate
	requestKey ed25519.PrivateKey
	issuer     *ucan.Issuer
	hpkeKey    kem.PrivateKey
	hpkePub    []byte
	now        func() time.Time
}

// Address is the identity the session acts for.
func (s *SessionKey) Address() types.Address {
	return s.cert.Address
}

// PackageID is the contract the session was approved for.
func (s *SessionKey) PackageID() string {
	return s.cert.PackageID
}

// DID is the did:key of the session request key.
func (s *SessionKey) DID() string {
	return s.cert.SessionDID
}

// ExpiresAt returns the end of the session.
func (s *SessionKey) ExpiresAt() time.Time {
	return s.cert.ExpiresAt()
}

// IsExpired reports whether the TTL has elapsed.
func (s *SessionKey) IsExpired() bool {
	return !s.now().Before(s.ExpiresAt())
}

// Certificate exports the wallet-signed part of the session.
func (s *SessionKey) Certificate() Certificate {
	return s.cert
}

// NewFetchKeyRequest builds and signs a request for one wrapped share.
func (s *SessionKey) NewFetchKeyRequest(requestID string, server KeyServerInfo, policyID string, predicateTx []byte, share WrappedShare) (*FetchKeyRequest, error) {
	dlg, err := s.issuer.IssueFetchKey(server.DID, policyID, s.ExpiresAt())
	if err != nil {
		return nil, fmt.Errorf("issue fetch-key delegation: %w", err)
	}
	encoded, err := ucan.FormatDelegation(dlg)
	if err != nil {
		return nil, fmt.Errorf("format delegation: %w", err)
	}
	req := &FetchKeyRequest{
		RequestID:   requestID,
		Certificate: s.cert,
		Delegation:  encoded,
		PredicateTx: predicateTx,
		ResponseKey: s.hpkePub,
		PolicyID:    policyID,
	}
	req.Share.Index = share.Index
	req.Share.Enc = share.Enc
	req.Share.Data = share.Share
	req.Signature = ed25519.Sign(s.requestKey, req.SigningPayload())
	return req, nil
}

// OpenResponse decrypts a share released by a key server.
func (s *SessionKey) OpenResponse(requestID string, resp *FetchKeyResponse) ([]byte, error) {
	return OpenWith(s.hpkeKey, ResponseInfo, resp.Enc, resp.Data, ResponseAAD(requestID, resp.Index))
}

// SessionAuthorizer creates sessions for a contract package.
type SessionAuthorizer struct {
	packageID string
	now       func() time.Time
	logger    *slog.Logger
}

// SessionOption configures a SessionAuthorizer.
type SessionOption func(*SessionAuthorizer)

// WithSessionClock replaces time.Now.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(a *SessionAuthorizer) { a.now = now }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(a *SessionAuthorizer) { a.logger = l }
}

// NewSessionAuthorizer creates a SessionAuthorizer.
func NewSessionAuthorizer(packageID string, opts ...SessionOption) *SessionAuthorizer {
	a := &SessionAuthorizer{
		packageID: packageID,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateSession asks signer to approve a new session for address. The TTL
// must be between one and thirty whole minutes.
func (a *SessionAuthorizer) CreateSession(ctx context.Context, address string, signer ledger.PersonalSigner, ttl time.Duration) (*SessionKey, error) {
	const op = "create session"
	addr, err := types.ParseAddress(address)
	if err != nil {
		return nil, types.NewError(types.CodeSessionCreation, op, "invalid address", err).With("address", address)
	}
	if ttl < MinSessionTTL || ttl > MaxSessionTTL || ttl%time.Minute != 0 {
		return nil, types.Errorf(types.CodeSessionCreation, op,
			"ttl %s must be whole minutes between %s and %s", ttl, MinSessionTTL, MaxSessionTTL).
			With("address", addr.String())
	}
	if signer == nil || !signer.Address().Equal(addr) {
		return nil, types.Errorf(types.CodeSessionCreation, op, "signer does not control the session address").
			With("address", addr.String())
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, types.NewError(types.CodeSessionCreation, op, "generate request key", err)
	}
	issuer, err := ucan.NewIssuer(priv)
	if err != nil {
		return nil, types.NewError(types.CodeSessionCreation, op, "create issuer", err)
	}
	hpkeKey, hpkePub, err := NewHPKEKeyPair()
	if err != nil {
		return nil, types.NewError(types.CodeSessionCreation, op, "generate response key", err)
	}

	cert := Certificate{
		Address:          addr,
		PackageID:        a.packageID,
		SessionDID:       issuer.DID(),
		SessionPublicKey: pub,
		CreatedAt:        a.now().UTC().Truncate(time.Second),
		TTLMinutes:       int(ttl / time.Minute),
	}
	sig, err := signer.SignPersonalMessage(ctx, cert.Message())
	if err != nil {
		return nil, types.NewError(types.CodeSessionCreation, op, "wallet declined to sign", err).
			With("address", addr.String())
	}
	if err := ledger.VerifyPersonalMessage(addr, cert.Message(), sig); err != nil {
		return nil, types.NewError(types.CodeSessionCreation, op, "wallet signature does not verify", err).
			With("address", addr.String())
	}
	cert.Signature = sig.Serialize()

	a.logger.Info("session created",
		"address", addr.Short(),
		"session", cert.SessionDID,
		"ttl_minutes", cert.TTLMinutes)

	return &SessionKey{
		cert:       cert,
		requestKey: priv,
		issuer:     issuer,
		hpkeKey:    hpkeKey,
		hpkePub:    hpkePub,
		now:        a.now,
	}, nil
}

// VerifyCertificate checks the wallet signature and that the session key in
// the certificate is the one named by its DID.
func VerifyCertificate(c *Certificate) error {
	sig, err := ledger.ParsePersonalSignature(c.Signature)
	if err != nil {
		return err
	}
	if err := ledger.VerifyPersonalMessage(c.Address, c.Message(), sig); err != nil {
		return err
	}
	did, err := ucan.DIDFromPublicKey(c.SessionPublicKey)
	if err != nil {
		return err
	}
	if did != c.SessionDID {
		return fmt.Errorf("session key does not match %s", c.SessionDID)
	}
	if c.TTLMinutes < 1 || c.TTLMinutes > int(MaxSessionTTL/time.Minute) {
		return fmt.Errorf("ttl %d minutes out of range", c.TTLMinutes)
	}
	return nil
}
