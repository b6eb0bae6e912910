// Package keyserver is a key server that releases data-key shares to
// sessions approved by the seal_approve predicate. It is the counterpart of
// seal.Decryptor and is used by the local devnet and tests.
package keyserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudflare/circl/kem"

	"github.com/relves/proofvault/pkg/capabilities"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/seal"
	"github.com/relves/proofvault/pkg/types"
	"github.com/relves/proofvault/pkg/ucan"
)

// Config configures a Server.
type Config struct {
	ObjectID  string
	PackageID string
	URL       string
	// IdentityKey signs nothing; its did:key is the UCAN audience.
	IdentityKey ed25519.PrivateKey
	// ShareKey is the HPKE key shares are wrapped to. Generated when nil.
	ShareKey  kem.PrivateKey
	Inspector ledger.Inspector
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server implements seal.KeyServer in process.
type Server struct {
	info      seal.KeyServerInfo
	packageID string
	shareKey  kem.PrivateKey
	inspector ledger.Inspector
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.ObjectID == "" || cfg.PackageID == "" {
		return nil, fmt.Errorf("object id and package id are required")
	}
	if cfg.Inspector == nil {
		return nil, fmt.Errorf("predicate inspector is required")
	}
	if cfg.IdentityKey == nil {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		cfg.IdentityKey = priv
	}
	identity, err := ucan.NewIssuer(cfg.IdentityKey)
	if err != nil {
		return nil, err
	}
	if cfg.ShareKey == nil {
		if cfg.ShareKey, _, err = seal.NewHPKEKeyPair(); err != nil {
			return nil, err
		}
	}
	pub, err := seal.HPKEPublicKey(cfg.ShareKey)
	if err != nil {
		return nil, fmt.Errorf("marshal share key: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		info: seal.KeyServerInfo{
			ObjectID:  cfg.ObjectID,
			DID:       identity.DID(),
			URL:       cfg.URL,
			PublicKey: pub,
		},
		packageID: cfg.PackageID,
		shareKey:  cfg.ShareKey,
		inspector: cfg.Inspector,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// Info describes the server.
func (s *Server) Info() seal.KeyServerInfo {
	return s.info
}

// FetchKey validates req end to end and reseals the requested share to the
// session's response key.
func (s *Server) FetchKey(ctx context.Context, req *seal.FetchKeyRequest) (*seal.FetchKeyResponse, error) {
	cert := &req.Certificate
	log := s.logger.With("request_id", req.RequestID, "address", cert.Address.Short(), "policy", req.PolicyID)

	if err := seal.VerifyCertificate(cert); err != nil {
		return nil, s.fail(log, capabilities.FailureInvalidCertificate, err.Error())
	}
	if cert.PackageID != s.packageID {
		return nil, s.fail(log, capabilities.FailureInvalidCertificate,
			fmt.Sprintf("certificate is for package %s", cert.PackageID))
	}
	now := s.now()
	if !now.Before(cert.ExpiresAt()) {
		return nil, s.fail(log, capabilities.FailureSessionExpired,
			fmt.Sprintf("session expired at %s", cert.ExpiresAt().Format(time.RFC3339)))
	}
	if !req.VerifySignature() {
		return nil, s.fail(log, capabilities.FailureInvalidRequest, "request signature does not verify")
	}

	dlg, err := ucan.ParseDelegation(req.Delegation)
	if err != nil {
		return nil, s.fail(log, capabilities.FailureInvalidDelegation, err.Error())
	}
	if err := ucan.ValidateFetchKey(dlg, ucan.FetchKeyExpectations{
		SessionDID: cert.SessionDID,
		ServiceDID: s.info.DID,
		PolicyID:   req.PolicyID,
		NotAfter:   cert.ExpiresAt(),
		Now:        now,
	}); err != nil {
		var de *ucan.DelegationError
		if errors.As(err, &de) && de.Code == ucan.ErrCodeDelegationExpired {
			return nil, s.fail(log, capabilities.FailureSessionExpired, err.Error())
		}
		return nil, s.fail(log, capabilities.FailureInvalidDelegation, err.Error())
	}

	tx, err := s.checkPredicate(req)
	if err != nil {
		return nil, s.fail(log, capabilities.FailureInvalidRequest, err.Error())
	}
	if err := s.inspector.DevInspect(ctx, cert.Address, tx); err != nil {
		return nil, s.fail(log, capabilities.FailureNoAccess, err.Error())
	}

	share, err := seal.OpenWith(s.shareKey, seal.ShareInfo, req.Share.Enc, req.Share.Data,
		seal.ShareAAD(s.packageID, req.PolicyID, req.Share.Index))
	if err != nil {
		return nil, s.fail(log, capabilities.FailureUnknownShare, "share was not wrapped to this server for this policy")
	}
	enc, sealed, err := seal.SealTo(req.ResponseKey, seal.ResponseInfo, seal.ResponseAAD(req.RequestID, req.Share.Index), share)
	if err != nil {
		return nil, s.fail(log, capabilities.FailureInvalidRequest, err.Error())
	}

	log.Info("share released", "index", req.Share.Index)
	return &seal.FetchKeyResponse{
		ObjectID: s.info.ObjectID,
		Index:    req.Share.Index,
		Enc:      enc,
		Data:     sealed,
	}, nil
}

// checkPredicate requires exactly one seal_approve call on this package for
// the requested policy.
func (s *Server) checkPredicate(req *seal.FetchKeyRequest) (*ledger.Transaction, error) {
	tx, err := ledger.UnmarshalKind(req.PredicateTx)
	if err != nil {
		return nil, err
	}
	if len(tx.Calls) != 1 {
		return nil, fmt.Errorf("predicate must contain one call, got %d", len(tx.Calls))
	}
	call := tx.Calls[0]
	if call.Target != types.Target(s.packageID, types.ContractSealApprove) {
		return nil, fmt.Errorf("predicate calls %s", call.Target)
	}
	want, err := ledger.PolicyBytes(req.PolicyID)
	if err != nil {
		return nil, err
	}
	if len(call.Args) != 1 || call.Args[0].Kind != ledger.ArgBytes || !bytes.Equal(call.Args[0].Bytes, want) {
		return nil, fmt.Errorf("predicate policy does not match %s", req.PolicyID)
	}
	return tx, nil
}

func (s *Server) fail(log *slog.Logger, name, message string) error {
	log.Warn("fetch key refused", "reason", name, "detail", message)
	return &seal.KeyServerError{Server: s.info.ObjectID, Name: name, Message: message}
}
