// Package proof runs the end-to-end flows of the application: creating an
// encrypted Proof, sharing it, changing who may view it and viewing it.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/relves/proofvault/pkg/blob"
	"github.com/relves/proofvault/pkg/events"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/seal"
	"github.com/relves/proofvault/pkg/types"
)

// Blob roles reported in FileUploaded events.
const (
	RoleDocument = "document"
	RoleResult   = "result"
)

// Config wires a Service. Events and Logger are optional.
type Config struct {
	Encryptor *seal.Encryptor
	Decryptor *seal.Decryptor
	Blobs     blob.Store
	Records   *ledger.RecordManager
	Resolver  *ledger.Resolver
	Access    *ledger.AccessController
	Inferer   Inferer
	Events    *events.Bus
	Logger    *slog.Logger
}

// Service runs proof flows.
type Service struct {
	encryptor *seal.Encryptor
	decryptor *seal.Decryptor
	blobs     blob.Store
	records   *ledger.RecordManager
	resolver  *ledger.Resolver
	access    *ledger.AccessController
	inferer   Inferer
	events    *events.Bus
	logger    *slog.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Encryptor == nil:
		return nil, fmt.Errorf("encryptor is required")
	case cfg.Decryptor == nil:
		return nil, fmt.Errorf("decryptor is required")
	case cfg.Blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case cfg.Records == nil:
		return nil, fmt.Errorf("record manager is required")
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case cfg.Access == nil:
		return nil, fmt.Errorf("access controller is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		encryptor: cfg.Encryptor,
		decryptor: cfg.Decryptor,
		blobs:     cfg.Blobs,
		records:   cfg.Records,
		resolver:  cfg.Resolver,
		access:    cfg.Access,
		inferer:   cfg.Inferer,
		events:    cfg.Events,
		logger:    cfg.Logger,
	}, nil
}

// Created describes a new Proof. RecordID is empty until the mint
// transaction has been indexed.
type Created struct {
	Digest         string
	RecordID       string
	BlobID         string
	PolicyID       string
	ResultBlobID   string
	ResultPolicyID string
	Output         string
	Attestation    string
}

// Ref returns the reference used in share links.
func (c *Created) Ref() Ref {
	return Ref{Digest: c.Digest, RecordID: c.RecordID}
}

// CreateProof encrypts and stores document, runs inference over it, stores
// the encrypted result and mints a Proof owned by the wallet. When the mint
// succeeds but is not indexed in time the returned Created carries the
// digest and the error is an IndexingTimeout; the record id can be resolved
// later from the digest.
func (s *Service) CreateProof(ctx context.Context, w ledger.Wallet, document []byte) (*Created, error) {
	if s.inferer == nil {
		return nil, fmt.Errorf("create proof: no inferer configured")
	}
	owner := w.Address().String()

	blobID, policyID, err := s.sealAndStore(ctx, document, owner, RoleDocument)
	if err != nil {
		return nil, err
	}

	inf, err := s.inferer.Infer(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("create proof: %w", err)
	}

	resultBlobID, resultPolicyID, err := s.sealAndStore(ctx, []byte(inf.Output), owner, RoleResult)
	if err != nil {
		return nil, err
	}

	pw, err := s.records.Mint(ctx, w, ledger.MintParams{
		BlobID:         blobID,
		PolicyID:       policyID,
		ResultBlobID:   resultBlobID,
		ResultPolicyID: resultPolicyID,
		ProofHash:      inf.Attestation,
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(events.TopicProofMinted, events.ProofMinted{Digest: pw.Digest, Owner: owner})

	created := &Created{
		Digest:         pw.Digest,
		BlobID:         blobID,
		PolicyID:       policyID,
		ResultBlobID:   resultBlobID,
		ResultPolicyID: resultPolicyID,
		Output:         inf.Output,
		Attestation:    inf.Attestation,
	}

	recordID, err := s.resolver.ResolveStrict(ctx, pw)
	if err != nil {
		s.logger.Warn("proof minted but not resolved", "digest", pw.Digest, "error", err)
		return created, err
	}
	created.RecordID = recordID
	s.events.Publish(events.TopicProofIndexed, events.ProofIndexed{Digest: pw.Digest, RecordID: recordID})
	return created, nil
}

func (s *Service) sealAndStore(ctx context.Context, plaintext []byte, owner, role string) (string, string, error) {
	ciphertext, policyID, err := s.encryptor.Encrypt(ctx, plaintext, owner)
	if err != nil {
		return "", "", err
	}
	blobID, err := s.blobs.Upload(ctx, ciphertext)
	if err != nil {
		return "", "", err
	}
	s.events.Publish(events.TopicFileUploaded, events.FileUploaded{
		BlobID:   blobID,
		PolicyID: policyID,
		Size:     len(ciphertext),
		Role:     role,
	})
	s.logger.Info("encrypted blob stored", "role", role, "blob", blobID, "bytes", len(ciphertext))
	return blobID, policyID, nil
}

// ResolveRef returns the record id ref points at, resolving a digest with
// the bounded retry policy.
func (s *Service) ResolveRef(ctx context.Context, ref Ref) (string, error) {
	if ref.RecordID != "" {
		return types.NormalizeObjectID(ref.RecordID)
	}
	if ref.Digest == "" {
		return "", types.Errorf(types.CodeValidation, "resolve proof", "reference has neither digest nor record id")
	}
	return s.resolver.ResolveStrict(ctx, ledger.PendingWrite{Digest: ref.Digest})
}

// Lookup resolves ref and reads the record.
func (s *Service) Lookup(ctx context.Context, ref Ref) (*types.ProofSnapshot, error) {
	recordID, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	snap, err := s.records.Query(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, types.Errorf(types.CodeResolution, "lookup proof", "proof not found").With("record", recordID)
	}
	return snap, nil
}

// View is a decrypted Proof.
type View struct {
	Proof    *types.ProofSnapshot
	Document []byte
	Result   []byte
}

// ViewProof decrypts the document and result of the Proof ref points at.
// Callers that are neither owner nor approved viewer fail locally with an
// Authorization error listing the approved viewers, before any key server
// is contacted. The key servers still enforce the same rule.
func (s *Service) ViewProof(ctx context.Context, ref Ref, session *seal.SessionKey) (*View, error) {
	const op = "view proof"
	if session == nil {
		return nil, types.Errorf(types.CodeSessionExpired, op, "create a session first")
	}
	if session.IsExpired() {
		return nil, types.Errorf(types.CodeSessionExpired, op, "session expired").
			With("address", session.Address().String())
	}

	snap, err := s.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	caller := session.Address()
	if !snap.CanView(caller) {
		return nil, accessDenied(op, snap, caller)
	}
	for _, id := range []string{snap.BlobID, snap.ResultBlobID} {
		if err := blob.ValidateID(id); err != nil {
			return nil, err
		}
	}

	ctx = seal.WithCaller(ctx, caller)
	view := &View{Proof: snap}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		view.Document, err = s.decryptor.Decrypt(gctx, snap.BlobID, snap.PolicyID, session)
		return err
	})
	g.Go(func() error {
		var err error
		view.Result, err = s.decryptor.Decrypt(gctx, snap.ResultBlobID, snap.ResultPolicyID, session)
		return err
	})
	if err := g.Wait(); err != nil {
		var te *types.Error
		if errors.As(err, &te) {
			te.With("record", snap.ObjectID)
		}
		return nil, err
	}
	s.logger.Info("proof viewed", "record", snap.ObjectID, "address", caller.Short())
	return view, nil
}

func accessDenied(op string, snap *types.ProofSnapshot, caller types.Address) error {
	viewers := "None"
	if len(snap.ApprovedViewers) > 0 {
		list := make([]string, len(snap.ApprovedViewers))
		for i, v := range snap.ApprovedViewers {
			list[i] = v.String()
		}
		viewers = strings.Join(list, ", ")
	}
	return types.Errorf(types.CodeAuthorization, op,
		"%s is not the owner or an approved viewer; the owner must grant access. Current approved viewers: %s",
		caller.String(), viewers).
		With("record", snap.ObjectID).
		With("address", caller.String())
}

// GrantAccess approves viewer on the record and publishes AccessGranted.
func (s *Service) GrantAccess(ctx context.Context, w ledger.Wallet, recordID, viewer string, durationEpochs uint64) (*ledger.SubmitResult, error) {
	res, err := s.access.Grant(ctx, w, recordID, viewer, durationEpochs)
	if err != nil {
		return nil, err
	}
	s.events.Publish(events.TopicAccessGranted, events.AccessChanged{
		RecordID: recordID,
		Viewer:   strings.ToLower(viewer),
		Digest:   res.Digest,
	})
	return res, nil
}

// RevokeAccess removes viewer from the record and publishes AccessRevoked.
// Ciphertext is never re-encrypted: revocation takes effect at the key
// servers, whose predicate reads the current approved set.
func (s *Service) RevokeAccess(ctx context.Context, w ledger.Wallet, recordID, viewer string) (*ledger.SubmitResult, error) {
	res, err := s.access.Revoke(ctx, w, recordID, viewer)
	if err != nil {
		return nil, err
	}
	s.events.Publish(events.TopicAccessRevoked, events.AccessChanged{
		RecordID: recordID,
		Viewer:   strings.ToLower(viewer),
		Digest:   res.Digest,
	})
	return res, nil
}
