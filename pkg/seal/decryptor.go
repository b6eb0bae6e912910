package seal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sync/errgroup"

	"github.com/relves/proofvault/pkg/blob"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// DecryptorConfig configures a Decryptor.
type DecryptorConfig struct {
	PackageID string
	Store     blob.Store
	Servers   []KeyServer
	Logger    *slog.Logger
}

// Decryptor fetches encrypted objects and decrypts them with shares
// released by key servers.
type Decryptor struct {
	packageID string
	store     blob.Store
	servers   map[string]KeyServer
	zdec      *zstd.Decoder
	logger    *slog.Logger
}

// NewDecryptor creates a Decryptor.
func NewDecryptor(cfg DecryptorConfig) (*Decryptor, error) {
	if cfg.PackageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	servers := make(map[string]KeyServer, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers[s.Info().ObjectID] = s
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decryptor{
		packageID: cfg.PackageID,
		store:     cfg.Store,
		servers:   servers,
		zdec:      zdec,
		logger:    logger,
	}, nil
}

// Decrypt fetches blobID and decrypts it with shares released for policyID.
// The acting address comes from WithCaller, defaulting to the session's.
func (d *Decryptor) Decrypt(ctx context.Context, blobID, policyID string, session *SessionKey) ([]byte, error) {
	const op = "decrypt"
	if session == nil {
		return nil, types.Errorf(types.CodeSessionExpired, op, "no session")
	}
	caller, ok := CallerFrom(ctx)
	if !ok {
		caller = session.Address()
	}
	if session.IsExpired() {
		return nil, types.Errorf(types.CodeSessionExpired, op, "session expired at %s", session.ExpiresAt().Format("15:04:05")).
			With("address", session.Address().String())
	}
	if !caller.Equal(session.Address()) {
		return nil, types.Errorf(types.CodeSessionExpired, op, "session belongs to %s, not %s",
			session.Address().Short(), caller.Short()).
			With("address", caller.String())
	}
	if session.PackageID() != d.packageID {
		return nil, types.Errorf(types.CodeSessionExpired, op, "session is for package %s", session.PackageID())
	}
	if err := ValidatePolicyID(policyID); err != nil {
		return nil, err
	}
	policyID = strings.ToLower(policyID)

	data, err := d.store.Fetch(ctx, blobID)
	if err != nil {
		return nil, err
	}
	obj, err := UnmarshalEncryptedObject(data)
	if err != nil {
		return nil, types.NewError(types.CodeDecryption, op, "decode envelope", err).With("blob", blobID)
	}
	if !strings.EqualFold(obj.PolicyID, policyID) || obj.PackageID != d.packageID {
		return nil, types.Errorf(types.CodeDecryption, op, "object is sealed under %s/%s", obj.PackageID, obj.PolicyID).
			With("blob", blobID).
			With("policy", policyID)
	}

	approve, err := ledger.SealApproveTx(d.packageID, obj.PolicyID)
	if err != nil {
		return nil, err
	}
	predicate, err := approve.MarshalKind()
	if err != nil {
		return nil, types.NewError(types.CodeDecryption, op, "encode predicate", err)
	}

	shares, err := d.collectShares(ctx, session, obj, predicate)
	if err != nil {
		if te, ok := err.(*types.Error); ok {
			te.With("blob", blobID).With("address", caller.String())
		}
		return nil, err
	}

	dek, err := combineKey(shares, obj.Threshold, len(obj.Services), dataKeySize)
	if err != nil {
		return nil, types.NewError(types.CodeDecryption, op, "combine shares", err).With("blob", blobID)
	}
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, types.NewError(types.CodeDecryption, op, "create cipher", err)
	}
	compressed, err := aead.Open(nil, obj.Nonce, obj.Ciphertext, payloadAAD(obj.PackageID, obj.PolicyID))
	if err != nil {
		return nil, types.NewError(types.CodeDecryption, op, "open payload", err).With("blob", blobID)
	}
	plaintext, err := d.zdec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, types.NewError(types.CodeDecryption, op, "decompress payload", err).With("blob", blobID)
	}
	d.logger.Info("decrypted object", "blob", blobID, "address", caller.Short(), "bytes", len(plaintext))
	return plaintext, nil
}

// collectShares asks every key server in parallel and returns once
// threshold shares are in hand.
func (d *Decryptor) collectShares(ctx context.Context, session *SessionKey, obj *EncryptedObject, predicate []byte) (map[int][]byte, error) {
	const op = "decrypt"
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		shares = make(map[int][]byte, obj.Threshold)
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, wrapped := range obj.Services {
		server, ok := d.servers[wrapped.ObjectID]
		if !ok {
			mu.Lock()
			errs = append(errs, fmt.Errorf("no client for key server %s", wrapped.ObjectID))
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			share, err := d.fetchShare(gctx, session, server, obj.PolicyID, predicate, wrapped)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() == nil {
					errs = append(errs, err)
				}
				return nil
			}
			shares[wrapped.Index] = share
			if len(shares) >= obj.Threshold {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(shares) >= obj.Threshold {
		return shares, nil
	}
	if err := ctx.Err(); err != nil && len(errs) == 0 {
		return nil, types.NewError(types.CodeDecryption, op, "cancelled", err)
	}
	return nil, classifyShareErrors(op, errs, obj.Threshold, len(shares))
}

func (d *Decryptor) fetchShare(ctx context.Context, session *SessionKey, server KeyServer, policyID string, predicate []byte, wrapped WrappedShare) ([]byte, error) {
	requestID := uuid.NewString()
	req, err := session.NewFetchKeyRequest(requestID, server.Info(), policyID, predicate, wrapped)
	if err != nil {
		return nil, err
	}
	resp, err := server.FetchKey(ctx, req)
	if err != nil {
		d.logger.Warn("key server refused share",
			"server", wrapped.ObjectID,
			"request_id", requestID,
			"error", err)
		return nil, err
	}
	if resp.Index != wrapped.Index {
		return nil, fmt.Errorf("key server %s answered for share %d, asked %d", wrapped.ObjectID, resp.Index, wrapped.Index)
	}
	share, err := session.OpenResponse(requestID, resp)
	if err != nil {
		return nil, fmt.Errorf("open share from %s: %w", wrapped.ObjectID, err)
	}
	return share, nil
}

func classifyShareErrors(op string, errs []error, threshold, got int) error {
	joined := errors.Join(errs...)
	var denied, expired bool
	network := len(errs) > 0
	for _, err := range errs {
		var kse *KeyServerError
		if errors.As(err, &kse) {
			denied = denied || kse.Denied()
			expired = expired || kse.Expired()
		}
		network = network && errors.Is(err, types.ErrNetwork)
	}
	switch {
	case denied:
		return types.NewError(types.CodeAuthorization, op, "access denied by policy", joined)
	case expired:
		return types.NewError(types.CodeSessionExpired, op, "key servers rejected the session", joined)
	case network:
		return types.NewError(types.CodeNetwork, op, "key servers unreachable", joined)
	default:
		return types.NewError(types.CodeDecryption, op,
			fmt.Sprintf("recovered %d of %d required shares", got, threshold), joined)
	}
}
