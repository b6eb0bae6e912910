package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/relves/proofvault/internal/config"
	"github.com/relves/proofvault/pkg/blob"
	"github.com/relves/proofvault/pkg/events"
	"github.com/relves/proofvault/pkg/keyserver"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/ledger/jsonrpc"
	"github.com/relves/proofvault/pkg/proof"
	"github.com/relves/proofvault/pkg/seal"
	"github.com/relves/proofvault/pkg/types"
)

const demoDocument = "Quarterly statement: balance 1,250.00, no outstanding disputes."

// demo walks a proof through its lifecycle against a running node: create,
// share, view as owner, deny a stranger, grant, view as viewer, revoke and
// deny again.
func demo(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:"+cfg.Port, "node base URL")
	file := fs.String("file", "", "document to encrypt (default: a built-in sample)")
	epochs := fs.Uint64("epochs", 30, "advisory grant duration in epochs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	base := strings.TrimRight(*server, "/")

	document := []byte(demoDocument)
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		document = data
	}

	rpc, err := jsonrpc.NewClient(base+"/rpc", nil)
	if err != nil {
		return err
	}
	owner, err := newRemoteWallet(rpc)
	if err != nil {
		return err
	}
	viewer, err := newRemoteWallet(rpc)
	if err != nil {
		return err
	}

	bus := events.New(events.WithLogger(logger))
	svc, access, err := newService(ctx, cfg, base, rpc, bus, logger)
	if err != nil {
		return err
	}
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range sub {
			logger.Debug("event", "topic", ev.Topic, "id", ev.ID, "payload", ev.Payload)
		}
	}()

	fmt.Printf("Owner:  %s\n", owner.Address())
	fmt.Printf("Viewer: %s\n", viewer.Address())

	created, err := svc.CreateProof(ctx, owner, document)
	if err != nil {
		return fmt.Errorf("create proof: %w", err)
	}
	link, err := proof.ShareLink(base, created.Ref())
	if err != nil {
		return err
	}
	fmt.Printf("Proof %s minted in %s\n", created.RecordID, created.Digest)
	fmt.Printf("Share link: %s\n", link)

	ref, err := proof.ParseShareLink(link)
	if err != nil {
		return err
	}
	auth := seal.NewSessionAuthorizer(cfg.PackageID, seal.WithSessionLogger(logger))
	ownerSession, err := auth.CreateSession(ctx, owner.Address().String(), owner, cfg.Session.TTL)
	if err != nil {
		return err
	}
	viewerSession, err := auth.CreateSession(ctx, viewer.Address().String(), viewer, cfg.Session.TTL)
	if err != nil {
		return err
	}

	view, err := svc.ViewProof(ctx, ref, ownerSession)
	if err != nil {
		return fmt.Errorf("owner view: %w", err)
	}
	fmt.Printf("Owner sees result: %s\n", view.Result)

	if err := expectDenied(ctx, svc, ref, viewerSession); err != nil {
		return err
	}

	if _, err := svc.GrantAccess(ctx, owner, created.RecordID, viewer.Address().String(), *epochs); err != nil {
		return err
	}
	if err := settle(ctx, access.SettlingDelay()); err != nil {
		return err
	}
	view, err = svc.ViewProof(ctx, ref, viewerSession)
	if err != nil {
		return fmt.Errorf("viewer view after grant: %w", err)
	}
	fmt.Printf("Viewer sees document (%d bytes), approved viewers: %v\n", len(view.Document), view.Proof.ApprovedViewers)

	if _, err := svc.RevokeAccess(ctx, owner, created.RecordID, viewer.Address().String()); err != nil {
		return err
	}
	if err := settle(ctx, access.SettlingDelay()); err != nil {
		return err
	}
	if err := expectDenied(ctx, svc, ref, viewerSession); err != nil {
		return err
	}
	fmt.Println("Demo complete")
	return nil
}

// newService assembles the client side of the protocol against a node at
// base.
func newService(ctx context.Context, cfg *config.Config, base string, rpc *jsonrpc.Client, bus *events.Bus, logger *slog.Logger) (*proof.Service, *ledger.AccessController, error) {
	ksURL := cfg.KeyServer.URL
	if ksURL == "" {
		ksURL = base
	}
	ks, err := keyserver.Dial(ctx, ksURL, nil)
	if err != nil {
		return nil, nil, err
	}

	publisher := cfg.Blob.Publisher
	if publisher == "" {
		publisher = base
	}
	remote, err := blob.NewHTTPStore(blob.HTTPConfig{
		Publisher: publisher,
		Readers:   cfg.Blob.Aggregators,
		Epochs:    cfg.Blob.Epochs,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	blobs, err := blob.NewCachedStore(remote, cfg.Blob.CacheSize)
	if err != nil {
		return nil, nil, err
	}

	enc, err := seal.NewEncryptor(seal.EncryptorConfig{
		PackageID: cfg.PackageID,
		Servers:   []seal.KeyServerInfo{ks.Info()},
		Threshold: cfg.KeyServer.Threshold,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	dec, err := seal.NewDecryptor(seal.DecryptorConfig{
		PackageID: cfg.PackageID,
		Store:     blobs,
		Servers:   []seal.KeyServer{ks},
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}

	records, err := ledger.NewRecordManager(cfg.PackageID, rpc,
		ledger.WithLogger(logger),
		ledger.WithSnapshotCacheSize(cfg.Ledger.SnapshotCache),
	)
	if err != nil {
		return nil, nil, err
	}
	resolver := ledger.NewResolver(cfg.PackageID, rpc,
		ledger.WithBackoff(ledger.BackoffPolicy{
			Attempts:  cfg.Ledger.ResolveAttempts,
			Interval:  cfg.Ledger.ResolveInterval,
			Retryable: ledger.IsNotIndexed,
		}),
		ledger.WithResolverLogger(logger),
	)
	access := ledger.NewAccessController(records,
		ledger.WithSettlingDelay(cfg.Ledger.SettlingDelay),
		ledger.WithAccessLogger(logger),
	)

	var inferer proof.Inferer = proof.InferFunc(localInference)
	if cfg.InferenceURL != "" {
		if inferer, err = proof.NewHTTPInferer(cfg.InferenceURL, nil); err != nil {
			return nil, nil, err
		}
	}

	svc, err := proof.New(proof.Config{
		Encryptor: enc,
		Decryptor: dec,
		Blobs:     blobs,
		Records:   records,
		Resolver:  resolver,
		Access:    access,
		Inferer:   inferer,
		Events:    bus,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, access, nil
}

func newRemoteWallet(rpc *jsonrpc.Client) (*jsonrpc.Wallet, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return jsonrpc.NewWallet(rpc, priv)
}

// localInference stands in for an inference endpoint when none is
// configured.
func localInference(ctx context.Context, document []byte) (*proof.Inference, error) {
	sum := blake2b.Sum256(document)
	return &proof.Inference{
		Output:      fmt.Sprintf("%d bytes, %d words", len(document), len(strings.Fields(string(document)))),
		Attestation: hex.EncodeToString(sum[:]),
	}, nil
}

func expectDenied(ctx context.Context, svc *proof.Service, ref proof.Ref, session *seal.SessionKey) error {
	_, err := svc.ViewProof(ctx, ref, session)
	if !errors.Is(err, types.ErrAuthorization) {
		return fmt.Errorf("expected access denied, got %v", err)
	}
	fmt.Printf("Viewer denied: %v\n", err)
	return nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
