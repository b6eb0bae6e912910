package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cloudflare/circl/kem"
	"golang.org/x/crypto/blake2b"

	"github.com/relves/proofvault/internal/config"
	"github.com/relves/proofvault/internal/devnet"
	"github.com/relves/proofvault/internal/storage/sqlite"
	"github.com/relves/proofvault/pkg/blob"
	"github.com/relves/proofvault/pkg/keyserver"
	"github.com/relves/proofvault/pkg/seal"
	"github.com/relves/proofvault/pkg/types"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-config file] <serve|demo> [flags]\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", os.Getenv("PROOFVAULT_CONFIG"), "path to a YAML config file")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cmd := "serve"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	ctx := context.Background()
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "demo":
		err = demo(ctx, cfg, logger, flag.Args()[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// serve runs a single-node devnet: the ledger JSON-RPC endpoint, a blob
// store with its upload relay and a key server evaluating seal_approve
// against the local ledger.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	priv, ephemeral, err := cfg.IdentityKey()
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}

	ledgerStore, err := sqlite.OpenLedgerStore(cfg.DataPath, cfg.Network)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()
	chain, err := devnet.New(ctx, ledgerStore, cfg.PackageID,
		devnet.WithIndexingLag(cfg.Ledger.IndexingLag),
		devnet.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open devnet ledger: %w", err)
	}

	blobs, err := blob.OpenBadgerStore(filepath.Join(cfg.DataPath, "blobs"))
	if err != nil {
		return err
	}
	defer blobs.Close()

	shareKey, err := deriveShareKey(priv)
	if err != nil {
		return err
	}
	ks, err := keyserver.New(keyserver.Config{
		ObjectID:    cfg.KeyServer.ObjectID,
		PackageID:   cfg.PackageID,
		URL:         cfg.KeyServer.URL,
		IdentityKey: priv,
		ShareKey:    shareKey,
		Inspector:   chain,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create key server: %w", err)
	}

	checkpoints, err := devnet.NewCheckpointSigner(priv, "proofvault/"+cfg.Network)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	devnet.NewRPCHandler(chain, logger, devnet.WithCheckpointSigner(checkpoints)).Register(mux)
	blob.NewHandler(blobs, logger).Register(mux)
	keyserver.NewHTTPHandler(ks, logger).Register(mux)
	if len(cfg.Blob.RelayPublishers) > 0 {
		mux.Handle("POST /api/blob-upload", blob.NewRelayHandler(cfg.Blob.RelayPublishers, nil, logger))
	}

	size, root, err := chain.Checkpoint()
	if err != nil {
		return err
	}
	addr := ":" + cfg.Port
	pub := priv.Public().(ed25519.PublicKey)

	fmt.Println("===================================")
	fmt.Println("PROOFVAULT Devnet Startup")
	fmt.Println("===================================")
	fmt.Printf("Network: %s\n", cfg.Network)
	fmt.Printf("Package: %s\n", cfg.PackageID)
	fmt.Printf("Node Address: %s\n", types.AddressFromPublicKey(pub))
	fmt.Printf("Key Server: %s (%s)\n", ks.Info().ObjectID, ks.Info().DID)
	if ephemeral {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	} else {
		fmt.Println("Key Source: configured private key")
	}
	fmt.Printf("Ledger: %d transactions, root %s\n", size, hex.EncodeToString(root))
	fmt.Printf("Checkpoint Key: %s\n", checkpoints.VerifierKey())
	fmt.Printf("Data Path: %s\n", cfg.DataPath)
	fmt.Println()
	fmt.Println("Ledger JSON-RPC:")
	fmt.Printf("  POST http://localhost:%s/rpc\n", cfg.Port)
	fmt.Printf("  GET  http://localhost:%s/checkpoint\n", cfg.Port)
	fmt.Println()
	fmt.Println("Blob Store:")
	fmt.Printf("  PUT  http://localhost:%s/v1/blobs\n", cfg.Port)
	fmt.Printf("  GET  http://localhost:%s/v1/blobs/{blobID}\n", cfg.Port)
	if len(cfg.Blob.RelayPublishers) > 0 {
		fmt.Printf("  POST http://localhost:%s/api/blob-upload\n", cfg.Port)
	}
	fmt.Println()
	fmt.Println("Key Server:")
	fmt.Printf("  GET  http://localhost:%s/v1/service\n", cfg.Port)
	fmt.Printf("  POST http://localhost:%s/v1/fetch_key\n", cfg.Port)

	return http.ListenAndServe(addr, mux)
}

// deriveShareKey derives the key server's HPKE key from the node identity
// so shares wrapped before a restart stay readable.
func deriveShareKey(priv ed25519.PrivateKey) (kem.PrivateKey, error) {
	seed := blake2b.Sum256(append([]byte(seal.ShareInfo), priv.Seed()...))
	return seal.UnmarshalHPKEPrivateKey(seed[:])
}
