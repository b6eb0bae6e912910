package seal

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/relves/proofvault/pkg/types"
)

// MaxPlaintextSize bounds a single encrypted document.
const MaxPlaintextSize = 64 << 20

const dataKeySize = chacha20poly1305.KeySize

// EncryptorConfig configures an Encryptor.
type EncryptorConfig struct {
	PackageID string
	Servers   []KeyServerInfo
	// Threshold defaults to DefaultThreshold.
	Threshold int
	Logger    *slog.Logger
}

// Encryptor produces policy-bound encrypted objects.
type Encryptor struct {
	packageID string
	servers   []KeyServerInfo
	threshold int
	zenc      *zstd.Encoder
	logger    *slog.Logger
}

// NewEncryptor validates cfg and creates an Encryptor.
func NewEncryptor(cfg EncryptorConfig) (*Encryptor, error) {
	if cfg.PackageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if err := checkThreshold(cfg.Threshold, len(cfg.Servers)); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s.ObjectID == "" || len(s.PublicKey) == 0 {
			return nil, fmt.Errorf("key server %q has no object id or public key", s.ObjectID)
		}
		if seen[s.ObjectID] {
			return nil, fmt.Errorf("duplicate key server %s", s.ObjectID)
		}
		seen[s.ObjectID] = true
	}
	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Encryptor{
		packageID: cfg.PackageID,
		servers:   append([]KeyServerInfo(nil), cfg.Servers...),
		threshold: cfg.Threshold,
		zenc:      zenc,
		logger:    logger,
	}, nil
}

// Threshold returns the number of shares needed to decrypt.
func (e *Encryptor) Threshold() int {
	return e.threshold
}

// Encrypt seals plaintext under the policy derived from owner and returns
// the encoded EncryptedObject with its policy id.
func (e *Encryptor) Encrypt(ctx context.Context, plaintext []byte, owner string) ([]byte, string, error) {
	policyID, err := PolicyID(owner)
	if err != nil {
		return nil, "", types.NewError(types.CodeEncryption, "encrypt", "derive policy", err).With("address", owner)
	}
	obj, err := e.EncryptForPolicy(ctx, plaintext, policyID)
	if err != nil {
		return nil, "", err
	}
	data, err := obj.Marshal()
	if err != nil {
		return nil, "", types.NewError(types.CodeEncryption, "encrypt", "encode envelope", err)
	}
	return data, policyID, nil
}

// EncryptForPolicy seals plaintext under an explicit policy id.
func (e *Encryptor) EncryptForPolicy(ctx context.Context, plaintext []byte, policyID string) (*EncryptedObject, error) {
	if err := ValidatePolicyID(policyID); err != nil {
		return nil, types.NewError(types.CodeEncryption, "encrypt", "invalid policy", err).With("policy", policyID)
	}
	policyID = strings.ToLower(policyID)
	if len(plaintext) > MaxPlaintextSize {
		return nil, types.Errorf(types.CodeEncryption, "encrypt",
			"plaintext is %d bytes, limit is %d", len(plaintext), MaxPlaintextSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dek := make([]byte, dataKeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, types.NewError(types.CodeEncryption, "encrypt", "generate data key", err)
	}
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, types.NewError(types.CodeEncryption, "encrypt", "create cipher", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, types.NewError(types.CodeEncryption, "encrypt", "generate nonce", err)
	}
	compressed := e.zenc.EncodeAll(plaintext, nil)
	ct := aead.Seal(nil, nonce, compressed, payloadAAD(e.packageID, policyID))

	shares, err := splitKey(dek, e.threshold, len(e.servers))
	if err != nil {
		return nil, types.NewError(types.CodeEncryption, "encrypt", "split data key", err)
	}
	obj := &EncryptedObject{
		Version:    EnvelopeVersion,
		PackageID:  e.packageID,
		PolicyID:   policyID,
		Threshold:  e.threshold,
		Nonce:      nonce,
		Ciphertext: ct,
	}
	for i, srv := range e.servers {
		enc, wrapped, err := SealTo(srv.PublicKey, ShareInfo, ShareAAD(e.packageID, policyID, i), shares[i])
		if err != nil {
			return nil, types.NewError(types.CodeEncryption, "encrypt", "wrap share", err).With("server", srv.ObjectID)
		}
		obj.Services = append(obj.Services, WrappedShare{ObjectID: srv.ObjectID, Index: i, Enc: enc, Share: wrapped})
	}

	e.logger.Debug("encrypted object",
		"policy", policyID,
		"plaintext_bytes", len(plaintext),
		"ciphertext_bytes", len(ct),
		"servers", len(e.servers),
		"threshold", e.threshold)
	return obj, nil
}

func payloadAAD(packageID, policyID string) []byte {
	return []byte(packageID + "|" + policyID)
}
