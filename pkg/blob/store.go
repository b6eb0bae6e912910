// Package blob stores ciphertext in content-addressed blob storage.
//
// Identifiers are derived from content: uploading identical bytes twice
// yields the same identifier.
package blob

import (
	"context"
	"strings"

	"github.com/relves/proofvault/pkg/types"
)

// Store uploads and fetches immutable blobs.
type Store interface {
	// Upload stores data and returns its content identifier.
	Upload(ctx context.Context, data []byte) (string, error)

	// Fetch retrieves the blob stored under id.
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// ValidateID rejects identifiers that can never name a blob: empty strings
// and the "undefined" placeholder that leaks from loosely typed callers.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed == "undefined" || trimmed == "null" {
		return types.Errorf(types.CodeInvalidIdentifier, "validate blob id",
			"invalid blob id %q", id).With("blob", id)
	}
	return nil
}
