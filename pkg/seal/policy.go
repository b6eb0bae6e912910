// Package seal encrypts documents so that only identities approved by an
// on-ledger predicate can decrypt them, with the data key split across a
// set of key servers.
package seal

import (
	"context"
	"strings"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// PolicyHexLen is the number of hex characters of a derived policy id.
const PolicyHexLen = types.PolicyHexLen

// DefaultThreshold is the number of key-server shares needed to decrypt.
const DefaultThreshold = 1

// PolicyID derives the policy identifier for owner: 0x followed by the first
// 32 hex characters of the address. The same owner always gets the same id.
func PolicyID(owner string) (string, error) {
	addr, err := types.ParseAddress(owner)
	if err != nil {
		return "", err
	}
	return addr.PolicyID(), nil
}

// ValidatePolicyID rejects empty, placeholder and non-hex policy ids.
func ValidatePolicyID(id string) error {
	switch strings.TrimSpace(id) {
	case "", "undefined", "null":
		return types.Errorf(types.CodeInvalidIdentifier, "validate policy id",
			"missing policy id").With("policy", id)
	}
	if _, err := ledger.PolicyBytes(id); err != nil {
		return err
	}
	return nil
}

type callerKey struct{}

// WithCaller attaches the address performing a decryption to ctx.
func WithCaller(ctx context.Context, addr types.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the address set by WithCaller.
func CallerFrom(ctx context.Context) (types.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(types.Address)
	return addr, ok && addr != ""
}
