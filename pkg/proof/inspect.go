package proof

import (
	"context"
	"strings"
	"time"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// Inspection summarizes a transaction for display.
type Inspection struct {
	Digest    string
	Sender    types.Address
	Status    string
	Error     string
	Timestamp time.Time
	Changes   []ledger.ObjectChange
	// ProofIDs are the Proof records created by the transaction.
	ProofIDs []string
}

// Inspect reads a single transaction without retrying.
func (s *Service) Inspect(ctx context.Context, digest string) (*Inspection, error) {
	const op = "inspect transaction"
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return nil, types.Errorf(types.CodeValidation, op, "missing transaction digest")
	}
	tb, err := s.records.Reader().GetTransactionBlock(ctx, digest)
	if ledger.IsNotIndexed(err) {
		return nil, types.NewError(types.CodeIndexingTimeout, op, "transaction not indexed yet", err).With("digest", digest)
	}
	if err != nil {
		return nil, types.NewError(types.CodeNetwork, op, "get transaction", err).With("digest", digest)
	}

	in := &Inspection{
		Digest:   tb.Digest,
		Sender:   tb.Sender,
		Status:   tb.Status,
		Error:    tb.Error,
		Changes:  tb.ObjectChanges,
		ProofIDs: tb.Created(types.ProofType(s.records.PackageID())),
	}
	if tb.TimestampMs > 0 {
		in.Timestamp = time.UnixMilli(tb.TimestampMs).UTC()
	}
	return in, nil
}
