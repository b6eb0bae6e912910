package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/relves/proofvault/pkg/types"
)

// DefaultSettlingDelay is how long callers should wait after a grant or
// revoke before re-reading the record.
const DefaultSettlingDelay = 3 * time.Second

// AccessController mutates the approved-viewer set of a record. Only the
// owner's wallet can produce accepted transactions; the ledger enforces it.
type AccessController struct {
	records *RecordManager
	settle  time.Duration
	clock   Clock
	logger  *slog.Logger
}

// AccessOption configures an AccessController.
type AccessOption func(*AccessController)

// WithSettlingDelay overrides DefaultSettlingDelay.
func WithSettlingDelay(d time.Duration) AccessOption {
	return func(c *AccessController) { c.settle = d }
}

// WithAccessClock replaces the clock used for the settling delay.
func WithAccessClock(clock Clock) AccessOption {
	return func(c *AccessController) { c.clock = clock }
}

// WithAccessLogger sets the logger.
func WithAccessLogger(l *slog.Logger) AccessOption {
	return func(c *AccessController) { c.logger = l }
}

// NewAccessController creates an AccessController on top of records.
func NewAccessController(records *RecordManager, opts ...AccessOption) *AccessController {
	c := &AccessController{
		records: records,
		settle:  DefaultSettlingDelay,
		clock:   SystemClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SettlingDelay is the wait before a mutation is expected to be readable.
func (c *AccessController) SettlingDelay() time.Duration {
	return c.settle
}

// Grant adds viewer to the record's approved set. Granting an already
// approved viewer succeeds without change. durationEpochs is advisory.
func (c *AccessController) Grant(ctx context.Context, w Wallet, recordID, viewer string, durationEpochs uint64) (*SubmitResult, error) {
	id, addr, err := validateTarget(recordID, viewer)
	if err != nil {
		return nil, err
	}
	owner := w.Address()
	if snap, ok := c.records.Cached(id); ok {
		owner = snap.Owner
	}
	if addr.Equal(owner) {
		return nil, types.Errorf(types.CodeValidation, "grant access",
			"the owner cannot be an approved viewer").
			With("record", id).
			With("address", addr.String())
	}
	res, err := submit(ctx, w, GrantAccessTx(c.records.PackageID(), id, addr, durationEpochs), "grant access")
	if err != nil {
		return nil, withTarget(err, id, addr)
	}
	c.records.Forget(id)
	c.logger.Info("access granted",
		"record", id,
		"viewer", addr.Short(),
		"epochs", durationEpochs,
		"digest", res.Digest)
	return res, nil
}

// Revoke removes viewer from the approved set. Revoking a viewer that is not
// approved, the owner included, succeeds without change.
func (c *AccessController) Revoke(ctx context.Context, w Wallet, recordID, viewer string) (*SubmitResult, error) {
	id, addr, err := validateTarget(recordID, viewer)
	if err != nil {
		return nil, err
	}
	res, err := submit(ctx, w, RevokeAccessTx(c.records.PackageID(), id, addr), "revoke access")
	if err != nil {
		return nil, withTarget(err, id, addr)
	}
	c.records.Forget(id)
	c.logger.Info("access revoked",
		"record", id,
		"viewer", addr.Short(),
		"digest", res.Digest)
	return res, nil
}

// GrantAndConfirm grants, waits the settling delay and returns a fresh read.
func (c *AccessController) GrantAndConfirm(ctx context.Context, w Wallet, recordID, viewer string, durationEpochs uint64) (*types.ProofSnapshot, error) {
	if _, err := c.Grant(ctx, w, recordID, viewer, durationEpochs); err != nil {
		return nil, err
	}
	return c.settleAndQuery(ctx, recordID)
}

// RevokeAndConfirm revokes, waits the settling delay and returns a fresh read.
func (c *AccessController) RevokeAndConfirm(ctx context.Context, w Wallet, recordID, viewer string) (*types.ProofSnapshot, error) {
	if _, err := c.Revoke(ctx, w, recordID, viewer); err != nil {
		return nil, err
	}
	return c.settleAndQuery(ctx, recordID)
}

func (c *AccessController) settleAndQuery(ctx context.Context, recordID string) (*types.ProofSnapshot, error) {
	if c.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.settle):
		}
	}
	return c.records.Query(ctx, recordID)
}

func validateTarget(recordID, viewer string) (string, types.Address, error) {
	id, err := types.NormalizeObjectID(recordID)
	if err != nil {
		return "", "", err
	}
	addr, err := types.ParseAddress(viewer)
	if err != nil {
		return "", "", err
	}
	return id, addr, nil
}

func withTarget(err error, recordID string, viewer types.Address) error {
	if te, ok := err.(*types.Error); ok {
		te.With("record", recordID).With("viewer", viewer.String())
	}
	return err
}
