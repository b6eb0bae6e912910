package ledger

import (
	"context"
	"log/slog"

	"github.com/relves/proofvault/pkg/types"
)

// Resolver maps a pending write to the record it created, tolerating the gap
// between submission and indexing.
type Resolver struct {
	packageID string
	reader    Reader
	policy    BackoffPolicy
	clock     Clock
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBackoff replaces the retry policy.
func WithBackoff(p BackoffPolicy) ResolverOption {
	return func(r *Resolver) { r.policy = p.normalized() }
}

// WithClock replaces the clock used between attempts.
func WithClock(c Clock) ResolverOption {
	return func(r *Resolver) { r.clock = c }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver with the default backoff.
func NewResolver(packageID string, reader Reader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		packageID: packageID,
		reader:    reader,
		policy:    DefaultBackoff(),
		clock:     SystemClock,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the active backoff policy.
func (r *Resolver) Policy() BackoffPolicy {
	return r.policy
}

// Resolve returns the Proof object created by pw. found is false when the
// retry ceiling was reached before the transaction was indexed, or when the
// transaction created no Proof. Neither case is an error: the write may
// still land and can be resolved again later. Errors that are not indexing
// lag abort immediately with a Resolution error.
func (r *Resolver) Resolve(ctx context.Context, pw PendingWrite) (string, bool, error) {
	tb, err := r.fetch(ctx, pw.Digest)
	if err != nil || tb == nil {
		return "", false, err
	}
	if tb.Status == StatusFailure {
		return "", false, types.Errorf(types.CodeResolution, "resolve",
			"transaction failed: %s", tb.Error).With("digest", pw.Digest)
	}
	ids := tb.Created(types.ProofType(r.packageID))
	if len(ids) == 0 {
		r.logger.Warn("transaction created no proof", "digest", pw.Digest)
		return "", false, nil
	}
	r.logger.Info("proof indexed", "digest", pw.Digest, "record", ids[0])
	return ids[0], true, nil
}

// ResolveStrict is Resolve with an IndexingTimeout error in place of a
// not-found result.
func (r *Resolver) ResolveStrict(ctx context.Context, pw PendingWrite) (string, error) {
	id, found, err := r.Resolve(ctx, pw)
	if err != nil {
		return "", err
	}
	if !found {
		return "", types.Errorf(types.CodeIndexingTimeout, "resolve",
			"no proof visible after %d attempts", r.policy.Attempts).With("digest", pw.Digest)
	}
	return id, nil
}

// fetch returns nil, nil when the policy is exhausted.
func (r *Resolver) fetch(ctx context.Context, digest string) (*TransactionBlock, error) {
	if digest == "" {
		return nil, types.Errorf(types.CodeValidation, "resolve", "empty transaction digest")
	}
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		tb, err := r.reader.GetTransactionBlock(ctx, digest)
		if err == nil {
			return tb, nil
		}
		if ctx.Err() != nil {
			return nil, types.NewError(types.CodeResolution, "resolve", "cancelled", ctx.Err()).With("digest", digest)
		}
		if !r.policy.Retryable(err) {
			return nil, types.NewError(types.CodeResolution, "resolve", "get transaction", err).With("digest", digest)
		}
		r.logger.Debug("transaction not indexed yet",
			"digest", digest,
			"attempt", attempt,
			"max_attempts", r.policy.Attempts)
		if attempt == r.policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, types.NewError(types.CodeResolution, "resolve", "cancelled", ctx.Err()).With("digest", digest)
		case <-r.clock.After(r.policy.Interval):
		}
	}
	r.logger.Warn("transaction not indexed within retry ceiling",
		"digest", digest,
		"attempts", r.policy.Attempts,
		"ceiling", r.policy.Ceiling())
	return nil, nil
}
