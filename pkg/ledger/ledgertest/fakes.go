// Package ledgertest provides in-memory ledger collaborators for tests.
package ledgertest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// FakeClock fires After immediately and records the requested waits.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewFakeClock starts at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Waits returns every duration passed to After.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// Elapsed is the sum of all waits.
func (c *FakeClock) Elapsed() time.Duration {
	var total time.Duration
	for _, w := range c.Waits() {
		total += w
	}
	return total
}

// Reader is a scripted ledger.Reader.
type Reader struct {
	mu      sync.Mutex
	txs     map[string]*ledger.TransactionBlock
	objects map[string]*ledger.Object
	// lag counts remaining not-indexed responses per digest; -1 means never.
	lag   map[string]int
	errs  map[string]error
	calls map[string]int
}

// NewReader creates an empty Reader.
func NewReader() *Reader {
	return &Reader{
		txs:     make(map[string]*ledger.TransactionBlock),
		objects: make(map[string]*ledger.Object),
		lag:     make(map[string]int),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// AddTransaction makes tb visible after lag not-indexed responses.
// A negative lag keeps it invisible forever.
func (r *Reader) AddTransaction(tb *ledger.TransactionBlock, lag int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tb.Digest] = tb
	r.lag[tb.Digest] = lag
}

// FailTransaction makes lookups of digest return err.
func (r *Reader) FailTransaction(digest string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[digest] = err
}

// FailObject makes reads of object id return err.
func (r *Reader) FailObject(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[id] = err
}

// PutObject stores obj.
func (r *Reader) PutObject(obj *ledger.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[obj.ObjectID] = obj
}

// Calls returns the number of GetTransactionBlock calls for digest.
func (r *Reader) Calls(digest string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[digest]
}

func (r *Reader) GetTransactionBlock(ctx context.Context, digest string) (*ledger.TransactionBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[digest]++
	if err, ok := r.errs[digest]; ok {
		return nil, err
	}
	tb, ok := r.txs[digest]
	if !ok {
		return nil, ledger.ErrTransactionNotIndexed
	}
	switch lag := r.lag[digest]; {
	case lag < 0:
		return nil, ledger.ErrTransactionNotIndexed
	case lag > 0:
		r.lag[digest] = lag - 1
		return nil, ledger.ErrTransactionNotIndexed
	}
	return tb, nil
}

func (r *Reader) GetObject(ctx context.Context, id string) (*ledger.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.errs[id]; ok {
		return nil, err
	}
	obj, ok := r.objects[id]
	if !ok {
		return nil, ledger.ErrObjectNotFound
	}
	return obj, nil
}

// ProofObject builds the move content of a Proof with the nested viewer
// encoding.
func ProofObject(packageID, id string, owner types.Address, viewers ...types.Address) *ledger.Object {
	contents := make([]string, 0, len(viewers))
	for _, v := range viewers {
		contents = append(contents, v.String())
	}
	av, _ := json.Marshal(map[string]any{
		"type":   "0x2::vec_set::VecSet<address>",
		"fields": map[string]any{"contents": contents},
	})
	str := func(s string) json.RawMessage {
		b, _ := json.Marshal(s)
		return b
	}
	return &ledger.Object{
		ObjectID: id,
		Type:     types.ProofType(packageID),
		Version:  1,
		Fields: map[string]json.RawMessage{
			"owner":            str(owner.String()),
			"blob_id":          str("bafkreiblob"),
			"policy_id":        str("0x" + owner.Hex()[:32]),
			"result_blob_id":   str("bafkreiresult"),
			"result_policy_id": str("0x" + owner.Hex()[:32]),
			"proof_hash":       str("sha256:test"),
			"created_at":       json.RawMessage(`"1700000000000"`),
			"approved_viewers": av,
		},
	}
}

// Wallet records submitted transactions and answers with a fixed result.
type Wallet struct {
	mu      sync.Mutex
	priv    ed25519.PrivateKey
	addr    types.Address
	txs     []*ledger.Transaction
	next    int
	Result  func(tx *ledger.Transaction) (*ledger.SubmitResult, error)
	Decline bool
}

// NewWallet creates a Wallet with a fresh ed25519 key.
func NewWallet() *Wallet {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return &Wallet{priv: priv, addr: types.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))}
}

func (w *Wallet) Address() types.Address { return w.addr }

func (w *Wallet) SignPersonalMessage(ctx context.Context, msg []byte) (*ledger.PersonalSignature, error) {
	if w.Decline {
		return nil, fmt.Errorf("user rejected the request")
	}
	return ledger.SignPersonalMessage(w.priv, msg), nil
}

func (w *Wallet) SignAndSubmitTransaction(ctx context.Context, tx *ledger.Transaction) (*ledger.SubmitResult, error) {
	w.mu.Lock()
	w.txs = append(w.txs, tx)
	w.next++
	n := w.next
	w.mu.Unlock()
	if w.Decline {
		return nil, fmt.Errorf("user rejected the request")
	}
	if w.Result != nil {
		return w.Result(tx)
	}
	return &ledger.SubmitResult{Digest: fmt.Sprintf("digest-%d", n), Status: ledger.StatusSuccess}, nil
}

// Submitted returns every transaction passed to SignAndSubmitTransaction.
func (w *Wallet) Submitted() []*ledger.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*ledger.Transaction(nil), w.txs...)
}

// Inspector approves seal_approve predicates for an allow-list of senders.
type Inspector struct {
	mu      sync.Mutex
	allowed map[types.Address]bool
	calls   int
}

// NewInspector allows addrs.
func NewInspector(addrs ...types.Address) *Inspector {
	in := &Inspector{allowed: make(map[types.Address]bool)}
	for _, a := range addrs {
		in.allowed[a] = true
	}
	return in
}

// Allow adds addr to the allow-list.
func (in *Inspector) Allow(addr types.Address) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.allowed[addr] = true
}

// Deny removes addr from the allow-list.
func (in *Inspector) Deny(addr types.Address) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.allowed, addr)
}

// Calls returns how many predicates were evaluated.
func (in *Inspector) Calls() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.calls
}

func (in *Inspector) DevInspect(ctx context.Context, sender types.Address, tx *ledger.Transaction) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.calls++
	if !in.allowed[sender] {
		return fmt.Errorf("MoveAbort in seal_approve: ENoAccess for %s", sender.Short())
	}
	return nil
}
