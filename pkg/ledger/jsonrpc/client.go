package jsonrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// DefaultTimeout bounds a single RPC round trip.
const DefaultTimeout = 30 * time.Second

// Client implements ledger.Reader and ledger.Inspector over JSON-RPC.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
}

var (
	_ ledger.Reader    = (*Client)(nil)
	_ ledger.Inspector = (*Client)(nil)
)

// NewClient creates a client for endpoint. A nil httpClient uses one with
// DefaultTimeout.
func NewClient(endpoint string, httpClient *http.Client) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}, nil
}

// Endpoint returns the RPC URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// call performs one request. RPC-level errors are returned as *RPCError.
func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	req := Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method}
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = append(req.Params, raw)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// GetTransactionBlock fetches an indexed transaction. The not-indexed RPC
// error keeps its message so ledger.IsNotIndexed recognizes it.
func (c *Client) GetTransactionBlock(ctx context.Context, digest string) (*ledger.TransactionBlock, error) {
	var out TransactionBlockResponse
	opts := TransactionOptions{ShowInput: true, ShowEffects: true, ShowObjectChanges: true}
	if err := c.call(ctx, MethodGetTransactionBlock, &out, digest, opts); err != nil {
		if ledger.IsNotIndexed(err) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrTransactionNotIndexed, digest)
		}
		return nil, err
	}
	return out.toBlock()
}

func (r *TransactionBlockResponse) toBlock() (*ledger.TransactionBlock, error) {
	tb := &ledger.TransactionBlock{
		Digest: r.Digest,
		Status: r.Effects.Status.Status,
		Error:  r.Effects.Status.Error,
	}
	if r.Transaction.Data.Sender != "" {
		sender, err := types.ParseAddress(r.Transaction.Data.Sender)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", r.Digest, err)
		}
		tb.Sender = sender
	}
	if r.TimestampMs != "" {
		ms, err := strconv.ParseInt(r.TimestampMs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: invalid timestampMs %q", r.Digest, r.TimestampMs)
		}
		tb.TimestampMs = ms
	}
	for _, ch := range r.ObjectChanges {
		tb.ObjectChanges = append(tb.ObjectChanges, ledger.ObjectChange{
			Type:       ch.Type,
			ObjectID:   ch.ObjectID,
			ObjectType: ch.ObjectType,
			Sender:     ch.Sender,
		})
	}
	return tb, nil
}

// GetObject fetches the move content of an object.
func (c *Client) GetObject(ctx context.Context, id string) (*ledger.Object, error) {
	var out ObjectResponse
	if err := c.call(ctx, MethodGetObject, &out, id, ObjectOptions{ShowContent: true, ShowType: true}); err != nil {
		return nil, err
	}
	if out.Error != nil {
		if out.Error.Code == "notExists" || out.Error.Code == "deleted" {
			return nil, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
		}
		return nil, fmt.Errorf("get object %s: %s", id, out.Error.Code)
	}
	if out.Data == nil || out.Data.Content == nil {
		return nil, fmt.Errorf("get object %s: response has no content", id)
	}

	obj := &ledger.Object{
		ObjectID: out.Data.ObjectID,
		Type:     out.Data.Content.Type,
		Fields:   out.Data.Content.Fields,
	}
	if obj.Type == "" {
		obj.Type = out.Data.Type
	}
	if out.Data.Version != "" {
		v, err := strconv.ParseUint(out.Data.Version, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("get object %s: invalid version %q", id, out.Data.Version)
		}
		obj.Version = v
	}
	return obj, nil
}

// DevInspect evaluates tx for sender without executing it. A failure status
// is returned as an error carrying the abort message.
func (c *Client) DevInspect(ctx context.Context, sender types.Address, tx *ledger.Transaction) error {
	kind, err := tx.MarshalKind()
	if err != nil {
		return err
	}
	var out DevInspectResponse
	if err := c.call(ctx, MethodDevInspect, &out, sender.String(), base64.StdEncoding.EncodeToString(kind)); err != nil {
		return err
	}
	if out.Effects.Status.Status != ledger.StatusSuccess {
		msg := out.Effects.Status.Error
		if msg == "" {
			msg = out.Error
		}
		return fmt.Errorf("dev inspect failed: %s", msg)
	}
	return nil
}

// Execute submits signed transaction bytes. A ledger rejection is reported
// in the result, not as an error.
func (c *Client) Execute(ctx context.Context, txBytes []byte, sig *ledger.PersonalSignature) (*ledger.SubmitResult, error) {
	var out ExecuteResponse
	err := c.call(ctx, MethodExecute, &out,
		base64.StdEncoding.EncodeToString(txBytes),
		[]string{sig.Serialize()})
	if err != nil {
		return nil, err
	}
	return &ledger.SubmitResult{
		Digest: out.Digest,
		Status: out.Effects.Status.Status,
		Error:  out.Effects.Status.Error,
	}, nil
}
