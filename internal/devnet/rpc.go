package devnet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/ledger/jsonrpc"
	"github.com/relves/proofvault/pkg/types"
)

// maxRequestBytes bounds a JSON-RPC request body.
const maxRequestBytes = 1 << 20

// RPCHandler serves the ledger over JSON-RPC.
type RPCHandler struct {
	ledger *Ledger
	signer *CheckpointSigner
	logger *slog.Logger
}

// RPCOption configures an RPCHandler.
type RPCOption func(*RPCHandler)

// WithCheckpointSigner signs the checkpoints served at GET /checkpoint.
func WithCheckpointSigner(s *CheckpointSigner) RPCOption {
	return func(h *RPCHandler) { h.signer = s }
}

// NewRPCHandler creates a new handler for l.
func NewRPCHandler(l *Ledger, logger *slog.Logger, opts ...RPCOption) *RPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &RPCHandler{ledger: l, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CheckpointResponse is the response for GET /checkpoint. Note is the
// signed checkpoint when the handler has a signer.
type CheckpointResponse struct {
	TreeSize uint64 `json:"tree_size"`
	RootHash string `json:"root_hash"`
	Note     string `json:"note,omitempty"`
}

// Register mounts the handler on mux.
func (h *RPCHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rpc", h.ServeRPC)
	mux.HandleFunc("GET /checkpoint", h.HandleCheckpoint)
}

// HandleCheckpoint handles GET /checkpoint.
func (h *RPCHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	size, root, err := h.ledger.Checkpoint()
	if err != nil {
		h.logger.Error("failed to compute checkpoint", "error", err)
		http.Error(w, "failed to compute checkpoint", http.StatusInternalServerError)
		return
	}
	resp := CheckpointResponse{
		TreeSize: size,
		RootHash: base64.StdEncoding.EncodeToString(root),
	}
	if h.signer != nil {
		note, err := h.signer.SignCheckpoint(size, root)
		if err != nil {
			h.logger.Error("failed to sign checkpoint", "error", err)
			http.Error(w, "failed to sign checkpoint", http.StatusInternalServerError)
			return
		}
		resp.Note = string(note)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ServeRPC handles POST /rpc.
func (h *RPCHandler) ServeRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonrpc.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.reply(w, jsonrpc.Response{Error: &jsonrpc.RPCError{Code: jsonrpc.CodeParseError, Message: "parse error"}})
		return
	}

	resp := jsonrpc.Response{ID: req.ID}
	result, rpcErr := h.dispatch(r, &req)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			h.logger.Error("failed to encode rpc result", "method", req.Method, "error", err)
			resp.Error = &jsonrpc.RPCError{Code: jsonrpc.CodeInternalError, Message: "internal error"}
		} else {
			resp.Result = raw
		}
	}
	h.reply(w, resp)
}

func (h *RPCHandler) reply(w http.ResponseWriter, resp jsonrpc.Response) {
	resp.JSONRPC = "2.0"
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *RPCHandler) dispatch(r *http.Request, req *jsonrpc.Request) (any, *jsonrpc.RPCError) {
	ctx := r.Context()
	switch req.Method {
	case jsonrpc.MethodGetTransactionBlock:
		var digest string
		if err := param(req, 0, &digest); err != nil {
			return nil, err
		}
		tb, err := h.ledger.GetTransactionBlock(ctx, digest)
		if ledger.IsNotIndexed(err) {
			return nil, &jsonrpc.RPCError{
				Code:    jsonrpc.CodeInvalidParams,
				Message: ledger.ErrTransactionNotIndexed.Error() + " [TransactionDigest(" + digest + ")]",
			}
		}
		if err != nil {
			return nil, h.internal(req.Method, err)
		}
		return transactionResponse(tb), nil

	case jsonrpc.MethodGetObject:
		var id string
		if err := param(req, 0, &id); err != nil {
			return nil, err
		}
		obj, err := h.ledger.GetObject(ctx, id)
		if errors.Is(err, ledger.ErrObjectNotFound) {
			return jsonrpc.ObjectResponse{Error: &jsonrpc.ObjectError{Code: "notExists", ObjectID: id}}, nil
		}
		if err != nil {
			return nil, h.internal(req.Method, err)
		}
		return jsonrpc.ObjectResponse{Data: &jsonrpc.ObjectData{
			ObjectID: obj.ObjectID,
			Version:  strconv.FormatUint(obj.Version, 10),
			Type:     obj.Type,
			Content: &jsonrpc.MoveContent{
				DataType: "moveObject",
				Type:     obj.Type,
				Fields:   obj.Fields,
			},
		}}, nil

	case jsonrpc.MethodDevInspect:
		var senderStr, txBytes string
		if err := param(req, 0, &senderStr); err != nil {
			return nil, err
		}
		if err := param(req, 1, &txBytes); err != nil {
			return nil, err
		}
		sender, err := types.ParseAddress(senderStr)
		if err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		kind, err := base64.StdEncoding.DecodeString(txBytes)
		if err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: "transaction bytes are not base64"}
		}
		tx, err := ledger.UnmarshalKind(kind)
		if err != nil {
			return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		resp := jsonrpc.DevInspectResponse{Effects: jsonrpc.Effects{Status: jsonrpc.ExecutionStatus{Status: ledger.StatusSuccess}}}
		if err := h.ledger.DevInspect(ctx, sender, tx); err != nil {
			resp.Effects.Status = jsonrpc.ExecutionStatus{Status: ledger.StatusFailure, Error: err.Error()}
		}
		return resp, nil

	case jsonrpc.MethodExecute:
		return h.execute(r, req)

	default:
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

// execute verifies the single ed25519 signature and runs the transaction as
// the address derived from its public key.
func (h *RPCHandler) execute(r *http.Request, req *jsonrpc.Request) (any, *jsonrpc.RPCError) {
	var (
		txBytes    string
		signatures []string
	)
	if err := param(req, 0, &txBytes); err != nil {
		return nil, err
	}
	if err := param(req, 1, &signatures); err != nil {
		return nil, err
	}
	if len(signatures) != 1 {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: "exactly one signature is required"}
	}
	kind, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: "transaction bytes are not base64"}
	}
	sig, err := ledger.ParsePersonalSignature(signatures[0])
	if err != nil {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	sender := types.AddressFromPublicKey(sig.PublicKey)
	if err := ledger.VerifyTransaction(sender, kind, sig); err != nil {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	tx, err := ledger.UnmarshalKind(kind)
	if err != nil {
		return nil, &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}

	res, err := h.ledger.Execute(r.Context(), sender, tx)
	if err != nil {
		return nil, h.internal(req.Method, err)
	}
	return jsonrpc.ExecuteResponse{
		Digest:  res.Digest,
		Effects: jsonrpc.Effects{Status: jsonrpc.ExecutionStatus{Status: res.Status, Error: res.Error}},
	}, nil
}

func (h *RPCHandler) internal(method string, err error) *jsonrpc.RPCError {
	h.logger.Error("rpc method failed", "method", method, "error", err)
	return &jsonrpc.RPCError{Code: jsonrpc.CodeInternalError, Message: "internal error"}
}

func param(req *jsonrpc.Request, i int, out any) *jsonrpc.RPCError {
	if i >= len(req.Params) {
		return &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: "missing parameter " + strconv.Itoa(i)}
	}
	if err := json.Unmarshal(req.Params[i], out); err != nil {
		return &jsonrpc.RPCError{Code: jsonrpc.CodeInvalidParams, Message: "invalid parameter " + strconv.Itoa(i)}
	}
	return nil
}

func transactionResponse(tb *ledger.TransactionBlock) jsonrpc.TransactionBlockResponse {
	resp := jsonrpc.TransactionBlockResponse{
		Digest:      tb.Digest,
		Effects:     jsonrpc.Effects{Status: jsonrpc.ExecutionStatus{Status: tb.Status, Error: tb.Error}},
		TimestampMs: strconv.FormatInt(tb.TimestampMs, 10),
	}
	resp.Transaction.Data.Sender = tb.Sender.String()
	for _, ch := range tb.ObjectChanges {
		resp.ObjectChanges = append(resp.ObjectChanges, jsonrpc.WireObjectChange{
			Type:       ch.Type,
			Sender:     ch.Sender,
			ObjectID:   ch.ObjectID,
			ObjectType: ch.ObjectType,
		})
	}
	return resp
}
