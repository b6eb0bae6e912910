// Package jsonrpc reads the ledger through its Sui-compatible JSON-RPC API.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Methods served by ledger nodes.
const (
	MethodGetTransactionBlock = "sui_getTransactionBlock"
	MethodGetObject           = "sui_getObject"
	MethodDevInspect          = "sui_devInspectTransactionBlock"
	MethodExecute             = "sui_executeTransactionBlock"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ExecutionStatus is the status of transaction effects.
type ExecutionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Effects wraps the execution status.
type Effects struct {
	Status ExecutionStatus `json:"status"`
}

// WireObjectChange is one entry of objectChanges.
type WireObjectChange struct {
	Type       string `json:"type"`
	Sender     string `json:"sender,omitempty"`
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
	Version    string `json:"version,omitempty"`
}

// TransactionData carries the sender of a transaction.
type TransactionData struct {
	Data struct {
		Sender string `json:"sender"`
	} `json:"data"`
}

// TransactionBlockResponse is the result of sui_getTransactionBlock.
type TransactionBlockResponse struct {
	Digest        string             `json:"digest"`
	Transaction   TransactionData    `json:"transaction"`
	Effects       Effects            `json:"effects"`
	ObjectChanges []WireObjectChange `json:"objectChanges"`
	TimestampMs   string             `json:"timestampMs,omitempty"`
}

// MoveContent is the content of a move object.
type MoveContent struct {
	DataType string                     `json:"dataType"`
	Type     string                     `json:"type"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

// ObjectData is the data member of an object response.
type ObjectData struct {
	ObjectID string       `json:"objectId"`
	Version  string       `json:"version"`
	Type     string       `json:"type"`
	Content  *MoveContent `json:"content,omitempty"`
}

// ObjectError is returned in place of data for missing objects.
type ObjectError struct {
	Code     string `json:"code"`
	ObjectID string `json:"object_id,omitempty"`
}

// ObjectResponse is the result of sui_getObject.
type ObjectResponse struct {
	Data  *ObjectData  `json:"data,omitempty"`
	Error *ObjectError `json:"error,omitempty"`
}

// DevInspectResponse is the result of sui_devInspectTransactionBlock.
type DevInspectResponse struct {
	Effects Effects `json:"effects"`
	Error   string  `json:"error,omitempty"`
}

// ObjectOptions mirrors the options argument of sui_getObject.
type ObjectOptions struct {
	ShowContent bool `json:"showContent"`
	ShowType    bool `json:"showType"`
}

// TransactionOptions mirrors the options argument of sui_getTransactionBlock.
type TransactionOptions struct {
	ShowInput         bool `json:"showInput"`
	ShowEffects       bool `json:"showEffects"`
	ShowObjectChanges bool `json:"showObjectChanges"`
}

// ExecuteResponse is the result of sui_executeTransactionBlock.
type ExecuteResponse struct {
	Digest  string  `json:"digest"`
	Effects Effects `json:"effects"`
}
