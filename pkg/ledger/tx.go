package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	"github.com/relves/proofvault/pkg/types"
)

// ArgKind is the type of a pure or object argument to a move call.
type ArgKind string

const (
	ArgBytes   ArgKind = "vector<u8>"
	ArgAddress ArgKind = "address"
	ArgU64     ArgKind = "u64"
	ArgObject  ArgKind = "object"
)

// Arg is a single move-call argument. Byte vectors are always independent
// arguments; callers never join several values into one vector.
type Arg struct {
	Kind     ArgKind
	Bytes    []byte
	Address  types.Address
	U64      uint64
	ObjectID string
}

// Bytes returns a vector<u8> argument.
func Bytes(b []byte) Arg { return Arg{Kind: ArgBytes, Bytes: append([]byte(nil), b...)} }

// String returns a vector<u8> argument holding the UTF-8 bytes of s.
func String(s string) Arg { return Bytes([]byte(s)) }

// Address returns an address argument.
func Address(a types.Address) Arg { return Arg{Kind: ArgAddress, Address: a} }

// U64 returns a u64 argument.
func U64(v uint64) Arg { return Arg{Kind: ArgU64, U64: v} }

// ObjectArg returns a shared or owned object argument.
func ObjectArg(id string) Arg { return Arg{Kind: ArgObject, ObjectID: id} }

// MoveCall invokes target with args.
type MoveCall struct {
	Target string
	Args   []Arg
}

// Function returns the function name of the call target.
func (c MoveCall) Function() string {
	i := strings.LastIndex(c.Target, "::")
	if i < 0 {
		return c.Target
	}
	return c.Target[i+2:]
}

// Transaction is a programmable transaction made of move calls.
type Transaction struct {
	Calls []MoveCall
}

// NewTransaction creates an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// MoveCall appends a call and returns tx.
func (tx *Transaction) MoveCall(target string, args ...Arg) *Transaction {
	tx.Calls = append(tx.Calls, MoveCall{Target: target, Args: args})
	return tx
}

// MarshalKind encodes the transaction kind (calls only, no gas or sender)
// as dag-cbor. The encoding is deterministic so it doubles as the input to
// transaction digests and as a non-executing predicate request.
func (tx *Transaction) MarshalKind() ([]byte, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	la, err := nb.BeginList(int64(len(tx.Calls)))
	if err != nil {
		return nil, err
	}
	for _, call := range tx.Calls {
		if err := assembleCall(la.AssembleValue(), call); err != nil {
			return nil, err
		}
	}
	if err := la.Finish(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return buf.Bytes(), nil
}

func assembleCall(na datamodel.NodeAssembler, call MoveCall) error {
	ma, err := na.BeginMap(2)
	if err != nil {
		return err
	}
	ma.AssembleKey().AssignString("target")
	ma.AssembleValue().AssignString(call.Target)
	ma.AssembleKey().AssignString("args")
	la, err := ma.AssembleValue().BeginList(int64(len(call.Args)))
	if err != nil {
		return err
	}
	for _, arg := range call.Args {
		am, err := la.AssembleValue().BeginMap(2)
		if err != nil {
			return err
		}
		am.AssembleKey().AssignString("kind")
		am.AssembleValue().AssignString(string(arg.Kind))
		am.AssembleKey().AssignString("value")
		switch arg.Kind {
		case ArgBytes:
			am.AssembleValue().AssignBytes(arg.Bytes)
		case ArgAddress:
			am.AssembleValue().AssignString(arg.Address.String())
		case ArgU64:
			am.AssembleValue().AssignInt(int64(arg.U64))
		case ArgObject:
			am.AssembleValue().AssignString(arg.ObjectID)
		default:
			return fmt.Errorf("unknown argument kind %q", arg.Kind)
		}
		if err := am.Finish(); err != nil {
			return err
		}
	}
	if err := la.Finish(); err != nil {
		return err
	}
	return ma.Finish()
}

// UnmarshalKind decodes bytes produced by MarshalKind.
func UnmarshalKind(data []byte) (*Transaction, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	root := nb.Build()
	if root.Kind() != datamodel.Kind_List {
		return nil, fmt.Errorf("decode transaction: expected list, got %s", root.Kind())
	}

	tx := NewTransaction()
	it := root.ListIterator()
	for !it.Done() {
		_, callNode, err := it.Next()
		if err != nil {
			return nil, err
		}
		call, err := readCall(callNode)
		if err != nil {
			return nil, err
		}
		tx.Calls = append(tx.Calls, call)
	}
	return tx, nil
}

func readCall(n datamodel.Node) (MoveCall, error) {
	targetNode, err := n.LookupByString("target")
	if err != nil {
		return MoveCall{}, fmt.Errorf("call target: %w", err)
	}
	target, err := targetNode.AsString()
	if err != nil {
		return MoveCall{}, fmt.Errorf("call target: %w", err)
	}
	argsNode, err := n.LookupByString("args")
	if err != nil {
		return MoveCall{}, fmt.Errorf("call args: %w", err)
	}

	call := MoveCall{Target: target}
	it := argsNode.ListIterator()
	if it == nil {
		return MoveCall{}, fmt.Errorf("call args: not a list")
	}
	for !it.Done() {
		_, an, err := it.Next()
		if err != nil {
			return MoveCall{}, err
		}
		arg, err := readArg(an)
		if err != nil {
			return MoveCall{}, err
		}
		call.Args = append(call.Args, arg)
	}
	return call, nil
}

func readArg(n datamodel.Node) (Arg, error) {
	kindNode, err := n.LookupByString("kind")
	if err != nil {
		return Arg{}, fmt.Errorf("arg kind: %w", err)
	}
	kind, err := kindNode.AsString()
	if err != nil {
		return Arg{}, fmt.Errorf("arg kind: %w", err)
	}
	v, err := n.LookupByString("value")
	if err != nil {
		return Arg{}, fmt.Errorf("arg value: %w", err)
	}

	switch ArgKind(kind) {
	case ArgBytes:
		b, err := v.AsBytes()
		if err != nil {
			return Arg{}, err
		}
		return Bytes(b), nil
	case ArgAddress:
		s, err := v.AsString()
		if err != nil {
			return Arg{}, err
		}
		addr, err := types.ParseAddress(s)
		if err != nil {
			return Arg{}, err
		}
		return Address(addr), nil
	case ArgU64:
		i, err := v.AsInt()
		if err != nil {
			return Arg{}, err
		}
		return U64(uint64(i)), nil
	case ArgObject:
		s, err := v.AsString()
		if err != nil {
			return Arg{}, err
		}
		return ObjectArg(s), nil
	default:
		return Arg{}, fmt.Errorf("unknown argument kind %q", kind)
	}
}

// MintParams are the immutable fields of a new Proof record.
type MintParams struct {
	BlobID         string
	PolicyID       string
	ResultBlobID   string
	ResultPolicyID string
	ProofHash      string
}

// MintTx builds the transaction that creates a Proof record. Each field is
// its own vector<u8> argument.
func MintTx(packageID string, p MintParams) *Transaction {
	return NewTransaction().MoveCall(types.Target(packageID, types.ContractMint),
		String(p.BlobID),
		String(p.PolicyID),
		String(p.ResultBlobID),
		String(p.ResultPolicyID),
		String(p.ProofHash),
	)
}

// GrantAccessTx builds the transaction adding viewer to a record.
func GrantAccessTx(packageID, recordID string, viewer types.Address, durationEpochs uint64) *Transaction {
	return NewTransaction().MoveCall(types.Target(packageID, types.ContractGrantAccess),
		ObjectArg(recordID),
		Address(viewer),
		U64(durationEpochs),
	)
}

// RevokeAccessTx builds the transaction removing viewer from a record.
func RevokeAccessTx(packageID, recordID string, viewer types.Address) *Transaction {
	return NewTransaction().MoveCall(types.Target(packageID, types.ContractRevoke),
		ObjectArg(recordID),
		Address(viewer),
	)
}

// SealApproveTx builds the predicate-evaluation request for policyID. It is
// only ever inspected by key servers, never submitted for execution.
func SealApproveTx(packageID, policyID string) (*Transaction, error) {
	raw, err := PolicyBytes(policyID)
	if err != nil {
		return nil, err
	}
	return NewTransaction().MoveCall(types.Target(packageID, types.ContractSealApprove), Bytes(raw)), nil
}

// PolicyBytes decodes a 0x-prefixed policy identifier.
func PolicyBytes(policyID string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(policyID, "0x"))
	if err != nil || len(raw) == 0 {
		return nil, types.Errorf(types.CodeValidation, "decode policy id", "invalid policy id %q", policyID).
			With("policy", policyID)
	}
	return raw, nil
}
