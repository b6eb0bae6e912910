package devnet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/proofvault/internal/storage"
	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

// Abort codes of the truth_nft contract.
const (
	AbortNotOwner       = "ENotOwner"
	AbortOwnerAsViewer  = "ECannotApproveOwner"
	AbortNoAccess       = "ENoAccess"
	AbortObjectNotFound = "EObjectNotFound"
	AbortBadArguments   = "EBadArguments"
	AbortUnknownCall    = "EFunctionNotFound"
)

// AbortError is a contract abort.
type AbortError struct {
	Function string
	Code     string
	Detail   string
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("MoveAbort in %s::%s: %s", types.ContractModule, e.Function, e.Code)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func abort(fn, code, format string, args ...any) *AbortError {
	return &AbortError{Function: fn, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// apply evaluates every call of tx. Any abort discards the effects of the
// whole transaction.
func (l *Ledger) apply(ctx context.Context, sender types.Address, tx *ledger.Transaction, leaf []byte, now time.Time) (storage.Effects, []storage.ObjectChange, error) {
	var (
		effects storage.Effects
		changes []storage.ObjectChange
	)
	if len(tx.Calls) == 0 {
		return effects, nil, abort("", AbortBadArguments, "empty transaction")
	}

	for i, call := range tx.Calls {
		fn := call.Function()
		if call.Target != types.Target(l.packageID, fn) {
			return effects, nil, abort(fn, AbortUnknownCall, "%s", call.Target)
		}

		switch fn {
		case types.ContractMint:
			p, err := mintRecord(call, sender, objectID(leaf, i), now)
			if err != nil {
				return effects, nil, err
			}
			effects.CreateProofs = append(effects.CreateProofs, *p)
			changes = append(changes, storage.ObjectChange{
				Type:       "created",
				ObjectID:   p.ObjectID,
				ObjectType: types.ProofType(l.packageID),
			})

		case types.ContractGrantAccess, types.ContractRevoke:
			change, err := l.mutateViewers(ctx, sender, call)
			if err != nil {
				return effects, nil, err
			}
			if fn == types.ContractGrantAccess {
				effects.AddViewers = append(effects.AddViewers, *change)
			} else {
				effects.RemoveViewers = append(effects.RemoveViewers, *change)
			}
			changes = append(changes, storage.ObjectChange{
				Type:       "mutated",
				ObjectID:   change.ObjectID,
				ObjectType: types.ProofType(l.packageID),
			})

		case types.ContractSealApprove:
			if err := l.sealApprove(ctx, sender, call); err != nil {
				return effects, nil, err
			}

		default:
			return effects, nil, abort(fn, AbortUnknownCall, "%s", call.Target)
		}
	}
	return effects, changes, nil
}

func objectID(leaf []byte, index int) string {
	data := append(append([]byte(nil), leaf...), byte(index))
	return "0x" + hex.EncodeToString(rfc6962.DefaultHasher.HashLeaf(data))
}

func mintRecord(call ledger.MoveCall, sender types.Address, id string, now time.Time) (*storage.ProofRecord, error) {
	if len(call.Args) != 5 {
		return nil, abort(types.ContractMint, AbortBadArguments, "want 5 arguments, got %d", len(call.Args))
	}
	fields := make([]string, len(call.Args))
	for i, arg := range call.Args {
		if arg.Kind != ledger.ArgBytes {
			return nil, abort(types.ContractMint, AbortBadArguments, "argument %d is %s, not vector<u8>", i, arg.Kind)
		}
		fields[i] = string(arg.Bytes)
	}
	// Both ciphertexts must be bound to the minter's own policy.
	own := sender.PolicyID()
	for _, i := range []int{1, 3} {
		if !strings.EqualFold(fields[i], own) {
			return nil, abort(types.ContractMint, AbortBadArguments,
				"policy %s is not derived from sender %s", fields[i], sender.Short())
		}
		fields[i] = own
	}
	return &storage.ProofRecord{
		ObjectID:       id,
		Owner:          sender.String(),
		BlobID:         fields[0],
		PolicyID:       fields[1],
		ResultBlobID:   fields[2],
		ResultPolicyID: fields[3],
		ProofHash:      fields[4],
		CreatedAt:      now,
	}, nil
}

// mutateViewers checks a grant_access or revoke_access call. Granting an
// existing viewer and revoking an absent one are both accepted.
func (l *Ledger) mutateViewers(ctx context.Context, sender types.Address, call ledger.MoveCall) (*storage.ViewerChange, error) {
	fn := call.Function()
	want := 2
	if fn == types.ContractGrantAccess {
		want = 3
	}
	if len(call.Args) != want || call.Args[0].Kind != ledger.ArgObject || call.Args[1].Kind != ledger.ArgAddress {
		return nil, abort(fn, AbortBadArguments, "malformed arguments")
	}
	change := &storage.ViewerChange{
		ObjectID: call.Args[0].ObjectID,
		Viewer:   call.Args[1].Address.String(),
	}
	if fn == types.ContractGrantAccess {
		if call.Args[2].Kind != ledger.ArgU64 {
			return nil, abort(fn, AbortBadArguments, "duration is %s, not u64", call.Args[2].Kind)
		}
		change.Epochs = call.Args[2].U64
	}

	p, err := l.store.GetProof(ctx, change.ObjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, abort(fn, AbortObjectNotFound, "%s", change.ObjectID)
	}
	if err != nil {
		return nil, err
	}
	owner := types.Address(p.Owner)
	if !owner.Equal(sender) {
		return nil, abort(fn, AbortNotOwner, "sender %s", sender.Short())
	}
	if fn == types.ContractGrantAccess && owner.Equal(call.Args[1].Address) {
		return nil, abort(fn, AbortOwnerAsViewer, "")
	}
	return change, nil
}

// sealApprove passes when the policy id is the sender's own derived id or
// the sender is an approved viewer of a record owned by the policy's owner.
func (l *Ledger) sealApprove(ctx context.Context, sender types.Address, call ledger.MoveCall) error {
	fn := types.ContractSealApprove
	if len(call.Args) != 1 || call.Args[0].Kind != ledger.ArgBytes {
		return abort(fn, AbortBadArguments, "want one vector<u8> argument")
	}
	policyID := "0x" + hex.EncodeToString(call.Args[0].Bytes)

	if policyID == sender.PolicyID() {
		return nil
	}
	ok, err := l.store.IsViewerForPolicy(ctx, sender.String(), policyID)
	if err != nil {
		return err
	}
	if !ok {
		return abort(fn, AbortNoAccess, "sender %s, policy %s", sender.Short(), policyID)
	}
	return nil
}
