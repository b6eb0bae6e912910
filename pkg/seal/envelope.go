package seal

import (
	"bytes"
	"fmt"

	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// EnvelopeVersion is the current encrypted object format.
const EnvelopeVersion = 1

// WrappedShare is one key server's share, sealed to that server.
type WrappedShare struct {
	ObjectID string
	Index    int
	Enc      []byte
	Share    []byte
}

// EncryptedObject is the self-describing ciphertext stored in the blob store.
type EncryptedObject struct {
	Version    int
	PackageID  string
	PolicyID   string
	Threshold  int
	Services   []WrappedShare
	Nonce      []byte
	Ciphertext []byte
}

// Marshal encodes the object as dag-cbor.
func (o *EncryptedObject) Marshal() ([]byte, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	ma, err := nb.BeginMap(7)
	if err != nil {
		return nil, err
	}
	ma.AssembleKey().AssignString("v")
	ma.AssembleValue().AssignInt(int64(o.Version))
	ma.AssembleKey().AssignString("package")
	ma.AssembleValue().AssignString(o.PackageID)
	ma.AssembleKey().AssignString("policy")
	ma.AssembleValue().AssignString(o.PolicyID)
	ma.AssembleKey().AssignString("threshold")
	ma.AssembleValue().AssignInt(int64(o.Threshold))
	ma.AssembleKey().AssignString("services")
	la, err := ma.AssembleValue().BeginList(int64(len(o.Services)))
	if err != nil {
		return nil, err
	}
	for _, s := range o.Services {
		sm, err := la.AssembleValue().BeginMap(4)
		if err != nil {
			return nil, err
		}
		sm.AssembleKey().AssignString("id")
		sm.AssembleValue().AssignString(s.ObjectID)
		sm.AssembleKey().AssignString("index")
		sm.AssembleValue().AssignInt(int64(s.Index))
		sm.AssembleKey().AssignString("enc")
		sm.AssembleValue().AssignBytes(s.Enc)
		sm.AssembleKey().AssignString("share")
		sm.AssembleValue().AssignBytes(s.Share)
		if err := sm.Finish(); err != nil {
			return nil, err
		}
	}
	if err := la.Finish(); err != nil {
		return nil, err
	}
	ma.AssembleKey().AssignString("nonce")
	ma.AssembleValue().AssignBytes(o.Nonce)
	ma.AssembleKey().AssignString("ct")
	ma.AssembleValue().AssignBytes(o.Ciphertext)
	if err := ma.Finish(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalEncryptedObject decodes bytes produced by Marshal.
func UnmarshalEncryptedObject(data []byte) (*EncryptedObject, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	n := nb.Build()
	if n.Kind() != datamodel.Kind_Map {
		return nil, fmt.Errorf("decode envelope: expected map, got %s", n.Kind())
	}

	var (
		o   EncryptedObject
		err error
	)
	if o.Version, err = lookupInt(n, "v"); err != nil {
		return nil, err
	}
	if o.Version != EnvelopeVersion {
		return nil, fmt.Errorf("decode envelope: unsupported version %d", o.Version)
	}
	if o.PackageID, err = lookupString(n, "package"); err != nil {
		return nil, err
	}
	if o.PolicyID, err = lookupString(n, "policy"); err != nil {
		return nil, err
	}
	if o.Threshold, err = lookupInt(n, "threshold"); err != nil {
		return nil, err
	}
	if o.Nonce, err = lookupBytes(n, "nonce"); err != nil {
		return nil, err
	}
	if o.Ciphertext, err = lookupBytes(n, "ct"); err != nil {
		return nil, err
	}

	services, err := n.LookupByString("services")
	if err != nil {
		return nil, fmt.Errorf("decode envelope: services: %w", err)
	}
	it := services.ListIterator()
	if it == nil {
		return nil, fmt.Errorf("decode envelope: services is not a list")
	}
	for !it.Done() {
		_, sn, err := it.Next()
		if err != nil {
			return nil, err
		}
		var s WrappedShare
		if s.ObjectID, err = lookupString(sn, "id"); err != nil {
			return nil, err
		}
		if s.Index, err = lookupInt(sn, "index"); err != nil {
			return nil, err
		}
		if s.Enc, err = lookupBytes(sn, "enc"); err != nil {
			return nil, err
		}
		if s.Share, err = lookupBytes(sn, "share"); err != nil {
			return nil, err
		}
		o.Services = append(o.Services, s)
	}
	if err := checkThreshold(o.Threshold, len(o.Services)); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &o, nil
}

func lookupString(n datamodel.Node, key string) (string, error) {
	v, err := n.LookupByString(key)
	if err != nil {
		return "", fmt.Errorf("decode envelope: %s: %w", key, err)
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("decode envelope: %s: %w", key, err)
	}
	return s, nil
}

func lookupInt(n datamodel.Node, key string) (int, error) {
	v, err := n.LookupByString(key)
	if err != nil {
		return 0, fmt.Errorf("decode envelope: %s: %w", key, err)
	}
	i, err := v.AsInt()
	if err != nil {
		return 0, fmt.Errorf("decode envelope: %s: %w", key, err)
	}
	return int(i), nil
}

func lookupBytes(n datamodel.Node, key string) ([]byte, error) {
	v, err := n.LookupByString(key)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %s: %w", key, err)
	}
	b, err := v.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %s: %w", key, err)
	}
	return b, nil
}
