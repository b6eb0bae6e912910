package blob

import (
	"bytes"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// ComputeID computes the content identifier used by local stores.
//
// Uses CIDv1 with raw codec and SHA2-256, the standard for opaque blobs.
func ComputeID(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(uint64(multicodec.Raw), hash).String(), nil
}

// VerifyID reports whether data hashes to id. Identifiers that are not CIDs
// (remote stores may use their own scheme) are reported as unverifiable.
func VerifyID(id string, data []byte) (ok bool, verifiable bool) {
	c, err := cid.Decode(id)
	if err != nil {
		return false, false
	}
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return false, false
	}
	sum, err := mh.Sum(data, decoded.Code, decoded.Length)
	if err != nil {
		return false, false
	}
	return bytes.Equal(sum, c.Hash()), true
}
