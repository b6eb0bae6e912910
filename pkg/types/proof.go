// pkg/types/proof.go
package types

import (
	"time"
)

// ProofSnapshot is a point-in-time read of a Proof record.
// Every field except ApprovedViewers is fixed at mint time.
type ProofSnapshot struct {
	ObjectID        string    `json:"object_id"`
	Owner           Address   `json:"owner"`
	BlobID          string    `json:"blob_id"`
	PolicyID        string    `json:"policy_id"`
	ResultBlobID    string    `json:"result_blob_id"`
	ResultPolicyID  string    `json:"result_policy_id"`
	ProofHash       string    `json:"proof_hash"`
	CreatedAt       time.Time `json:"created_at"`
	ApprovedViewers []Address `json:"approved_viewers"`

	// Diagnostics collects non-fatal parse problems, e.g. an approved-viewer
	// encoding that matched none of the known shapes.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// IsOwner reports whether addr owns the record.
func (p *ProofSnapshot) IsOwner(addr Address) bool {
	return p.Owner.Equal(addr)
}

// IsApproved reports whether addr is in the approved-viewer set.
func (p *ProofSnapshot) IsApproved(addr Address) bool {
	for _, v := range p.ApprovedViewers {
		if v.Equal(addr) {
			return true
		}
	}
	return false
}

// CanView reports whether addr may decrypt the referenced ciphertexts.
func (p *ProofSnapshot) CanView(addr Address) bool {
	return p.IsOwner(addr) || p.IsApproved(addr)
}
