package proof

import (
	"net/url"
	"strings"

	"github.com/relves/proofvault/pkg/types"
)

// Ref points at a Proof either by the digest of its mint transaction or by
// its record id. A digest is resolved to a record id on use.
type Ref struct {
	Digest   string
	RecordID string
}

// ViewPath is the path of share links.
const ViewPath = "/view"

// ShareLink builds base/view?tx=<digest>, or ?id=<record> when the digest
// is unknown.
func ShareLink(base string, ref Ref) (string, error) {
	const op = "share link"
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", types.Errorf(types.CodeValidation, op, "invalid base URL %q", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + ViewPath

	q := url.Values{}
	switch {
	case ref.Digest != "":
		q.Set("tx", ref.Digest)
	case ref.RecordID != "":
		id, err := types.NormalizeObjectID(ref.RecordID)
		if err != nil {
			return "", err
		}
		q.Set("id", id)
	default:
		return "", types.Errorf(types.CodeValidation, op, "reference has neither digest nor record id")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseShareLink extracts the reference from a share link. When both
// parameters are present the digest wins.
func ParseShareLink(link string) (Ref, error) {
	const op = "parse share link"
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return Ref{}, types.NewError(types.CodeValidation, op, "invalid URL", err)
	}
	q := u.Query()
	if tx := strings.TrimSpace(q.Get("tx")); tx != "" {
		return Ref{Digest: tx}, nil
	}
	if id := strings.TrimSpace(q.Get("id")); id != "" {
		norm, err := types.NormalizeObjectID(id)
		if err != nil {
			return Ref{}, err
		}
		return Ref{RecordID: norm}, nil
	}
	return Ref{}, types.Errorf(types.CodeValidation, op,
		"no proof specified, provide a transaction digest (?tx=...) or object id (?id=...)")
}
