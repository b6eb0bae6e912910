package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relves/proofvault/pkg/types"
)

// ViewerEncoding identifies which on-ledger shape approved_viewers used.
type ViewerEncoding int

const (
	ViewerEncodingAbsent ViewerEncoding = iota
	ViewerEncodingNested                // {"fields":{"contents":[...]}}
	ViewerEncodingFlat                  // {"contents":[...]}
	ViewerEncodingBare                  // [...]
	ViewerEncodingUnknown
)

func (e ViewerEncoding) String() string {
	switch e {
	case ViewerEncodingAbsent:
		return "absent"
	case ViewerEncodingNested:
		return "nested"
	case ViewerEncodingFlat:
		return "flat"
	case ViewerEncodingBare:
		return "bare"
	default:
		return "unknown"
	}
}

// ParseApprovedViewers decodes the approved_viewers field. Shapes are tried
// in order nested, flat, bare. An unrecognized shape yields an empty set and
// a MalformedRecord error; entries that are not valid addresses are dropped
// and reported the same way. The returned set is lowercase and deduplicated.
// A non-nil error never invalidates the returned addresses.
func ParseApprovedViewers(raw json.RawMessage) ([]types.Address, ViewerEncoding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []types.Address{}, ViewerEncodingAbsent, nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return []types.Address{}, ViewerEncodingUnknown,
			types.NewError(types.CodeMalformedRecord, "parse approved viewers", "invalid JSON", err)
	}

	entries, enc := matchViewerShape(v)
	if enc == ViewerEncodingUnknown {
		return []types.Address{}, enc, types.Errorf(types.CodeMalformedRecord, "parse approved viewers",
			"unrecognized encoding: %s", truncate(string(trimmed), 120))
	}

	out := make([]types.Address, 0, len(entries))
	seen := make(map[types.Address]struct{}, len(entries))
	var bad []string
	for _, e := range entries {
		s, ok := e.(string)
		if !ok {
			bad = append(bad, fmt.Sprintf("%v", e))
			continue
		}
		addr, err := types.ParseAddress(s)
		if err != nil {
			bad = append(bad, s)
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	if len(bad) > 0 {
		return out, enc, types.Errorf(types.CodeMalformedRecord, "parse approved viewers",
			"dropped %d invalid entries: %s", len(bad), strings.Join(bad, ", "))
	}
	return out, enc, nil
}

func matchViewerShape(v any) ([]any, ViewerEncoding) {
	if m, ok := v.(map[string]any); ok {
		if fields, ok := m["fields"].(map[string]any); ok {
			if contents, ok := fields["contents"].([]any); ok {
				return contents, ViewerEncodingNested
			}
		}
		if contents, ok := m["contents"].([]any); ok {
			return contents, ViewerEncodingFlat
		}
		return nil, ViewerEncodingUnknown
	}
	if arr, ok := v.([]any); ok {
		return arr, ViewerEncodingBare
	}
	return nil, ViewerEncodingUnknown
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
