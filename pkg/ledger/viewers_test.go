package ledger_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/ledger"
	"github.com/relves/proofvault/pkg/types"
)

func TestParseApprovedViewers(t *testing.T) {
	a := "0x" + repeat("aa", 32)
	b := "0x" + repeat("bb", 32)
	upperB := "0x" + repeat("BB", 32)

	tests := []struct {
		name      string
		raw       string
		want      []types.Address
		encoding  ledger.ViewerEncoding
		malformed bool
	}{
		{
			name:     "nested",
			raw:      `{"type":"0x2::vec_set::VecSet<address>","fields":{"contents":["` + a + `","` + b + `"]}}`,
			want:     []types.Address{types.Address(a), types.Address(b)},
			encoding: ledger.ViewerEncodingNested,
		},
		{
			name:     "flat",
			raw:      `{"contents":["` + a + `"]}`,
			want:     []types.Address{types.Address(a)},
			encoding: ledger.ViewerEncodingFlat,
		},
		{
			name:     "bare",
			raw:      `["` + b + `"]`,
			want:     []types.Address{types.Address(b)},
			encoding: ledger.ViewerEncodingBare,
		},
		{
			name:     "nested wins over flat",
			raw:      `{"fields":{"contents":["` + a + `"]},"contents":["` + b + `"]}`,
			want:     []types.Address{types.Address(a)},
			encoding: ledger.ViewerEncodingNested,
		},
		{
			name:     "mixed case deduplicated",
			raw:      `["` + b + `","` + upperB + `"]`,
			want:     []types.Address{types.Address(b)},
			encoding: ledger.ViewerEncodingBare,
		},
		{
			name:     "absent",
			raw:      ``,
			want:     []types.Address{},
			encoding: ledger.ViewerEncodingAbsent,
		},
		{
			name:     "null",
			raw:      `null`,
			want:     []types.Address{},
			encoding: ledger.ViewerEncodingAbsent,
		},
		{
			name:     "empty nested",
			raw:      `{"fields":{"contents":[]}}`,
			want:     []types.Address{},
			encoding: ledger.ViewerEncodingNested,
		},
		{
			name:      "unknown object",
			raw:       `{"fields":{"items":["` + a + `"]}}`,
			want:      []types.Address{},
			encoding:  ledger.ViewerEncodingUnknown,
			malformed: true,
		},
		{
			name:      "scalar",
			raw:       `"` + a + `"`,
			want:      []types.Address{},
			encoding:  ledger.ViewerEncodingUnknown,
			malformed: true,
		},
		{
			name:      "invalid entries dropped",
			raw:       `["` + a + `","0x123",42]`,
			want:      []types.Address{types.Address(a)},
			encoding:  ledger.ViewerEncodingBare,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enc, err := ledger.ParseApprovedViewers(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.encoding, enc)
			if tt.malformed {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrMalformedRecord))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
