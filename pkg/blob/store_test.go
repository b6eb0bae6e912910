package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/proofvault/pkg/types"
)

func TestComputeID_Deterministic(t *testing.T) {
	a, err := ComputeID([]byte("hello"))
	require.NoError(t, err)
	b, err := ComputeID([]byte("hello"))
	require.NoError(t, err)
	c, err := ComputeID([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "bafk")
}

func TestVerifyID(t *testing.T) {
	id, err := ComputeID([]byte("hello"))
	require.NoError(t, err)

	ok, verifiable := VerifyID(id, []byte("hello"))
	assert.True(t, verifiable)
	assert.True(t, ok)

	ok, verifiable = VerifyID(id, []byte("tampered"))
	assert.True(t, verifiable)
	assert.False(t, ok)

	_, verifiable = VerifyID("walrus-style-id", []byte("hello"))
	assert.False(t, verifiable)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id1, err := store.Upload(ctx, []byte("blob"))
	require.NoError(t, err)
	id2, err := store.Upload(ctx, []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.Len())

	data, err := store.Fetch(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)

	data[0] = 'X'
	again, err := store.Fetch(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), again, "fetch must return a copy")

	_, err = store.Fetch(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrFetch))
}

func TestBadgerStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	id1, err := store.Upload(ctx, []byte("persistent"))
	require.NoError(t, err)
	id2, err := store.Upload(ctx, []byte("persistent"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	has, err := store.Has(ctx, id1)
	require.NoError(t, err)
	assert.True(t, has)

	data, err := store.Fetch(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []byte("persistent"), data)

	_, err = store.Fetch(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrFetch))

	_, err = store.Fetch(ctx, "undefined")
	assert.True(t, errors.Is(err, types.ErrInvalidIdentifier))
}

type countingStore struct {
	Store
	fetches int
}

func (s *countingStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	s.fetches++
	return s.Store.Fetch(ctx, id)
}

func TestCachedStore_ServesRepeatReadsFromMemory(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemoryStore()}
	id, err := inner.Upload(ctx, []byte("cached"))
	require.NoError(t, err)

	cached, err := NewCachedStore(inner, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		data, err := cached.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("cached"), data)
	}
	assert.Equal(t, 1, inner.fetches)
}
