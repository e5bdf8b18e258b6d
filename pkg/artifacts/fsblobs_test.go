package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBlobStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	hash, err := store.Put(ctx, []byte("hello artifact store"))
	require.NoError(t, err)

	has, err := store.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)

	data, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "hello artifact store", string(data))
}

func TestFSBlobStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSBlobStorePutIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)

	h1, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)
	h2, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
