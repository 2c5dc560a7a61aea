package secretstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = store.WriteKV("jwks-private/kid-1", map[string]any{"pem": "abc"})
	require.NoError(t, err)

	data, err := store.ReadKV("jwks-private/kid-1")
	require.NoError(t, err)
	require.Equal(t, "abc", data["pem"])
}

func TestFileStoreReadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.ReadKV("does/not/exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.DeleteKV("device/handle-1"))

	require.NoError(t, store.WriteKV("device/handle-1", map[string]any{"pem": "x"}))
	require.NoError(t, store.DeleteKV("device/handle-1"))

	_, err = store.ReadKV("device/handle-1")
	require.ErrorIs(t, err, ErrNotFound)
}
