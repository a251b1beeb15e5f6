package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyOf_StableForSameBytes(t *testing.T) {
	a := KeyOf([]byte("hello"))
	b := KeyOf([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a, KeyPrefixLen)
}

func TestFileStore_PutGetRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := s.Put(context.Background(), []byte("%PDF-1.4 content"))
	require.NoError(t, err)

	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(got))
}

func TestFileStore_PutIsIdempotent(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key1, err := s.Put(context.Background(), []byte("same bytes"))
	require.NoError(t, err)
	key2, err := s.Put(context.Background(), []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

func TestFileStore_ExistsAndDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, err := s.Put(context.Background(), []byte("data"))
	require.NoError(t, err)

	ok, err := s.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(context.Background(), key))

	ok, err = s.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_GetMissingReturnsError(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "deadbeefdeadbeef")
	assert.Error(t, err)
}
