package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/storage/memory"
)

func TestFileIndexPersistsJSONObject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	idx := NewFileIndex(blobs, IndexFile)

	require.NoError(t, idx.Set(ctx, "alice", "abc"))
	require.NoError(t, idx.Set(ctx, "bob", "def"))

	raw, err := blobs.GetObject(ctx, IndexFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alice":"abc","bob":"def"}`, string(raw))
}

func TestFileIndexLoadsExistingFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(ctx, IndexFile, "", bytes.NewReader([]byte(`{"alice":"abc"}`)))
	require.NoError(t, err)

	idx := NewFileIndex(blobs, IndexFile)
	hash, ok, err := idx.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", hash)

	_, ok, err = idx.Get(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileIndexCorruptFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(ctx, IndexFile, "", bytes.NewReader([]byte(`{not json`)))
	require.NoError(t, err)

	_, _, err = NewFileIndex(blobs, IndexFile).Get(ctx, "alice")
	require.Error(t, err)
}
