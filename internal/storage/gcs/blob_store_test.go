package gcs

import (
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, Config{Bucket: "grades"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(&gstorage.Client{}, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewKeepsBucket(t *testing.T) {
	store, err := New(&gstorage.Client{}, Config{Bucket: "grades"})
	require.NoError(t, err)
	assert.Equal(t, "grades", store.bucket)
}
