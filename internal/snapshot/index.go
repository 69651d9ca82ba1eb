package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/gradewatch/internal/storage"
)

// HashIndex maps instance names to the content hash of their saved snapshot.
// It is the only state shared across instances; implementations must
// serialize writers.
type HashIndex interface {
	Get(ctx context.Context, instance string) (hash string, ok bool, err error)
	Set(ctx context.Context, instance, hash string) error
}

// FileIndex keeps the whole index in one JSON object in a blob store. Reads are
// served from a cache filled on first use; writes rewrite the file under a lock.
type FileIndex struct {
	blobs storage.BlobStore
	path  string

	mu     sync.Mutex
	loaded bool
	hashes map[string]string
}

var _ HashIndex = (*FileIndex)(nil)

// NewFileIndex returns an index stored at path.
func NewFileIndex(blobs storage.BlobStore, path string) *FileIndex {
	return &FileIndex{blobs: blobs, path: path, hashes: map[string]string{}}
}

// Get returns the recorded hash for instance.
func (f *FileIndex) Get(ctx context.Context, instance string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(ctx); err != nil {
		return "", false, err
	}
	hash, ok := f.hashes[instance]
	return hash, ok, nil
}

// Set records hash for instance and persists the index.
func (f *FileIndex) Set(ctx context.Context, instance, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(ctx); err != nil {
		return err
	}
	next := maps.Clone(f.hashes)
	next[instance] = hash
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode hash index: %w", err)
	}
	if _, err := f.blobs.PutObject(ctx, f.path, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write hash index: %w", err)
	}
	f.hashes = next
	return nil
}

func (f *FileIndex) loadLocked(ctx context.Context) error {
	if f.loaded {
		return nil
	}
	data, err := f.blobs.GetObject(ctx, f.path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		f.loaded = true
		return nil
	case err != nil:
		return fmt.Errorf("read hash index: %w", err)
	}
	hashes := map[string]string{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &hashes); err != nil {
			return fmt.Errorf("decode hash index: %w", err)
		}
	}
	f.hashes = hashes
	f.loaded = true
	return nil
}
