// Package snapshot persists the last known grades of each instance together
// with a content hash, so an unchanged fetch can be recognized without
// loading the previous snapshot.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/hash/sha256"
	"github.com/JakeFAU/gradewatch/internal/storage"
)

// IndexFile is the name of the hash index object next to the snapshots.
const IndexFile = "metadatas.json"

// ValidateInstanceName rejects names that cannot be stored as a flat
// <name>.json object beside the index.
func ValidateInstanceName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("instance name is required")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("instance name %q must not contain path separators", name)
	case name == "." || name == "..":
		return fmt.Errorf("instance name %q is not a valid object name", name)
	case name+".json" == IndexFile:
		return fmt.Errorf("instance name %q is reserved for the hash index", name)
	}
	return nil
}

// Store implements grades.SnapshotStore on a blob store and a HashIndex.
type Store struct {
	blobs  storage.BlobStore
	index  HashIndex
	hasher grades.Hasher
	prefix string
	logger *zap.Logger
}

var _ grades.SnapshotStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix places snapshots under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store. A nil index defaults to a FileIndex stored next to the
// snapshots; a nil hasher defaults to SHA-256.
func New(blobs storage.BlobStore, index HashIndex, hasher grades.Hasher, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		index:  index,
		hasher: hasher,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = sha256.New()
	}
	if s.index == nil {
		s.index = NewFileIndex(blobs, s.IndexPath())
	}
	return s
}

// IndexPath returns where the default FileIndex lives.
func (s *Store) IndexPath() string {
	return path.Join(s.prefix, IndexFile)
}

func (s *Store) snapshotPath(instance string) (string, error) {
	if err := ValidateInstanceName(instance); err != nil {
		return "", grades.NewError(grades.KindPersistence, "resolve snapshot path", err)
	}
	return path.Join(s.prefix, instance+".json"), nil
}

// IsFirstRun reports whether nothing usable has been saved for instance. Both
// the snapshot object and its index entry must exist for a run to count.
func (s *Store) IsFirstRun(ctx context.Context, instance string) (bool, error) {
	snapPath, err := s.snapshotPath(instance)
	if err != nil {
		return false, err
	}
	if _, ok, err := s.index.Get(ctx, instance); err != nil {
		return false, grades.NewError(grades.KindPersistence, "read hash index", err)
	} else if !ok {
		return true, nil
	}
	_, err = s.blobs.GetObject(ctx, snapPath)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("hash index entry without snapshot", zap.String("instance", instance))
		return true, nil
	}
	if err != nil {
		return false, grades.NewError(grades.KindPersistence, "read snapshot", err)
	}
	return false, nil
}

// Load returns the saved snapshot for instance.
func (s *Store) Load(ctx context.Context, instance string) (grades.Snapshot, error) {
	snapPath, err := s.snapshotPath(instance)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.GetObject(ctx, snapPath)
	if err != nil {
		return nil, grades.NewError(grades.KindPersistence, "read snapshot", err)
	}
	snap, err := grades.DecodeResources(data)
	if err != nil {
		return nil, grades.NewError(grades.KindPersistence, "decode stored snapshot", err)
	}
	return snap, nil
}

// Save validates snap, writes it and records its hash. An invalid snapshot is
// rejected before anything is written.
func (s *Store) Save(ctx context.Context, instance string, snap grades.Snapshot) error {
	if err := grades.Validate(snap); err != nil {
		return err
	}
	snapPath, err := s.snapshotPath(instance)
	if err != nil {
		return err
	}
	data, hash, err := s.encode(snap)
	if err != nil {
		return err
	}
	uri, err := s.blobs.PutObject(ctx, snapPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return grades.NewError(grades.KindPersistence, "write snapshot", err)
	}
	if err := s.index.Set(ctx, instance, hash); err != nil {
		return grades.NewError(grades.KindPersistence, "update hash index", err)
	}
	s.logger.Debug("snapshot saved",
		zap.String("instance", instance),
		zap.String("uri", uri),
		zap.String("hash", hash),
		zap.Int("resources", len(snap)))
	return nil
}

// IsUnchanged compares the candidate's hash with the recorded one.
func (s *Store) IsUnchanged(ctx context.Context, instance string, candidate grades.Snapshot) (bool, error) {
	_, hash, err := s.encode(candidate)
	if err != nil {
		return false, err
	}
	stored, ok, err := s.index.Get(ctx, instance)
	if err != nil {
		return false, grades.NewError(grades.KindPersistence, "read hash index", err)
	}
	return ok && stored == hash, nil
}

// encode serializes snap; map keys are sorted by encoding/json so equal
// snapshots produce equal bytes.
func (s *Store) encode(snap grades.Snapshot) ([]byte, string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, "", grades.NewError(grades.KindPersistence, "encode snapshot", err)
	}
	hash, err := s.hasher.Hash(data)
	if err != nil {
		return nil, "", grades.NewError(grades.KindPersistence, "hash snapshot", err)
	}
	return data, hash, nil
}
