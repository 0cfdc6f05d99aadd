// Package archive copies completed run directories to durable storage.
// The store abstraction keeps the archiver independent of a specific
// backend (Google Cloud Storage or the local filesystem).
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/hash/sha256"
)

// Store defines the common interface for an archive backend.
type Store interface {
	// Save uploads data to a specified object path/key in the store.
	Save(ctx context.Context, objectName string, data []byte) error
}

// NoOpStore discards archived objects. Useful for dry runs where the
// archive step should be exercised without writing anywhere.
type NoOpStore struct{}

// Save does nothing and always returns nil.
func (NoOpStore) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}

// ManifestName is the integrity manifest written next to the archived
// files, listing the SHA-256 digest of every object.
const ManifestName = "manifest.json"

// Manifest records what was archived and the digest of each file.
type Manifest struct {
	Run        string            `json:"run"`
	ArchivedAt time.Time         `json:"archived_at"`
	Files      map[string]string `json:"files"`
}

// Archiver walks a run directory and saves every file to the store.
type Archiver struct {
	store  Store
	prefix string
	hasher *sha256.Hasher
	logger *zap.Logger
}

// NewArchiver wires a store and an object-name prefix.
func NewArchiver(store Store, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, prefix: prefix, hasher: sha256.New(), logger: logger}
}

// ArchiveRun uploads every file under the run directory, preserving the
// relative layout beneath prefix/<run name>/, then writes an integrity
// manifest with per-file SHA-256 digests. It returns the number of files
// archived, not counting the manifest.
func (a *Archiver) ArchiveRun(ctx context.Context, run experiment.Run) (int, error) {
	manifest := Manifest{Run: run.Name, Files: map[string]string{}}
	archived := 0
	err := filepath.WalkDir(run.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(run.Path, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		object := path.Join(a.prefix, run.Name, filepath.ToSlash(rel))
		if err := a.store.Save(ctx, object, data); err != nil {
			return fmt.Errorf("save %s: %w", object, err)
		}
		digest, err := a.hasher.Hash(data)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		manifest.Files[filepath.ToSlash(rel)] = digest
		a.logger.Debug("archived file",
			zap.String("run", run.Name),
			zap.String("object", object),
			zap.Int("bytes", len(data)),
		)
		archived++
		return nil
	})
	if err != nil {
		return archived, fmt.Errorf("archive run %s: %w", run.Name, err)
	}

	manifest.ArchivedAt = time.Now().UTC()
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return archived, fmt.Errorf("marshal manifest: %w", err)
	}
	object := path.Join(a.prefix, run.Name, ManifestName)
	if err := a.store.Save(ctx, object, data); err != nil {
		return archived, fmt.Errorf("save manifest: %w", err)
	}
	return archived, nil
}
