// Package cache provides build caching for binding modules.
//
// Every module build is keyed by a SHA256 hash of its input files, build
// options and the platform extension suffix. The cache:
//
//  1. Stores the entry metadata per module name in BoltDB
//  2. Keeps a copy of each successfully built module under artifacts/<hash>/
//  3. Restores a deleted output from that copy when the inputs are unchanged
//  4. Records fallback install attempts in a separate ledger bucket, so a
//     repeated configure run does not retry an install that just failed
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DefaultCacheDir is the default cache directory name
	DefaultCacheDir = ".f2mod-cache"

	// bucketName is the BoltDB bucket name for module build entries
	bucketName = "builds"

	// installBucketName is the BoltDB bucket name for the install ledger
	installBucketName = "installs"
)

// Cache manages build artifacts and metadata using BoltDB
type Cache struct {
	db   *bbolt.DB
	root string // Root directory for cache (.f2mod-cache/)
}

// New creates a new cache instance
// If cacheDir is empty, uses DefaultCacheDir in current working directory
func New(cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}

		cacheDir = filepath.Join(cwd, DefaultCacheDir)
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Open BoltDB
	dbPath := filepath.Join(cacheDir, "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, installBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{
		db:   db,
		root: cacheDir,
	}, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Root returns the cache directory
func (c *Cache) Root() string {
	return c.root
}

// Get retrieves the last build entry for a module
// Returns nil if cache miss
func (c *Cache) Get(module string) (*Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data := b.Get([]byte(module))
		if data == nil {
			return nil // Cache miss
		}

		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}

	if entry.Hash == "" {
		return nil, nil // Cache miss
	}

	return &entry, nil
}

// Store saves a module build entry and, for successful builds, copies the
// outputs found in outDir into the artifact store
func (c *Cache) Store(entry Entry, outDir string) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	// Copy artifacts to cache first, so an entry never points at nothing
	if entry.Success && len(entry.Outputs) > 0 {
		if err := CopyArtifacts(outDir, c.artifactDir(entry.Hash), entry.Outputs); err != nil {
			return fmt.Errorf("failed to copy artifacts: %w", err)
		}
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(entry.Module), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// Restore copies cached artifacts back to destDir
func (c *Cache) Restore(entry *Entry, destDir string) error {
	if !entry.Success || len(entry.Outputs) == 0 {
		return fmt.Errorf("cannot restore failed build or build with no outputs")
	}

	return RestoreArtifacts(c.artifactDir(entry.Hash), destDir, entry.Outputs)
}

// HasArtifacts reports whether every output of entry is present in the
// artifact store
func (c *Cache) HasArtifacts(entry *Entry) bool {
	if entry == nil || !entry.Success || len(entry.Outputs) == 0 {
		return false
	}

	for _, output := range entry.Outputs {
		if _, err := os.Stat(filepath.Join(c.artifactDir(entry.Hash), output)); err != nil {
			return false
		}
	}

	return true
}

// RecordInstall stores the outcome of an install attempt
func (c *Cache) RecordInstall(rec InstallRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(installBucketName))

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return b.Put([]byte(rec.Spec), data)
	})
}

// LastInstall returns the most recent install attempt for spec
// Returns nil if none was recorded
func (c *Cache) LastInstall(spec string) (*InstallRecord, error) {
	var rec *InstallRecord
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(installBucketName)).Get([]byte(spec))
		if data == nil {
			return nil
		}

		rec = &InstallRecord{}

		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Clear removes all cache entries, install records and artifacts
func (c *Cache) Clear() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, installBucketName} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}

			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Remove artifacts directory
	artifactsDir := filepath.Join(c.root, "artifacts")
	if err := os.RemoveAll(artifactsDir); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}

	return nil
}

// Stats holds cache statistics
type Stats struct {
	Entries       int
	Installs      int
	ArtifactBytes int64
}

// Stats returns cache statistics
func (c *Cache) Stats() (Stats, error) {
	var stats Stats

	err := c.db.View(func(tx *bbolt.Tx) error {
		stats.Entries = tx.Bucket([]byte(bucketName)).Stats().KeyN
		stats.Installs = tx.Bucket([]byte(installBucketName)).Stats().KeyN

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	// Calculate total artifact size
	artifactsDir := filepath.Join(c.root, "artifacts")
	_ = filepath.Walk(artifactsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			stats.ArtifactBytes += info.Size()
		}

		return nil
	})

	return stats, nil
}

// artifactDir returns the directory path for a given cache hash
func (c *Cache) artifactDir(hash string) string {
	return filepath.Join(c.root, "artifacts", hash)
}
