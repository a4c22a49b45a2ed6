// Package cachestore implements the on-disk artifact, info-sidecar, and
// scratch-directory layout, following a write-to-temp-then-rename
// discipline generalized to per-node files instead of a single shared JSON
// document.
package cachestore

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gofrs/uuid/v5"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

// CacheID is the filesystem-safe key a node's artifact, info sidecar, and
// scratch directory are addressed by.
type CacheID string

// BuildCacheID computes the cache identifier for a node: its hash, the md5
// of its ordered source digest closure, and its stringified validation
// token, joined with a double-underscore separator.
func BuildCacheID(nodeHash graph.NodeHash, sourceDigestClosure []string, validationToken string) CacheID {
	joined := strings.Join(sourceDigestClosure, "")
	closureSum := md5.Sum([]byte(joined))
	return CacheID(fmt.Sprintf("%s__%s__%s", nodeHash.String(), hex.EncodeToString(closureSum[:]), validationToken))
}

// Store manages artifact, info, and scratch-directory files rooted under a
// single working directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, which must already exist; caching is
// simply disabled for a run with no working directory.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cachestore: empty working directory")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, pipelineerr.NewCacheError(dir, fmt.Errorf("cachestore: working directory: %w", err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cachestore: %q is not a directory", dir)
	}
	return &Store{root: dir}, nil
}

func (s *Store) artifactPath(id CacheID) string {
	return filepath.Join(s.root, string(id)+".p")
}

func (s *Store) infoPath(id CacheID) string {
	return filepath.Join(s.root, string(id)+".info")
}

func (s *Store) scratchPath(id CacheID) (string, error) {
	return securejoin.SecureJoin(s.root, string(id)+".cache")
}

// HasArtifact reports whether an artifact file exists for id, without
// reading it.
func (s *Store) HasArtifact(id CacheID) bool {
	_, err := os.Stat(s.artifactPath(id))
	return err == nil
}

// ArtifactModTime returns the artifact file's modification time.
func (s *Store) ArtifactModTime(id CacheID) (time.Time, error) {
	info, err := os.Stat(s.artifactPath(id))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// LoadArtifact decodes the artifact stored under id. Artifacts are encoded
// with encoding/gob, a stable self-delimiting binary format that preserves
// an artifact's concrete type: gob round-trips interface{} payloads whose
// concrete types are gob's built-in basic types or have been registered
// with gob.Register; any other concrete type fails to encode.
func (s *Store) LoadArtifact(id CacheID) (interface{}, error) {
	data, err := os.ReadFile(s.artifactPath(id))
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("cachestore: decode artifact %s: %w", id, err)
	}
	return v, nil
}

// SaveArtifact writes value atomically: encode to a temp file in the same
// directory, then rename over the destination.
func (s *Store) SaveArtifact(id CacheID, value interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return fmt.Errorf("cachestore: encode artifact %s: %w", id, err)
	}
	return s.writeAtomic(s.artifactPath(id), buf.Bytes())
}

// Info is the per-node side-channel data persisted alongside an artifact.
type Info map[string]interface{}

// LoadInfo decodes the info sidecar stored under id.
func (s *Store) LoadInfo(id CacheID) (Info, error) {
	data, err := os.ReadFile(s.infoPath(id))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("cachestore: decode info %s: %w", id, err)
	}
	return info, nil
}

// SaveInfo writes the info sidecar atomically.
func (s *Store) SaveInfo(id CacheID, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("cachestore: encode info %s: %w", id, err)
	}
	return s.writeAtomic(s.infoPath(id), data)
}

func (s *Store) writeAtomic(dest string, data []byte) error {
	tmpName := filepath.Join(filepath.Dir(dest), fmt.Sprintf(".%s.tmp-%s", filepath.Base(dest), uuid.Must(uuid.NewV4()).String()))
	if err := os.WriteFile(tmpName, data, 0o644); err != nil {
		return fmt.Errorf("cachestore: write temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cachestore: rename into place: %w", err)
	}
	return nil
}

// ExistingScratchDirPath resolves id's scratch directory path without
// creating or clearing it, for read-only callers such as the invalidator's
// validate pass.
func (s *Store) ExistingScratchDirPath(id CacheID) (string, error) {
	return s.scratchPath(id)
}

// ScratchDir returns (creating if necessary) the fresh, empty scratch
// directory for id, removing any pre-existing one first: directory
// creation is idempotent.
func (s *Store) ScratchDir(id CacheID) (string, error) {
	dir, err := s.scratchPath(id)
	if err != nil {
		return "", fmt.Errorf("cachestore: scratch path for %s: %w", id, err)
	}
	if err := s.RemoveScratchDir(id); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cachestore: create scratch dir %s: %w", id, err)
	}
	return dir, nil
}

// RemoveScratchDir removes id's scratch directory, tolerating
// write-protected entries by retrying with relaxed permissions.
func (s *Store) RemoveScratchDir(id CacheID) error {
	dir, err := s.scratchPath(id)
	if err != nil {
		return fmt.Errorf("cachestore: scratch path for %s: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		if !os.IsPermission(err) {
			return fmt.Errorf("cachestore: remove scratch dir %s: %w", id, err)
		}
		if walkErr := relaxPermissions(dir); walkErr != nil {
			return fmt.Errorf("cachestore: relax permissions under %s: %w", id, walkErr)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cachestore: remove scratch dir %s after relaxing permissions: %w", id, err)
		}
	}
	return nil
}

func relaxPermissions(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		mode := info.Mode()
		if info.IsDir() {
			mode |= 0o700
		} else {
			mode |= 0o600
		}
		return os.Chmod(path, mode)
	})
}

// RemoveArtifact deletes id's artifact file, used during ephemeral
// reclamation. Absence is not an error.
func (s *Store) RemoveArtifact(id CacheID) error {
	if err := os.Remove(s.artifactPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cachestore: remove artifact %s: %w", id, err)
	}
	return nil
}

// ClosurePrefix returns the "node_hash__closure_md5__" prefix that
// identifies every cache entry sharing nodeHash's identity and current
// source digest closure, regardless of validation token.
func ClosurePrefix(nodeHash graph.NodeHash, sourceDigestClosure []string) string {
	closureSum := md5.Sum([]byte(strings.Join(sourceDigestClosure, "")))
	return fmt.Sprintf("%s__%s__", nodeHash.String(), hex.EncodeToString(closureSum[:]))
}

// FindByClosure scans the working directory for the most recently written
// cache entry whose id starts with prefix, returning its CacheID and the
// validation token recorded in its name.
func (s *Store) FindByClosure(prefix string) (id CacheID, token string, found bool, err error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", "", false, fmt.Errorf("cachestore: list working directory: %w", err)
	}

	var bestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".p") || !strings.HasPrefix(name, prefix) {
			continue
		}
		candidate := CacheID(strings.TrimSuffix(name, ".p"))
		modTime, statErr := s.ArtifactModTime(candidate)
		if statErr != nil {
			continue
		}
		if !found || modTime.After(bestTime) {
			id, bestTime, found = candidate, modTime, true
		}
	}
	if found {
		token = strings.TrimPrefix(string(id), prefix)
	}
	return id, token, found, nil
}
