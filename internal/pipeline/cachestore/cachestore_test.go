package cachestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
)

func testHash(b byte) graph.NodeHash {
	var h graph.NodeHash
	h[0] = b
	return h
}

func TestOpenRejectsMissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestOpenRejectsEmptyDirectory(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}

func TestSaveAndLoadArtifactRoundTrips(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	id := BuildCacheID(testHash(1), []string{"digest"}, "")
	require.NoError(t, store.SaveArtifact(id, int64(16)))

	v, err := store.LoadArtifact(id)
	require.NoError(t, err)
	require.Equal(t, int64(16), v)
}

func TestSaveArtifactIsAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	id := BuildCacheID(testHash(1), []string{"digest"}, "")
	require.NoError(t, store.SaveArtifact(id, "value"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp-", "no temp file should survive a successful write")
	}
}

func TestSaveAndLoadInfoRoundTrips(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	id := BuildCacheID(testHash(2), []string{"digest"}, "")
	info := Info{"duration_ms": float64(42)}
	require.NoError(t, store.SaveInfo(id, info))

	loaded, err := store.LoadInfo(id)
	require.NoError(t, err)
	require.Equal(t, info, loaded)
}

func TestHasArtifactAndRemoveArtifact(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	id := BuildCacheID(testHash(3), []string{"digest"}, "")
	require.False(t, store.HasArtifact(id))

	require.NoError(t, store.SaveArtifact(id, "x"))
	require.True(t, store.HasArtifact(id))

	require.NoError(t, store.RemoveArtifact(id))
	require.False(t, store.HasArtifact(id))

	// Removing an absent artifact is not an error.
	require.NoError(t, store.RemoveArtifact(id))
}

func TestScratchDirIsFreshEachTime(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	id := BuildCacheID(testHash(4), []string{"digest"}, "")

	dir, err := store.ScratchDir(id)
	require.NoError(t, err)
	marker := filepath.Join(dir, "leftover.txt")
	require.NoError(t, os.WriteFile(marker, []byte("stale"), 0o644))

	dir2, err := store.ScratchDir(id)
	require.NoError(t, err)
	require.Equal(t, dir, dir2)

	_, err = os.Stat(marker)
	require.True(t, os.IsNotExist(err), "ScratchDir must remove any pre-existing directory contents")
}

func TestFindByClosureMatchesPrefixAndReturnsToken(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	hash := testHash(5)
	digests := []string{"abc"}
	id := BuildCacheID(hash, digests, "mytoken")
	require.NoError(t, store.SaveArtifact(id, "v"))

	prefix := ClosurePrefix(hash, digests)
	found, token, ok, err := store.FindByClosure(prefix)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, found)
	require.Equal(t, "mytoken", token)
}

func TestFindByClosureNoMatch(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, _, ok, err := store.FindByClosure(ClosurePrefix(testHash(6), []string{"nope"}))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindByClosurePicksMostRecentWhenMultipleTokensMatch(t *testing.T) {
	t.Parallel()

	store, err := Open(t.TempDir())
	require.NoError(t, err)

	hash := testHash(7)
	digests := []string{"same"}

	older := BuildCacheID(hash, digests, "old")
	newer := BuildCacheID(hash, digests, "new")

	require.NoError(t, store.SaveArtifact(older, "v1"))
	// Ensure a distinguishable, later modification time for the second write.
	olderPath := filepath.Join(store.root, string(older)+".p")
	newerPath := filepath.Join(store.root, string(newer)+".p")
	require.NoError(t, store.SaveArtifact(newer, "v2"))

	info1, err := os.Stat(olderPath)
	require.NoError(t, err)
	info2, err := os.Stat(newerPath)
	require.NoError(t, err)
	if !info2.ModTime().After(info1.ModTime()) {
		t.Skip("filesystem mtime resolution too coarse to distinguish writes")
	}

	_, token, ok, err := store.FindByClosure(ClosurePrefix(hash, digests))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", token)
}

func TestBuildCacheIDIsDeterministic(t *testing.T) {
	t.Parallel()

	hash := testHash(9)
	id1 := BuildCacheID(hash, []string{"a", "b"}, "tok")
	id2 := BuildCacheID(hash, []string{"a", "b"}, "tok")
	require.Equal(t, id1, id2)

	id3 := BuildCacheID(hash, []string{"a", "c"}, "tok")
	require.NotEqual(t, id1, id3)
}
