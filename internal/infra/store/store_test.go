package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jux/internal/domain"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func digestOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func TestNewCreatesAreas(t *testing.T) {
	root := filepath.Join(t.TempDir(), "deep", "jux")
	s, err := New(root)
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())

	for _, area := range []string{"reports", "queue", "metadata"} {
		info, err := os.Stat(filepath.Join(root, area))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "jux", filepath.Base(DefaultPath()))
}

func TestStoreAndGetReport(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite name="s"/>`)
	digest := digestOf(content)

	got, err := s.StoreReport(content, digest)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	data, err := s.GetReport(digest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.True(t, s.ReportExists(digest))
}

func TestStoreReportIdempotent(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite name="s"/>`)
	digest := digestOf(content)

	_, err := s.StoreReport(content, digest)
	require.NoError(t, err)

	// A second insert under the same digest is a no-op, even with different
	// bytes: blobs are write-once.
	_, err = s.StoreReport([]byte("other"), digest)
	require.NoError(t, err)

	data, err := s.GetReport(digest)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	digests, err := s.ListReports()
	require.NoError(t, err)
	assert.Equal(t, []string{digest}, digests)
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite/>`)
	_, err := s.StoreReport(content, digestOf(content))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "reports"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.Contains(entries[0].Name(), ".tmp"))
}

func TestStoredBlobPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix permissions")
	}
	s := newStorage(t)
	content := []byte(`<testsuite/>`)
	digest := digestOf(content)
	_, err := s.StoreReport(content, digest)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(s.Root(), "reports", digest+".xml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetReportMissing(t *testing.T) {
	s := newStorage(t)
	_, err := s.GetReport(strings.Repeat("a", 64))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvalidDigestRejected(t *testing.T) {
	s := newStorage(t)
	for _, digest := range []string{"", "ABCDEF", "..", "a/b", "xyz", "deadbeef.xml"} {
		_, err := s.StoreReport([]byte("x"), digest)
		require.Error(t, err, digest)
		_, err = s.GetReport(digest)
		require.Error(t, err, digest)
	}
}

func TestListReportsSorted(t *testing.T) {
	s := newStorage(t)
	var want []string
	for _, content := range []string{"<c/>", "<a/>", "<b/>"} {
		digest := digestOf([]byte(content))
		_, err := s.StoreReport([]byte(content), digest)
		require.NoError(t, err)
		want = append(want, digest)
	}
	got, err := s.ListReports()
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.IsIncreasing(t, got)
	assert.ElementsMatch(t, want, got)
}

func TestListEmpty(t *testing.T) {
	s := newStorage(t)
	got, err := s.ListReports()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueueAndDequeue(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite name="q"/>`)
	digest := digestOf(content)

	_, err := s.QueueReport(content, digest)
	require.NoError(t, err)
	assert.True(t, s.QueuedExists(digest))
	assert.False(t, s.ReportExists(digest))

	queued, err := s.ListQueued()
	require.NoError(t, err)
	assert.Equal(t, []string{digest}, queued)

	require.NoError(t, s.Dequeue(digest))
	assert.False(t, s.QueuedExists(digest))
	assert.True(t, s.ReportExists(digest))

	data, err := s.GetReport(digest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDequeueAlreadyStored(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite/>`)
	digest := digestOf(content)
	_, err := s.StoreReport(content, digest)
	require.NoError(t, err)
	_, err = s.QueueReport(content, digest)
	require.NoError(t, err)

	require.NoError(t, s.Dequeue(digest))
	assert.False(t, s.QueuedExists(digest))
	assert.True(t, s.ReportExists(digest))
}

func TestDequeueMissing(t *testing.T) {
	s := newStorage(t)
	err := s.Dequeue(strings.Repeat("b", 64))
	assert.ErrorIs(t, err, domain.ErrQueuedNotFound)
}

func TestGetQueuedMissing(t *testing.T) {
	s := newStorage(t)
	_, err := s.GetQueued(strings.Repeat("c", 64))
	assert.ErrorIs(t, err, domain.ErrQueuedNotFound)
}

func TestDeleteReportIdempotent(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite/>`)
	digest := digestOf(content)
	_, err := s.StoreReport(content, digest)
	require.NoError(t, err)
	require.NoError(t, s.PutMetadata(digest, domain.ReportMetadata{Hostname: "ci-1"}))

	require.NoError(t, s.DeleteReport(digest))
	assert.False(t, s.ReportExists(digest))
	_, err = s.GetMetadata(digest)
	assert.ErrorIs(t, err, domain.ErrMetadataNotFound)

	require.NoError(t, s.DeleteReport(digest))
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newStorage(t)
	digest := digestOf([]byte("<x/>"))
	meta := domain.ReportMetadata{
		Hostname:     "ci-7",
		Username:     "runner",
		Platform:     "linux",
		ToolVersions: map[string]string{"pytest": "8.0.0"},
		Timestamp:    "2026-08-24T12:00:00Z",
		Env:          map[string]string{"CI": "true"},
	}
	require.NoError(t, s.PutMetadata(digest, meta))

	got, err := s.GetMetadata(digest)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestGetMetadataCorrupt(t *testing.T) {
	s := newStorage(t)
	digest := digestOf([]byte("<x/>"))
	path := filepath.Join(s.Root(), "metadata", digest+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := s.GetMetadata(digest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMetadataNotFound)
}

func TestStats(t *testing.T) {
	s := newStorage(t)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.ReportCount)
	assert.Zero(t, stats.QueuedCount)
	assert.Zero(t, stats.TotalBytes)
	assert.True(t, stats.OldestMTime.IsZero())

	stored := []byte(`<testsuite name="stored"/>`)
	queued := []byte(`<testsuite name="queued"/>`)
	_, err = s.StoreReport(stored, digestOf(stored))
	require.NoError(t, err)
	_, err = s.QueueReport(queued, digestOf(queued))
	require.NoError(t, err)

	stats, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ReportCount)
	assert.Equal(t, 1, stats.QueuedCount)
	assert.Equal(t, int64(len(stored)+len(queued)), stats.TotalBytes)
	assert.False(t, stats.OldestMTime.IsZero())
	assert.False(t, stats.NewestMTime.Before(stats.OldestMTime))
}

func TestCleanupReports(t *testing.T) {
	s := newStorage(t)
	now := time.Now()

	fresh := []byte(`<testsuite name="fresh"/>`)
	aging := []byte(`<testsuite name="aging"/>`)
	stale := []byte(`<testsuite name="stale"/>`)
	freshDigest := digestOf(fresh)
	agingDigest := digestOf(aging)
	staleDigest := digestOf(stale)

	for content, digest := range map[string]string{
		string(fresh): freshDigest,
		string(aging): agingDigest,
		string(stale): staleDigest,
	} {
		_, err := s.StoreReport([]byte(content), digest)
		require.NoError(t, err)
	}
	require.NoError(t, s.PutMetadata(staleDigest, domain.ReportMetadata{Hostname: "old"}))

	age := func(digest string, mtime time.Time) {
		path := filepath.Join(s.Root(), "reports", digest+".xml")
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	// Just inside the window and just outside it. The threshold is strict:
	// blobs at the cutoff itself survive.
	age(agingDigest, now.AddDate(0, 0, -3).Add(time.Minute))
	age(staleDigest, now.AddDate(0, 0, -3).Add(-time.Minute))

	removed, err := s.CleanupReports(3)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, s.ReportExists(freshDigest))
	assert.True(t, s.ReportExists(agingDigest))
	assert.False(t, s.ReportExists(staleDigest))

	_, err = s.GetMetadata(staleDigest)
	assert.ErrorIs(t, err, domain.ErrMetadataNotFound)
}

func TestCleanupQueue(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite/>`)
	digest := digestOf(content)
	_, err := s.QueueReport(content, digest)
	require.NoError(t, err)

	path := filepath.Join(s.Root(), "queue", digest+".xml")
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(path, old, old))

	removed, err := s.CleanupQueue(7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, s.QueuedExists(digest))
}

func TestCleanupNegativeDays(t *testing.T) {
	s := newStorage(t)
	_, err := s.CleanupReports(-1)
	require.Error(t, err)
}

func TestCleanupZeroDaysRemovesEverythingOld(t *testing.T) {
	s := newStorage(t)
	content := []byte(`<testsuite/>`)
	digest := digestOf(content)
	_, err := s.StoreReport(content, digest)
	require.NoError(t, err)

	path := filepath.Join(s.Root(), "reports", digest+".xml")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	removed, err := s.CleanupReports(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestPurge(t *testing.T) {
	s := newStorage(t)
	for _, content := range []string{"<a/>", "<b/>"} {
		digest := digestOf([]byte(content))
		_, err := s.StoreReport([]byte(content), digest)
		require.NoError(t, err)
		require.NoError(t, s.PutMetadata(digest, domain.ReportMetadata{}))
	}
	queued := []byte("<q/>")
	_, err := s.QueueReport(queued, digestOf(queued))
	require.NoError(t, err)

	removed, err := s.PurgeReports()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	reports, err := s.ListReports()
	require.NoError(t, err)
	assert.Empty(t, reports)

	metaEntries, err := os.ReadDir(filepath.Join(s.Root(), "metadata"))
	require.NoError(t, err)
	assert.Empty(t, metaEntries)

	removed, err = s.PurgeQueue()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
