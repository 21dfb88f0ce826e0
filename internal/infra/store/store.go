// Package store persists signed report blobs keyed by their canonical
// content digest. Equivalent content maps to one blob per area: writes are
// atomic (temp file + rename in the same directory) and an existing digest
// short-circuits before any byte hits the disk. Blobs are write-once; the
// store never rewrites an existing file in place.
//
// On-disk layout, stable for interoperability:
//
//	<root>/reports/<digest>.xml   signed, persisted reports
//	<root>/queue/<digest>.xml     reports pending external publication
//	<root>/metadata/<digest>.json caller-supplied metadata sidecars
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jux/internal/domain"
)

const (
	reportsDir  = "reports"
	queueDir    = "queue"
	metadataDir = "metadata"

	reportExt   = ".xml"
	metadataExt = ".json"

	dirMode  = 0o700
	fileMode = 0o600
)

type Storage struct {
	root string
}

// New opens a storage root, creating the area directories on first use. An
// empty root falls back to the platform user-data directory; tests and
// callers with their own layout inject an explicit path instead.
func New(root string) (*Storage, error) {
	if root == "" {
		root = DefaultPath()
	}
	for _, area := range []string{reportsDir, queueDir, metadataDir} {
		if err := os.MkdirAll(filepath.Join(root, area), dirMode); err != nil {
			return nil, fmt.Errorf("create storage area %s: %w", area, err)
		}
	}
	return &Storage{root: root}, nil
}

func (s *Storage) Root() string { return s.root }

// StoreReport persists signed report bytes under their content digest.
// Re-insertion of an already-stored digest is a no-op returning the same
// digest.
func (s *Storage) StoreReport(content []byte, digest string) (string, error) {
	return s.storeBlob(reportsDir, content, digest)
}

// QueueReport places the blob in the queue area for later publication.
func (s *Storage) QueueReport(content []byte, digest string) (string, error) {
	return s.storeBlob(queueDir, content, digest)
}

func (s *Storage) storeBlob(area string, content []byte, digest string) (string, error) {
	if err := validateDigest(digest); err != nil {
		return "", err
	}
	path := s.blobPath(area, digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if err := writeAtomic(path, content); err != nil {
		return "", err
	}
	return digest, nil
}

// GetReport returns the stored bytes for a digest.
func (s *Storage) GetReport(digest string) ([]byte, error) {
	return s.readBlob(reportsDir, digest, domain.ErrNotFound)
}

// GetQueued returns the queued bytes for a digest.
func (s *Storage) GetQueued(digest string) ([]byte, error) {
	return s.readBlob(queueDir, digest, domain.ErrQueuedNotFound)
}

func (s *Storage) readBlob(area, digest string, notFound error) ([]byte, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.blobPath(area, digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", notFound, digest)
		}
		return nil, fmt.Errorf("read report %s: %w", digest, err)
	}
	return data, nil
}

func (s *Storage) ReportExists(digest string) bool {
	_, err := os.Stat(s.blobPath(reportsDir, digest))
	return err == nil
}

func (s *Storage) QueuedExists(digest string) bool {
	_, err := os.Stat(s.blobPath(queueDir, digest))
	return err == nil
}

// ListReports returns the digests stored in the reports area, in stable
// (lexical) order.
func (s *Storage) ListReports() ([]string, error) {
	return s.listArea(reportsDir)
}

// ListQueued returns the digests waiting in the queue area.
func (s *Storage) ListQueued() ([]string, error) {
	return s.listArea(queueDir)
}

func (s *Storage) listArea(area string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, area))
	if err != nil {
		return nil, fmt.Errorf("list storage area %s: %w", area, err)
	}
	digests := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, reportExt) {
			continue
		}
		digests = append(digests, strings.TrimSuffix(name, reportExt))
	}
	return digests, nil
}

// Dequeue moves a queued report into the reports area, marking it
// published. If the reports area already holds the digest the queued copy is
// simply dropped.
func (s *Storage) Dequeue(digest string) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	src := s.blobPath(queueDir, digest)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrQueuedNotFound, digest)
		}
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if s.ReportExists(digest) {
		return os.Remove(src)
	}
	if err := os.Rename(src, s.blobPath(reportsDir, digest)); err != nil {
		return fmt.Errorf("dequeue %s: %w", digest, err)
	}
	return nil
}

// DeleteReport removes a report blob and its metadata sidecar. Deleting a
// digest that is not stored is a no-op.
func (s *Storage) DeleteReport(digest string) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(reportsDir, digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete report %s: %w", digest, err)
	}
	if err := os.Remove(s.metadataPath(digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete metadata %s: %w", digest, err)
	}
	return nil
}

// PutMetadata stores the caller-supplied metadata sidecar for a digest.
func (s *Storage) PutMetadata(digest string, meta domain.ReportMetadata) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeAtomic(s.metadataPath(digest), data)
}

// GetMetadata loads the metadata sidecar for a digest.
func (s *Storage) GetMetadata(digest string) (domain.ReportMetadata, error) {
	var meta domain.ReportMetadata
	if err := validateDigest(digest); err != nil {
		return meta, err
	}
	data, err := os.ReadFile(s.metadataPath(digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, fmt.Errorf("%w: %s", domain.ErrMetadataNotFound, digest)
		}
		return meta, fmt.Errorf("read metadata %s: %w", digest, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode metadata %s: %w", digest, err)
	}
	return meta, nil
}

// Stats aggregates counts, sizes, and the modification-time range across the
// reports and queue areas.
func (s *Storage) Stats() (domain.StorageStats, error) {
	var stats domain.StorageStats
	for _, area := range []string{reportsDir, queueDir} {
		entries, err := os.ReadDir(filepath.Join(s.root, area))
		if err != nil {
			return stats, fmt.Errorf("list storage area %s: %w", area, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), reportExt) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if area == reportsDir {
				stats.ReportCount++
			} else {
				stats.QueuedCount++
			}
			stats.TotalBytes += info.Size()
			mtime := info.ModTime()
			if stats.OldestMTime.IsZero() || mtime.Before(stats.OldestMTime) {
				stats.OldestMTime = mtime
			}
			if stats.NewestMTime.IsZero() || mtime.After(stats.NewestMTime) {
				stats.NewestMTime = mtime
			}
		}
	}
	return stats, nil
}

// CleanupReports removes report blobs strictly older than the given number
// of days, by filesystem timestamp. A blob exactly at the threshold
// survives. Returns the number of blobs removed.
func (s *Storage) CleanupReports(olderThanDays int) (int, error) {
	return s.cleanupArea(reportsDir, olderThanDays, true)
}

// CleanupQueue removes queued blobs strictly older than the threshold.
func (s *Storage) CleanupQueue(olderThanDays int) (int, error) {
	return s.cleanupArea(queueDir, olderThanDays, false)
}

func (s *Storage) cleanupArea(area string, olderThanDays int, sidecars bool) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("invalid age threshold %d", olderThanDays)
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	entries, err := os.ReadDir(filepath.Join(s.root, area))
	if err != nil {
		return 0, fmt.Errorf("list storage area %s: %w", area, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), reportExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		digest := strings.TrimSuffix(entry.Name(), reportExt)
		if err := os.Remove(filepath.Join(s.root, area, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		if sidecars {
			if err := os.Remove(s.metadataPath(digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("remove metadata %s: %w", digest, err)
			}
		}
		removed++
	}
	return removed, nil
}

// PurgeReports unconditionally removes every blob in the reports area and
// all metadata sidecars. Returns the number of blobs removed.
func (s *Storage) PurgeReports() (int, error) {
	removed, err := s.purgeArea(reportsDir, reportExt)
	if err != nil {
		return removed, err
	}
	if _, err := s.purgeArea(metadataDir, metadataExt); err != nil {
		return removed, err
	}
	return removed, nil
}

// PurgeQueue unconditionally removes every blob in the queue area.
func (s *Storage) PurgeQueue() (int, error) {
	return s.purgeArea(queueDir, reportExt)
}

func (s *Storage) purgeArea(area, ext string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, area))
	if err != nil {
		return 0, fmt.Errorf("list storage area %s: %w", area, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, area, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (s *Storage) blobPath(area, digest string) string {
	return filepath.Join(s.root, area, digest+reportExt)
}

func (s *Storage) metadataPath(digest string) string {
	return filepath.Join(s.root, metadataDir, digest+metadataExt)
}

// writeAtomic stages the content in a temp file in the target directory and
// renames it into place, so concurrent writers of the same digest can never
// leave a torn blob behind. Files are owner-only.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// validateDigest keeps digests usable as filenames: lowercase hex only, no
// separators, nothing that could escape the area directory.
func validateDigest(digest string) error {
	if digest == "" {
		return errors.New("empty digest")
	}
	for _, r := range digest {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return fmt.Errorf("invalid digest %q", digest)
		}
	}
	return nil
}
