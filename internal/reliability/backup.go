// Package reliability holds operational safety nets: post-market backups of
// the data directory to an S3-compatible bucket, and ledger maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

const (
	archivePrefix     = "nivesh-backup-"
	archiveTimeLayout = "2006-01-02-150405"
	manifestName      = "backup-manifest.json"

	// Rotation keeps the newest backups regardless of age.
	minBackupsToKeep = 3
)

// ObjectStore is the slice of S3Client the backup service needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// BackupManifest describes the contents of a backup archive.
type BackupManifest struct {
	CreatedAt time.Time     `json:"created_at"`
	DataDir   string        `json:"data_dir"`
	Files     []BackupEntry `json:"files"`
}

// BackupEntry describes a single file inside a backup archive.
type BackupEntry struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes a backup stored in the bucket.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService archives the data directory and ships it to an object store.
// A nil store disables the service: Run becomes a no-op so the post-market
// workflow does not need to know whether a bucket is configured.
type BackupService struct {
	store         ObjectStore
	dataDir       string
	retentionDays int
	log           zerolog.Logger
	now           func() time.Time
}

// NewBackupService creates a backup service for dataDir. store may be nil.
func NewBackupService(store ObjectStore, dataDir string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:         store,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "backup").Logger(),
		now:           time.Now,
	}
}

// Enabled reports whether a bucket is configured.
func (s *BackupService) Enabled() bool {
	return s.store != nil
}

// Run creates and uploads a backup, then rotates old ones. Silently skipped
// when no bucket is configured.
func (s *BackupService) Run(ctx context.Context) error {
	if s.store == nil {
		s.log.Debug().Msg("No backup bucket configured, skipping")
		return nil
	}

	if err := s.CreateAndUpload(ctx); err != nil {
		return err
	}
	return s.RotateOldBackups(ctx)
}

// CreateAndUpload archives the data directory and uploads it.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("no backup bucket configured")
	}

	s.log.Info().Str("data_dir", s.dataDir).Msg("Starting backup")
	start := s.now()

	archive, err := os.CreateTemp("", archivePrefix+"*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	manifest, err := s.writeArchive(archive)
	if err != nil {
		return fmt.Errorf("failed to build archive: %w", err)
	}

	info, err := archive.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind archive: %w", err)
	}

	key := archivePrefix + start.UTC().Format(archiveTimeLayout) + ".tar.gz"
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Int("files", len(manifest.Files)).
		Int64("size_bytes", info.Size()).
		Dur("duration_ms", time.Since(start)).
		Msg("Backup uploaded")
	return nil
}

// writeArchive streams a tar.gz of the data directory into w. Checksums are
// computed while copying and the manifest goes in as the final entry.
func (s *BackupService) writeArchive(w io.Writer) (BackupManifest, error) {
	manifest := BackupManifest{
		CreatedAt: s.now().UTC(),
		DataDir:   filepath.Base(s.dataDir),
	}

	paths, err := s.collectFiles()
	if err != nil {
		return manifest, err
	}

	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	for _, rel := range paths {
		entry, err := s.addFile(tw, rel)
		if err != nil {
			return manifest, fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		manifest.Files = append(manifest.Files, entry)
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return manifest, err
	}
	header := &tar.Header{
		Name:    manifestName,
		Size:    int64(len(encoded)),
		Mode:    0o644,
		ModTime: manifest.CreatedAt,
	}
	if err := tw.WriteHeader(header); err != nil {
		return manifest, err
	}
	if _, err := tw.Write(encoded); err != nil {
		return manifest, err
	}

	if err := tw.Close(); err != nil {
		return manifest, err
	}
	return manifest, gzw.Close()
}

// collectFiles returns the relative paths of every regular file under the
// data directory, sorted. In-flight temp files from atomic saves are skipped.
func (s *BackupService) collectFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk data directory: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// addFile writes one file into the tar stream and returns its manifest entry.
func (s *BackupService) addFile(tw *tar.Writer, rel string) (BackupEntry, error) {
	path := filepath.Join(s.dataDir, rel)

	file, err := os.Open(path)
	if err != nil {
		return BackupEntry{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return BackupEntry{}, err
	}

	header := &tar.Header{
		Name:    filepath.ToSlash(rel),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return BackupEntry{}, err
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tw, hash), file); err != nil {
		return BackupEntry{}, err
	}

	return BackupEntry{
		Path:      filepath.ToSlash(rel),
		SizeBytes: info.Size(),
		Checksum:  fmt.Sprintf("sha256:%x", hash.Sum(nil)),
	}, nil
}

// ListBackups lists backups stored in the bucket, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no backup bucket configured")
	}

	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseArchiveKey(*obj.Key)
		if !ok {
			s.log.Warn().Str("key", *obj.Key).Msg("Unrecognized backup key, skipping")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{
			Key:       *obj.Key,
			Timestamp: ts,
			SizeBytes: size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than the retention period, always
// keeping the newest few. A retention of 0 keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	if s.store == nil || s.retentionDays <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", backup.Key).Time("timestamp", backup.Timestamp).Msg("Deleted old backup")
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("remaining", len(backups)-deleted).
			Msg("Backup rotation completed")
	}
	return nil
}

// parseArchiveKey extracts the timestamp from a backup object key.
func parseArchiveKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
