package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	uploads map[string][]byte
	objects []types.Object
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeStore) List(_ context.Context, _ string) ([]types.Object, error) {
	return f.objects, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunSkipsWhenNoBucketConfigured(t *testing.T) {
	svc := NewBackupService(nil, t.TempDir(), 30, zerolog.Nop())

	require.False(t, svc.Enabled())
	require.NoError(t, svc.Run(context.Background()))
}

func TestCreateAndUploadArchivesDataDir(t *testing.T) {
	dataDir := t.TempDir()
	writeTestFile(t, dataDir, "journal.db", "ledger bytes")
	writeTestFile(t, dataDir, "paper_trading.json", `{"balance":100000}`)
	writeTestFile(t, dataDir, filepath.Join("cache", "RELIANCE.NS_1d.json"), "[]")
	writeTestFile(t, dataDir, "paper_trading.json.tmp", "in flight")

	store := newFakeStore()
	svc := NewBackupService(store, dataDir, 30, zerolog.Nop())

	require.NoError(t, svc.Run(context.Background()))
	require.Len(t, store.uploads, 1)

	var key string
	for k := range store.uploads {
		key = k
	}
	_, ok := parseArchiveKey(key)
	require.True(t, ok, "upload key %q should carry a parseable timestamp", key)

	gzr, err := gzip.NewReader(bytes.NewReader(store.uploads[key]))
	require.NoError(t, err)
	tr := tar.NewReader(gzr)

	contents := make(map[string][]byte)
	var order []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[header.Name] = data
		order = append(order, header.Name)
	}

	assert.Equal(t, []string{"cache/RELIANCE.NS_1d.json", "journal.db", "paper_trading.json", manifestName}, order)
	assert.Equal(t, "ledger bytes", string(contents["journal.db"]))
	assert.NotContains(t, contents, "paper_trading.json.tmp")

	var manifest BackupManifest
	require.NoError(t, json.Unmarshal(contents[manifestName], &manifest))
	require.Len(t, manifest.Files, 3)
	for _, entry := range manifest.Files {
		want := fmt.Sprintf("sha256:%x", sha256.Sum256(contents[entry.Path]))
		assert.Equal(t, want, entry.Checksum, entry.Path)
		assert.Equal(t, int64(len(contents[entry.Path])), entry.SizeBytes, entry.Path)
	}
}

func TestListBackupsSortsNewestFirst(t *testing.T) {
	store := newFakeStore()
	store.objects = []types.Object{
		{Key: aws.String("nivesh-backup-2026-08-20-160000.tar.gz"), Size: aws.Int64(100)},
		{Key: aws.String("nivesh-backup-2026-08-24-160000.tar.gz"), Size: aws.Int64(300)},
		{Key: aws.String("unrelated-object.txt"), Size: aws.Int64(5)},
		{Key: aws.String("nivesh-backup-2026-08-22-160000.tar.gz"), Size: aws.Int64(200)},
	}

	svc := NewBackupService(store, t.TempDir(), 30, zerolog.Nop())
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 3)
	assert.Equal(t, "nivesh-backup-2026-08-24-160000.tar.gz", backups[0].Key)
	assert.Equal(t, "nivesh-backup-2026-08-20-160000.tar.gz", backups[2].Key)
	assert.Equal(t, int64(300), backups[0].SizeBytes)
}

func TestRotateKeepsNewestAndRetention(t *testing.T) {
	now := time.Date(2026, 8, 26, 18, 0, 0, 0, time.UTC)
	mkKey := func(daysAgo int) string {
		return archivePrefix + now.AddDate(0, 0, -daysAgo).Format(archiveTimeLayout) + ".tar.gz"
	}

	store := newFakeStore()
	for _, days := range []int{0, 1, 2, 5, 10, 40} {
		store.objects = append(store.objects, types.Object{Key: aws.String(mkKey(days)), Size: aws.Int64(1)})
	}

	svc := NewBackupService(store, t.TempDir(), 7, zerolog.Nop())
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.RotateOldBackups(context.Background()))

	// Only entries past the newest three AND older than 7 days go.
	assert.ElementsMatch(t, []string{mkKey(10), mkKey(40)}, store.deleted)
}

func TestRotateKeepsEverythingWithZeroRetention(t *testing.T) {
	store := newFakeStore()
	store.objects = []types.Object{
		{Key: aws.String("nivesh-backup-2020-01-01-000000.tar.gz"), Size: aws.Int64(1)},
	}

	svc := NewBackupService(store, t.TempDir(), 0, zerolog.Nop())
	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Empty(t, store.deleted)
}

func TestParseArchiveKey(t *testing.T) {
	ts, ok := parseArchiveKey("nivesh-backup-2026-08-26-154500.tar.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 26, 15, 45, 0, 0, time.UTC), ts)

	_, ok = parseArchiveKey("nivesh-backup-garbage.tar.gz")
	assert.False(t, ok)

	_, ok = parseArchiveKey("other-prefix-2026-08-26-154500.tar.gz")
	assert.False(t, ok)
}
