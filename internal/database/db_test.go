package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "nemorosa-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := Open(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordScanAndIsScanned(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	scanned, err := db.IsScanned(ctx, "abc123", "redacted.sh")
	require.NoError(t, err)
	assert.False(t, scanned)

	require.NoError(t, db.RecordScan(ctx, "abc123", "redacted.sh", "Some Album", nil, nil))

	scanned, err = db.IsScanned(ctx, "abc123", "redacted.sh")
	require.NoError(t, err)
	assert.True(t, scanned)
}

func TestRecordScanUpsertsOnConflict(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordScan(ctx, "abc123", "redacted.sh", "Old Name", nil, nil))
	matchID, matchHash := "555", "deadbeef"
	require.NoError(t, db.RecordScan(ctx, "abc123", "redacted.sh", "New Name", &matchID, &matchHash))

	matches, err := db.UncheckedMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "New Name", matches[0].LocalName)
	assert.Equal(t, "555", matches[0].MatchID)
}

func TestEnqueueDequeueListRetry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	entry := domain.UndownloadedEntry{
		TorrentID:        "123",
		SiteHost:         "redacted.sh",
		DownloadDir:      "/data/Album",
		LocalTorrentName: "Album",
		RenameMap: []domain.RenameEntry{
			{RemotePath: "Album", LocalLeaf: "AlbumLocal", Priority: 0},
		},
		AddedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, db.EnqueueRetry(ctx, entry))

	list, err := db.ListRetry(ctx, "redacted.sh")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entry.TorrentID, list[0].TorrentID)
	require.Len(t, list[0].RenameMap, 1)
	assert.Equal(t, "AlbumLocal", list[0].RenameMap[0].LocalLeaf)

	require.NoError(t, db.DequeueRetry(ctx, "123", "redacted.sh"))
	list, err = db.ListRetry(ctx, "redacted.sh")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMarkCheckedAndClearMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	matchID, matchHash := "77", "cafebabe"
	require.NoError(t, db.RecordScan(ctx, "hash1", "redacted.sh", "Name", &matchID, &matchHash))

	unchecked, err := db.UncheckedMatches(ctx)
	require.NoError(t, err)
	require.Len(t, unchecked, 1)

	require.NoError(t, db.MarkChecked(ctx, matchHash, true))
	unchecked, err = db.UncheckedMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, unchecked)

	require.NoError(t, db.ClearMatch(ctx, matchHash))

	var count int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_results WHERE matched_torrent_id IS NULL`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestJobLogRecordAndCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	lastRun, err := db.JobLastRun(ctx, "search")
	require.NoError(t, err)
	assert.True(t, lastRun.IsZero())

	now := time.Now().UTC()
	next := now.Add(time.Hour)
	require.NoError(t, db.RecordJobRun(ctx, "search", now, &next))
	require.NoError(t, db.RecordJobRun(ctx, "search", now.Add(time.Minute), &next))

	count, err := db.JobRunCount(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestClientTorrentCacheCascade(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	local := &domain.LocalTorrent{
		InfoHash:    "feedface",
		DisplayName: "Album",
		DownloadDir: "/data/Album",
		TotalSize:   1500,
		Files: []domain.File{
			{Path: "01 Track.flac", Size: 1000},
			{Path: "cover.jpg", Size: 500},
		},
		Trackers: []string{"https://redacted.sh/announce"},
	}
	require.NoError(t, db.CacheClientTorrent(ctx, local))

	hashes, err := db.FindClientTorrentsBySize(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"feedface"}, hashes)

	require.NoError(t, db.RemoveClientTorrent(ctx, "feedface"))

	var fileCount int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM client_torrent_files WHERE infohash = ?`, "feedface")
	require.NoError(t, row.Scan(&fileCount))
	assert.Equal(t, 0, fileCount, "cascade delete should remove orphaned file rows")
}
