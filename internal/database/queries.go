package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

// RecordScan upserts the scan outcome for (localHash, siteHost) (spec
// §4.2 record_scan).
func (db *DB) RecordScan(ctx context.Context, localHash, siteHost, localName string, matchID, matchHash *string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scan_results (local_infohash, site_host, local_torrent_name, matched_torrent_id, matched_torrent_hash, checked, scanned_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (local_infohash, site_host) DO UPDATE SET
			local_torrent_name = excluded.local_torrent_name,
			matched_torrent_id = excluded.matched_torrent_id,
			matched_torrent_hash = excluded.matched_torrent_hash,
			scanned_at = excluded.scanned_at
	`, localHash, siteHost, localName, matchID, matchHash, time.Now().UTC())
	return err
}

// IsScanned reports whether (localHash, siteHost) already has a scan
// record (spec §4.2 is_scanned).
func (db *DB) IsScanned(ctx context.Context, localHash, siteHost string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_results WHERE local_infohash = ? AND site_host = ?
	`, localHash, siteHost).Scan(&count)
	return count > 0, err
}

// EnqueueRetry persists an UndownloadedEntry (spec §4.2 enqueue_retry).
func (db *DB) EnqueueRetry(ctx context.Context, entry domain.UndownloadedEntry) error {
	renameMap, err := json.Marshal(entry.RenameMap)
	if err != nil {
		return fmt.Errorf("marshal rename map: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO undownloaded_entries (torrent_id, site_host, download_dir, local_torrent_name, rename_map, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (torrent_id, site_host) DO UPDATE SET
			download_dir = excluded.download_dir,
			local_torrent_name = excluded.local_torrent_name,
			rename_map = excluded.rename_map,
			added_at = excluded.added_at
	`, entry.TorrentID, entry.SiteHost, entry.DownloadDir, entry.LocalTorrentName, string(renameMap), entry.AddedAt.UTC())
	return err
}

// DequeueRetry removes a retry entry after a successful injection
// (spec §4.2 dequeue_retry).
func (db *DB) DequeueRetry(ctx context.Context, torrentID, siteHost string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM undownloaded_entries WHERE torrent_id = ? AND site_host = ?`, torrentID, siteHost)
	return err
}

// ListRetry returns every queued retry for siteHost (spec §4.2
// list_retry).
func (db *DB) ListRetry(ctx context.Context, siteHost string) ([]domain.UndownloadedEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT torrent_id, site_host, download_dir, local_torrent_name, rename_map, added_at
		FROM undownloaded_entries WHERE site_host = ?
	`, siteHost)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.UndownloadedEntry
	for rows.Next() {
		var e domain.UndownloadedEntry
		var renameMap string
		if err := rows.Scan(&e.TorrentID, &e.SiteHost, &e.DownloadDir, &e.LocalTorrentName, &renameMap, &e.AddedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(renameMap), &e.RenameMap); err != nil {
			return nil, fmt.Errorf("unmarshal rename map for %s: %w", e.TorrentID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UncheckedMatch is one row from UncheckedMatches.
type UncheckedMatch struct {
	MatchHash string
	LocalHash string
	LocalName string
	MatchID   string
	SiteHost  string
}

// UncheckedMatches returns every scan result awaiting verification
// (spec §4.2 unchecked_matches).
func (db *DB) UncheckedMatches(ctx context.Context) ([]UncheckedMatch, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT matched_torrent_hash, local_infohash, local_torrent_name, matched_torrent_id, site_host
		FROM scan_results
		WHERE checked = 0 AND matched_torrent_id IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UncheckedMatch
	for rows.Next() {
		var m UncheckedMatch
		if err := rows.Scan(&m.MatchHash, &m.LocalHash, &m.LocalName, &m.MatchID, &m.SiteHost); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkChecked flips the checked flag for the scan result matching
// matchHash (spec §4.2 mark_checked).
func (db *DB) MarkChecked(ctx context.Context, matchHash string, checked bool) error {
	val := 0
	if checked {
		val = 1
	}
	_, err := db.ExecContext(ctx, `UPDATE scan_results SET checked = ? WHERE matched_torrent_hash = ?`, val, matchHash)
	return err
}

// ClearMatch removes a stale match association when the injected
// torrent was itself removed (spec §4.2 clear_match).
func (db *DB) ClearMatch(ctx context.Context, matchHash string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE scan_results SET matched_torrent_id = NULL, matched_torrent_hash = NULL, checked = 0
		WHERE matched_torrent_hash = ?
	`, matchHash)
	return err
}

// JobLastRun returns the job's last run time, or the zero time if it
// has never run (spec §4.2 job_last_run).
func (db *DB) JobLastRun(ctx context.Context, name string) (time.Time, error) {
	var lastRun sql.NullTime
	err := db.QueryRowContext(ctx, `SELECT last_run FROM job_log WHERE name = ?`, name).Scan(&lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return lastRun.Time, nil
}

// RecordJobRun upserts a job's bookkeeping row, incrementing run_count
// (spec §4.2 record_job_run).
func (db *DB) RecordJobRun(ctx context.Context, name string, now time.Time, next *time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO job_log (name, last_run, next_run, run_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (name) DO UPDATE SET
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			run_count = job_log.run_count + 1
	`, name, now.UTC(), nullableTime(next))
	return err
}

// JobRunCount returns how many times name has run (spec §4.2
// job_run_count).
func (db *DB) JobRunCount(ctx context.Context, name string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT run_count FROM job_log WHERE name = ?`, name).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// CacheClientTorrent upserts a ClientTorrentCache row and its file
// list in one transaction (spec §3 ClientTorrentCache). The parent row
// is updated in place, so no FK cascade fires; the prior file rows are
// removed by an explicit DELETE before the new ones are inserted.
func (db *DB) CacheClientTorrent(ctx context.Context, t *domain.LocalTorrent) error {
	trackers, err := json.Marshal(t.Trackers)
	if err != nil {
		return fmt.Errorf("marshal trackers: %w", err)
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO client_torrents (infohash, name, total_size, download_dir, trackers, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (infohash) DO UPDATE SET
				name = excluded.name,
				total_size = excluded.total_size,
				download_dir = excluded.download_dir,
				trackers = excluded.trackers,
				updated_at = excluded.updated_at
		`, t.InfoHash, t.DisplayName, t.TotalSize, t.DownloadDir, string(trackers), time.Now().UTC()); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM client_torrent_files WHERE infohash = ?`, t.InfoHash); err != nil {
			return err
		}

		for _, f := range t.Files {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO client_torrent_files (infohash, file_path, file_size) VALUES (?, ?, ?)
			`, t.InfoHash, f.Path, f.Size); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveClientTorrent drops the cache entry for infohash; the foreign
// key cascade removes its file rows (spec §4.2: "foreign-key cascade
// deletes torrent_files when its client_torrents row is removed").
func (db *DB) RemoveClientTorrent(ctx context.Context, infohash string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM client_torrents WHERE infohash = ?`, infohash)
	return err
}

// FindClientTorrentsBySize looks up candidate local torrents holding a
// file of the given size — the reverse-fingerprint lookup the
// ClientTorrentCache exists to accelerate (spec §3).
func (db *DB) FindClientTorrentsBySize(ctx context.Context, size int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT infohash FROM client_torrent_files WHERE file_size = ?`, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
