// Package inject implements spec §4.7's injection orchestrator: obtain
// metainfo, build the remote file map, compute a rename map, then a
// bounded-retry add/rename/verify sequence that hands the resulting
// hash to the verification tracker.
//
// Grounded on internal/services/dirscan/inject.go's Injector.Inject
// method (add → rename → recheck sequencing, retry accounting), scaled
// down from its link-tree/materialization machinery (not needed here,
// since this engine always points at payload the local client already
// owns) to the spec's plainer add-then-rewire flow.
package inject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter"
	"github.com/gabrieldemian/nemorosa/internal/domain"
	"github.com/gabrieldemian/nemorosa/internal/match"
	"github.com/gabrieldemian/nemorosa/internal/metainfo"
	"github.com/gabrieldemian/nemorosa/internal/reconcile"
)

// Site is the subset of trackersite.Client the orchestrator needs.
type Site interface {
	Host() string
	AnnounceURL() string
	TorrentURL(torrentID string) string
	DownloadTorrent(ctx context.Context, torrentID string) ([]byte, error)
}

// Tracker is the subset of the verification tracker the orchestrator
// hands newly injected hashes to.
type Tracker interface {
	Track(matchHash string)
}

// Stats accumulates the per-run counters spec §4.7 requires
// (scanned/found/downloaded/cnt_dl_fail).
type Stats struct {
	Scanned     int
	Found       int
	Downloaded  int
	DlFailCount int
}

func (s *Stats) recordDownloadFailure() {
	s.DlFailCount++
	if s.DlFailCount <= 10 {
		log.Warn().Int("count", s.DlFailCount).Msg("inject: download failed — may have hit non-browser download limit")
	}
}

// Outcome is the result of one Inject call. When Requeued is true, the
// caller (the engine, which owns persistence) must call
// database.EnqueueRetry with the carried RetryEntry — spec §4.7 step 5
// ("enqueue_retry(remote_id, S.host, {download_dir, local_torrent_name,
// rename_map})").
type Outcome struct {
	NewHash    string // empty on failure
	Requeued   bool
	RetryEntry domain.UndownloadedEntry
	Conflict   *clientadapter.Conflict
}

// Inject implements spec §4.7 end to end for one accepted match
// against one local torrent.
func Inject(ctx context.Context, adapter clientadapter.Adapter, site Site, tracker Tracker, local *domain.LocalTorrent, result *match.Result, remoteID string, stats *Stats) (*Outcome, error) {
	mi, err := obtainMetainfo(ctx, site, result, remoteID)
	if err != nil {
		return nil, fmt.Errorf("inject: obtain metainfo: %w", err)
	}

	remoteFiles, err := mi.FlatFiles()
	if err != nil {
		return nil, fmt.Errorf("inject: build remote file list: %w", err)
	}

	renameMap, err := reconcile.GenerateRenameMap(local.FileEntries(), remoteFiles)
	if err != nil {
		var conflict *reconcile.Conflict
		if errors.As(err, &conflict) {
			return requeue(remoteID, site.Host(), local, nil), nil
		}
		return nil, fmt.Errorf("inject: compute rename map: %w", err)
	}

	torrentBytes, err := mi.Serialize()
	if err != nil {
		return nil, fmt.Errorf("inject: serialize metainfo: %w", err)
	}

	useExistingMetainfo := result.UseExistingMetainfo
	newHash, conflict, err := injectWithRetry(ctx, adapter, torrentBytes, local, renameMap, useExistingMetainfo, stats)
	if conflict != nil {
		// spec §4.7 step 4: "on TorrentConflict, do not retry, surface
		// to caller with an explanatory message."
		return &Outcome{Conflict: conflict}, nil
	}
	if err != nil {
		return requeue(remoteID, site.Host(), local, renameMap), nil
	}

	stats.Downloaded++
	tracker.Track(newHash)
	return &Outcome{NewHash: newHash}, nil
}

// Retry redrives a previously queued UndownloadedEntry (spec §4.2
// inject_retry / testable property 6): redownload the torrent, apply
// the already-computed rename map, and run the same bounded add/
// rename/verify sequence Inject uses. The caller removes the entry
// from persistence only after a non-requeued, non-conflict Outcome —
// property 6's "same transaction as the success marking" is the
// caller's (the engine's) responsibility since this package never
// touches persistence.
func Retry(ctx context.Context, adapter clientadapter.Adapter, site Site, tracker Tracker, entry domain.UndownloadedEntry, stats *Stats) (*Outcome, error) {
	data, err := site.DownloadTorrent(ctx, entry.TorrentID)
	if err != nil {
		return requeue(entry.TorrentID, entry.SiteHost, &domain.LocalTorrent{
			DisplayName: entry.LocalTorrentName,
			DownloadDir: entry.DownloadDir,
		}, entry.RenameMap), nil
	}

	mi, err := metainfo.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inject: parse retried metainfo: %w", err)
	}
	mi.SetComment(site.TorrentURL(entry.TorrentID))
	mi.SetTrackers([]string{site.AnnounceURL()})

	torrentBytes, err := mi.Serialize()
	if err != nil {
		return nil, fmt.Errorf("inject: serialize retried metainfo: %w", err)
	}

	local := &domain.LocalTorrent{DisplayName: entry.LocalTorrentName, DownloadDir: entry.DownloadDir}
	newHash, conflict, err := injectWithRetry(ctx, adapter, torrentBytes, local, entry.RenameMap, false, stats)
	if conflict != nil {
		return &Outcome{Conflict: conflict}, nil
	}
	if err != nil {
		return requeue(entry.TorrentID, entry.SiteHost, local, entry.RenameMap), nil
	}

	stats.Downloaded++
	tracker.Track(newHash)
	return &Outcome{NewHash: newHash}, nil
}

func obtainMetainfo(ctx context.Context, site Site, result *match.Result, remoteID string) (*metainfo.Metainfo, error) {
	if result.UseExistingMetainfo {
		mi := result.ExistingMetainfo
		mi.SetComment(site.TorrentURL(remoteID))
		mi.SetTrackers([]string{site.AnnounceURL()})
		return mi, nil
	}

	data, err := site.DownloadTorrent(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	return metainfo.Parse(data)
}

// injectWithRetry runs the add/rename/verify sequence up to 8 times,
// 2 seconds apart (spec §4.7 step 4), stopping immediately on a
// TorrentConflict.
func injectWithRetry(ctx context.Context, adapter clientadapter.Adapter, torrentBytes []byte, local *domain.LocalTorrent, renameMap []domain.RenameEntry, useExistingMetainfo bool, stats *Stats) (string, *clientadapter.Conflict, error) {
	var newHash string
	var conflict *clientadapter.Conflict

	err := retry.Do(
		func() error {
			hash, err := adapter.Add(ctx, torrentBytes, local.DownloadDir, useExistingMetainfo)
			if err != nil {
				var c *clientadapter.Conflict
				if errors.As(err, &c) {
					conflict = c
					return nil // stop retrying; caller checks conflict
				}
				return err
			}
			newHash = hash

			current, err := adapter.Get(ctx, hash, clientadapter.Fields{})
			if err != nil {
				return err
			}

			renamed := false
			if current != nil && current.DisplayName != local.DisplayName {
				if err := adapter.RenameRoot(ctx, hash, current.DisplayName, local.DisplayName); err != nil {
					return err
				}
				renamed = true
			}

			for _, entry := range renameMap {
				if err := adapter.RenameFile(ctx, hash, entry.RemotePath, entry.LocalLeaf); err != nil {
					return err
				}
				renamed = true
			}

			// spec §4.7 step 4: verify whenever a rename happened, or
			// the add wasn't a hash-search skip, or the vendor always
			// needs a recheck even on hash-only adds (qBittorrent and
			// Deluge).
			if renamed || !useExistingMetainfo || adapterNeedsRecheck(adapter) {
				if err := adapter.Verify(ctx, hash); err != nil {
					return err
				}
			}
			return nil
		},
		retry.Attempts(8),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
	)

	if conflict != nil {
		return "", conflict, nil
	}
	if err != nil {
		// spec §4.7 / cnt_dl_fail: one increment per torrent whose
		// injection is exhausted, not one per retry attempt.
		stats.recordDownloadFailure()
		return "", nil, err
	}
	return newHash, nil, nil
}

// adapterNeedsRecheck identifies vendors whose add path does not
// self-verify hash-only adds (spec §4.7: "adapter is qBittorrent/
// Deluge (which need a recheck even on hash-only adds)").
func adapterNeedsRecheck(adapter clientadapter.Adapter) bool {
	name := fmt.Sprintf("%T", adapter)
	return strings.Contains(name, "qbittorrent") || strings.Contains(name, "deluge")
}

func requeue(remoteID, siteHost string, local *domain.LocalTorrent, renameMap []domain.RenameEntry) *Outcome {
	return &Outcome{
		Requeued: true,
		RetryEntry: domain.UndownloadedEntry{
			TorrentID:        remoteID,
			SiteHost:         siteHost,
			DownloadDir:      local.DownloadDir,
			LocalTorrentName: local.DisplayName,
			RenameMap:        renameMap,
			AddedAt:          time.Now().UTC(),
		},
	}
}
