// Package engine wires persistence, the client adapter, the
// configured tracker sites, and the verification tracker into the
// three entry points spec §9 names: sweep, single-infohash, and
// retry-undownloaded. It is the one place the rest of the codebase's
// narrow, persistence-agnostic interfaces (inject.Site/Tracker,
// match.Site, tracker.Persistence, scheduler.Persistence,
// webhook.Engine) get bound to the concrete implementations built in
// cmd/nemorosa.
//
// Grounded on the teacher's internal/services/crossseed.Service: one
// struct holding every collaborator the automation/search/apply flows
// need, constructed once in main and threaded into HTTP handlers and
// the scheduler rather than reached for as package-scope state (spec
// §9: "prefer an explicit Engine value... avoid mutable package-scope
// state").
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter"
	"github.com/gabrieldemian/nemorosa/internal/domain"
	"github.com/gabrieldemian/nemorosa/internal/inject"
	"github.com/gabrieldemian/nemorosa/internal/match"
	"github.com/gabrieldemian/nemorosa/internal/metainfo"
	"github.com/gabrieldemian/nemorosa/internal/trackersite"
)

// Persistence is the subset of *database.DB the engine drives
// directly; scoped narrowly so this package's tests can substitute a
// fake instead of an on-disk SQLite file.
type Persistence interface {
	RecordScan(ctx context.Context, localHash, siteHost, localName string, matchID, matchHash *string) error
	IsScanned(ctx context.Context, localHash, siteHost string) (bool, error)
	EnqueueRetry(ctx context.Context, entry domain.UndownloadedEntry) error
	DequeueRetry(ctx context.Context, torrentID, siteHost string) error
	ListRetry(ctx context.Context, siteHost string) ([]domain.UndownloadedEntry, error)
}

// Site is the per-configured-site collaborator: everything the match
// and injection packages need, satisfied directly by *trackersite.Client.
type Site interface {
	Host() string
	SourceFlag() string
	TrackerQuery() string
	AnnounceURL() string
	TorrentURL(torrentID string) string
	SearchByHash(ctx context.Context, infohash string) (*trackersite.SearchResult, error)
	SearchByFilename(ctx context.Context, filename string) ([]trackersite.SearchResult, error)
	FetchFileList(ctx context.Context, torrentID string) ([]domain.FileEntry, error)
	DownloadTorrent(ctx context.Context, torrentID string) ([]byte, error)
}

// Tracker is the verification tracker's Track half; the engine never
// polls it directly.
type Tracker interface {
	Track(matchHash string)
}

// Filters mirrors spec §6's global config flags that narrow which
// local torrents a sweep considers eligible.
type Filters struct {
	NoDownload     bool     // scan and record matches, but never call inject
	ExcludeMP3     bool     // skip local torrents containing any .mp3 file
	CheckMusicOnly bool     // only consider torrents whose files are all music extensions
	CheckTrackers  []string // restrict the configured site set to these announce substrings; empty = all sites
}

// Engine is the sole holder of the collaborators spec §9 requires to
// avoid global singletons.
type Engine struct {
	db      Persistence
	adapter clientadapter.Adapter
	sites   []Site
	tracker Tracker
	filters Filters
}

func New(db Persistence, adapter clientadapter.Adapter, sites []Site, tracker Tracker, filters Filters) *Engine {
	return &Engine{db: db, adapter: adapter, sites: sites, tracker: tracker, filters: filters}
}

func (e *Engine) eligibleSites() []Site {
	if len(e.filters.CheckTrackers) == 0 {
		return e.sites
	}
	var out []Site
	for _, s := range e.sites {
		for _, substr := range e.filters.CheckTrackers {
			if strings.Contains(s.TrackerQuery(), substr) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (e *Engine) torrentEligible(local *domain.LocalTorrent) bool {
	hasMP3 := false
	allMusic := true
	for _, f := range local.Files {
		if match.IsMusicFile(f.Path) {
			if strings.EqualFold(strings.TrimPrefix(extOf(f.Path), "."), "mp3") {
				hasMP3 = true
			}
		} else {
			allMusic = false
		}
	}
	if e.filters.ExcludeMP3 && hasMP3 {
		return false
	}
	if e.filters.CheckMusicOnly && !allMusic {
		return false
	}
	return true
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

// Sweep implements spec §4.9's "search" job: enumerate every eligible
// local torrent, try every eligible configured site against it in
// order, skipping pairs already scanned (spec property 1: idempotent
// scan). Sequential by design (spec §5: "no cross-torrent parallelism
// by default").
func (e *Engine) Sweep(ctx context.Context) (domain.RunStats, error) {
	var stats domain.RunStats

	locals, err := e.adapter.List(ctx, clientadapter.Fields{Files: true, Trackers: true})
	if err != nil {
		return stats, fmt.Errorf("engine: list local torrents: %w", err)
	}

	sites := e.eligibleSites()
	for _, local := range locals {
		if !e.torrentEligible(local) {
			continue
		}
		stats.Scanned++
		for _, site := range sites {
			e.scanOne(ctx, local, site, &stats)
		}
	}

	return stats, nil
}

func (e *Engine) scanOne(ctx context.Context, local *domain.LocalTorrent, site Site, stats *domain.RunStats) {
	scanned, err := e.db.IsScanned(ctx, local.InfoHash, site.Host())
	if err != nil {
		log.Warn().Err(err).Str("hash", local.InfoHash).Str("site", site.Host()).Msg("engine: is_scanned check failed")
		return
	}
	if scanned {
		return
	}

	localMetainfo := e.exportMetainfo(ctx, local.InfoHash)

	result, err := match.FindMatch(ctx, site, local, localMetainfo)
	if err != nil {
		log.Warn().Err(err).Str("hash", local.InfoHash).Str("site", site.Host()).Msg("engine: match search failed")
		return
	}
	if result == nil {
		return
	}
	stats.Found++

	if e.filters.NoDownload {
		if err := e.db.RecordScan(ctx, local.InfoHash, site.Host(), local.DisplayName, &result.TorrentID, nil); err != nil {
			log.Warn().Err(err).Msg("engine: record_scan failed")
		}
		return
	}

	outcome, err := inject.Inject(ctx, e.adapter, site, e.tracker, local, result, result.TorrentID, (*inject.Stats)(stats))
	if err != nil {
		log.Warn().Err(err).Str("hash", local.InfoHash).Str("site", site.Host()).Msg("engine: inject failed")
		return
	}

	e.recordOutcome(ctx, local.InfoHash, site.Host(), local.DisplayName, result.TorrentID, outcome)
}

func (e *Engine) recordOutcome(ctx context.Context, localHash, siteHost, localName, remoteID string, outcome *inject.Outcome) {
	switch {
	case outcome.Conflict != nil:
		log.Warn().Str("existing_hash", outcome.Conflict.ExistingHash).Str("site", siteHost).
			Msg("engine: add conflicted with an existing torrent — the remote's source flag is likely wrong for a tracker that doesn't enforce one")
		if err := e.db.RecordScan(ctx, localHash, siteHost, localName, &remoteID, nil); err != nil {
			log.Warn().Err(err).Msg("engine: record_scan failed")
		}
	case outcome.Requeued:
		if err := e.db.EnqueueRetry(ctx, outcome.RetryEntry); err != nil {
			log.Warn().Err(err).Msg("engine: enqueue_retry failed")
		}
		if err := e.db.RecordScan(ctx, localHash, siteHost, localName, &remoteID, nil); err != nil {
			log.Warn().Err(err).Msg("engine: record_scan failed")
		}
	default:
		if err := e.db.RecordScan(ctx, localHash, siteHost, localName, &remoteID, &outcome.NewHash); err != nil {
			log.Warn().Err(err).Msg("engine: record_scan failed")
		}
	}
}

func (e *Engine) exportMetainfo(ctx context.Context, infohash string) *metainfo.Metainfo {
	data, err := e.adapter.ExportMetainfo(ctx, infohash)
	if err != nil || data == nil {
		return nil
	}
	mi, err := metainfo.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("hash", infohash).Msg("engine: parse exported metainfo failed")
		return nil
	}
	return mi
}

// RunSingle implements spec §6's webhook/CLI single-infohash entry
// point, returning the structured result spec §7 specifies.
func (e *Engine) RunSingle(ctx context.Context, infoHash string) (*domain.SingleResult, error) {
	local, err := e.adapter.Get(ctx, infoHash, clientadapter.Fields{Files: true, Trackers: true})
	if err != nil {
		return &domain.SingleResult{Status: domain.ResultError, Message: err.Error(), InfoHash: infoHash}, nil
	}
	if local == nil {
		return &domain.SingleResult{Status: domain.ResultNotFound, Message: "torrent not found in client", InfoHash: infoHash}, nil
	}
	if !e.torrentEligible(local) {
		return &domain.SingleResult{
			Status:           domain.ResultSkipped,
			Message:          "torrent excluded by configured filters",
			InfoHash:         infoHash,
			TorrentName:      local.DisplayName,
			ExistingTrackers: local.Trackers,
		}, nil
	}

	var stats domain.RunStats
	stats.Scanned = 1
	found := false

	for _, site := range e.eligibleSites() {
		before := stats.Found
		e.scanOne(ctx, local, site, &stats)
		if stats.Found > before {
			found = true
		}
	}

	status := domain.ResultNotFound
	message := "no match found on any configured site"
	if found {
		status = domain.ResultSuccess
		message = "match found and processed"
	}
	if e.filters.NoDownload && found {
		message = "match found (no_download: not injected)"
	}

	return &domain.SingleResult{
		Status:           status,
		Message:          message,
		InfoHash:         infoHash,
		TorrentName:      local.DisplayName,
		ExistingTrackers: local.Trackers,
		Stats:            stats,
	}, nil
}

// RetryUndownloaded implements spec §4.9's "cleanup" job: redrive
// every queued UndownloadedEntry for each configured site, dequeuing
// on success (spec property 6).
func (e *Engine) RetryUndownloaded(ctx context.Context) (domain.RunStats, error) {
	var stats domain.RunStats

	for _, site := range e.sites {
		entries, err := e.db.ListRetry(ctx, site.Host())
		if err != nil {
			log.Warn().Err(err).Str("site", site.Host()).Msg("engine: list_retry failed")
			continue
		}

		for _, entry := range entries {
			stats.Scanned++
			outcome, err := inject.Retry(ctx, e.adapter, site, e.tracker, entry, (*inject.Stats)(&stats))
			if err != nil {
				log.Warn().Err(err).Str("torrent_id", entry.TorrentID).Str("site", site.Host()).Msg("engine: inject retry failed")
				continue
			}
			if outcome.Conflict != nil {
				log.Warn().Str("existing_hash", outcome.Conflict.ExistingHash).Str("site", site.Host()).Msg("engine: retry conflicted with an existing torrent")
				continue
			}
			if outcome.Requeued {
				continue
			}

			if err := e.db.DequeueRetry(ctx, entry.TorrentID, site.Host()); err != nil {
				log.Warn().Err(err).Msg("engine: dequeue_retry failed")
			}
		}
	}

	return stats, nil
}
