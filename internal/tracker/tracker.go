// Package tracker implements spec §4.8's verification tracker: an
// in-memory set of newly injected torrents, each given a grace period
// before polling begins, polled on a fixed tick until the client
// reports a terminal state, at which point the keep/remove policy
// decides the torrent's fate and it leaves the set.
//
// Grounded on internal/services/reannounce/service.go's ticker-loop +
// mutex-guarded job map shape (track/untrack under one mutex, a single
// background goroutine driving the poll), scaled from per-instance
// qBittorrent-only reannounce bookkeeping to the vendor-agnostic
// clientadapter.Adapter this engine already has.
package tracker

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter"
	"github.com/gabrieldemian/nemorosa/internal/domain"
)

// Persistence is the subset of internal/database the tracker needs to
// settle a torrent's terminal outcome.
type Persistence interface {
	MarkChecked(ctx context.Context, matchHash string, checked bool) error
	ClearMatch(ctx context.Context, matchHash string) error
}

// gracePeriod is the fixed delay before a freshly tracked hash is
// considered eligible for polling (spec §4.8: "accommodates clients
// that have not yet begun verification after the verify RPC").
const gracePeriod = 5 * time.Second

// pollInterval is the tracked-set poll tick.
const pollInterval = 1 * time.Second

// shutdownDrain bounds how long Stop waits for the tracked set to
// empty before giving up.
const shutdownDrain = 30 * time.Second

// musicExtensions is the same set the match engine scans music
// filenames with (spec §4.6/§4.8 share one vocabulary).
var musicExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".dsf":  true,
	".dff":  true,
	".m4a":  true,
}

func isMusicFile(path string) bool {
	return musicExtensions[strings.ToLower(filepath.Ext(path))]
}

type entry struct {
	hash      string
	verifying bool
	addedAt   time.Time
}

// Tracker maintains the tracked set and drives its polling loop.
type Tracker struct {
	adapter clientadapter.Adapter
	persist Persistence

	mu      sync.Mutex
	tracked map[string]*entry

	stop chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// New constructs a Tracker. Call Start to begin polling.
func New(adapter clientadapter.Adapter, persist Persistence) *Tracker {
	return &Tracker{
		adapter: adapter,
		persist: persist,
		tracked: make(map[string]*entry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
}

// Track begins tracking matchHash. It is inserted with verifying=false
// and flips to true after the grace period (spec §4.8).
func (t *Tracker) Track(matchHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tracked[matchHash]; exists {
		return
	}
	t.tracked[matchHash] = &entry{hash: matchHash, addedAt: t.now()}
	log.Debug().Str("hash", matchHash).Msg("tracker: tracking injected torrent")
}

// Start launches the background poll loop.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.loop(ctx)
}

// Stop signals the poll loop to keep draining the tracked set — still
// settling entries as their grace period and state allow — for up to
// 30 seconds, then forces it to exit regardless (spec §4.8).
func (t *Tracker) Stop() {
	close(t.stop)
	t.wg.Wait()
	if n := t.trackedCount(); n > 0 {
		log.Warn().Int("remaining", n).Msg("tracker: shutdown drain timed out with entries still tracked")
	}
}

func (t *Tracker) trackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

func (t *Tracker) loop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	stopCh := t.stop
	var shutdownDeadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			stopCh = nil // already signalled; stop re-selecting it
			shutdownDeadline = time.After(shutdownDrain)
		case <-shutdownDeadline:
			return
		case <-ticker.C:
			t.pollOnce(ctx)
			if shutdownDeadline != nil && t.trackedCount() == 0 {
				return
			}
		}
	}
}

// pollOnce runs one poll tick: flip grace-expired entries to
// verifying, fetch states for the tracked set, and settle any hash
// whose state is paused or completed (spec §4.8: "verification has
// terminated").
func (t *Tracker) pollOnce(ctx context.Context) {
	now := t.now()

	t.mu.Lock()
	hashes := make([]string, 0, len(t.tracked))
	for hash, e := range t.tracked {
		if !e.verifying && now.Sub(e.addedAt) >= gracePeriod {
			e.verifying = true
		}
		if e.verifying {
			hashes = append(hashes, hash)
		}
	}
	t.mu.Unlock()

	if len(hashes) == 0 {
		return
	}

	states, err := t.adapter.States(ctx, hashes)
	if err != nil {
		log.Warn().Err(err).Msg("tracker: poll states failed")
		return
	}

	for _, hash := range hashes {
		state, ok := states[hash]
		if !ok {
			continue
		}
		switch state {
		case domain.StatePaused, domain.StateCompleted:
			t.settle(ctx, hash)
		case domain.StateChecking, domain.StateAllocating, domain.StateMoving:
			// still terminating; leave tracked.
		}
	}
}

// settle fetches a full projection, decides keep/remove, and untracks
// the hash regardless of outcome (spec §4.8 steps 1-3).
func (t *Tracker) settle(ctx context.Context, hash string) {
	torrent, err := t.adapter.Get(ctx, hash, clientadapter.Fields{Files: true, State: true})
	if err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("tracker: settle fetch failed")
		return
	}
	if torrent == nil {
		t.untrack(hash)
		return
	}

	progress := torrent.Progress()
	if progress >= 1.0 {
		if err := t.adapter.Resume(ctx, hash); err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("tracker: resume failed")
		}
		if err := t.persist.MarkChecked(ctx, hash, true); err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("tracker: mark_checked failed")
		}
		t.untrack(hash)
		return
	}

	if shouldKeepPartial(progress, torrent.Files) {
		if err := t.persist.MarkChecked(ctx, hash, true); err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("tracker: mark_checked failed")
		}
		t.untrack(hash)
		return
	}

	if err := t.adapter.Remove(ctx, hash, false); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("tracker: remove failed")
	}
	if err := t.persist.ClearMatch(ctx, hash); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("tracker: clear_match failed")
	}
	t.untrack(hash)
}

func (t *Tracker) untrack(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, hash)
}

// shouldKeepPartial resolves spec §9's should_keep_partial_torrent open
// question: keep a torrent whose overall progress is already at least
// 0.90, or whose incomplete files are entirely non-music (inlays,
// scans, logs, nfo) and amount to no more than 2% of total size — i.e.
// the audio payload itself verified. Pure function of its inputs, as
// spec §4.8 requires.
func shouldKeepPartial(progress float64, files []domain.File) bool {
	if progress >= 0.90 {
		return true
	}

	var total, incompleteNonMusic int64
	for _, f := range files {
		total += f.Size
		if f.Progress < 1.0 && !isMusicFile(f.Path) {
			incompleteNonMusic += f.Size
		} else if f.Progress < 1.0 && isMusicFile(f.Path) {
			return false
		}
	}
	if total == 0 {
		return false
	}
	return float64(incompleteNonMusic)/float64(total) <= 0.02
}
