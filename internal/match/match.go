// Package match implements the per-(local-torrent, tracker-site) search
// strategy: hash search first, then filename search with size and
// content-level confirmation (spec §4.6).
//
// Grounded on internal/services/crossseed/gazellemusic/match.go's
// FindMatch, generalized from a single Gazelle-JSON-API client to the
// trackersite.Client interface so it drives any configured site.
package match

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gabrieldemian/nemorosa/internal/domain"
	"github.com/gabrieldemian/nemorosa/internal/metainfo"
	"github.com/gabrieldemian/nemorosa/internal/reconcile"
	"github.com/gabrieldemian/nemorosa/internal/trackersite"
)

const maxSearchResults = 20

var musicExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".dsf":  true,
	".dff":  true,
	".m4a":  true,
}

// IsMusicFile reports whether path has one of the five extensions
// spec §4.6 treats as "music".
func IsMusicFile(path string) bool {
	return musicExtensions[strings.ToLower(filepath.Ext(path))]
}

// Site is the subset of trackersite.Client the match engine calls.
// Declared here so tests can substitute a fake without spinning up
// real HTTP.
type Site interface {
	SourceFlag() string
	SearchByHash(ctx context.Context, infohash string) (*trackersite.SearchResult, error)
	SearchByFilename(ctx context.Context, filename string) ([]trackersite.SearchResult, error)
	FetchFileList(ctx context.Context, torrentID string) ([]domain.FileEntry, error)
}

// Result is an accepted match: a remote torrent ID plus, when the hash
// strategy succeeded, the already-mutated local metainfo clone the
// injection orchestrator should reuse instead of downloading from the
// site (spec §4.7 step 1).
type Result struct {
	TorrentID           string
	UseExistingMetainfo bool
	ExistingMetainfo    *metainfo.Metainfo
}

// FindMatch searches site for a torrent matching local. localMetainfo
// is the local torrent's own parsed .torrent file (obtained via the
// client adapter's ExportMetainfo), used for the hash-search strategy;
// it may be nil if unavailable, in which case hash search is skipped
// and matching proceeds straight to filename search.
func FindMatch(ctx context.Context, site Site, local *domain.LocalTorrent, localMetainfo *metainfo.Metainfo) (*Result, error) {
	if localMetainfo != nil {
		if res, err := hashSearch(ctx, site, localMetainfo); err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}
	}
	return filenameSearch(ctx, site, local)
}

func hashSearch(ctx context.Context, site Site, localMetainfo *metainfo.Metainfo) (*Result, error) {
	for _, flag := range trackersite.SourceFlagCandidates(site.SourceFlag()) {
		clone := localMetainfo.Clone()
		clone.SetSource(flag)
		hash, err := clone.InfoHashHex()
		if err != nil {
			continue
		}
		hit, err := site.SearchByHash(ctx, hash)
		if err != nil {
			continue // protocol/transport error on this flag: try the next one
		}
		if hit != nil {
			return &Result{TorrentID: hit.TorrentID, UseExistingMetainfo: true, ExistingMetainfo: clone}, nil
		}
	}
	return nil, nil
}

func filenameSearch(ctx context.Context, site Site, local *domain.LocalTorrent) (*Result, error) {
	localFiles := local.FileSizes()
	queries := selectSearchFilenames(local.Files, 5)

	for _, fname := range queries {
		results, err := searchWithSanitizeFallback(ctx, site, fname)
		if err != nil {
			continue
		}

		for _, r := range results {
			if r.Size == local.TotalSize {
				return &Result{TorrentID: r.TorrentID}, nil
			}
		}

		if len(results) > maxSearchResults {
			continue // too ambiguous, try the next query
		}

		accepted, stop, err := contentConfirm(ctx, site, fname, queries, local, localFiles, results)
		if err != nil {
			return nil, err
		}
		if accepted != nil {
			return accepted, nil
		}
		if stop {
			break
		}
	}
	return nil, nil
}

// searchWithSanitizeFallback implements spec §4.6.b.ii: if the
// unsanitized query comes back empty and the filename is a music file,
// retry with the sanitized form.
func searchWithSanitizeFallback(ctx context.Context, site Site, fname string) ([]trackersite.SearchResult, error) {
	results, err := site.SearchByFilename(ctx, fname)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && IsMusicFile(fname) {
		sanitized := Sanitize(fname)
		if sanitized != fname {
			return site.SearchByFilename(ctx, sanitized)
		}
	}
	return results, nil
}

// contentConfirm attempts content-level confirmation (spec §4.6.b.v)
// against each candidate result, in order. Returns a non-nil accepted
// result on the first content match, or stop=true if the caller should
// give up on weaker queries (spec §4.6.b.vi).
func contentConfirm(ctx context.Context, site Site, fname string, queries []string, local *domain.LocalTorrent, localFiles map[string]int64, results []trackersite.SearchResult) (*Result, bool, error) {
	sanitized := Sanitize(fname)
	matchKeysFor := func(remoteFiles map[string]int64) []string {
		if sanitized == fname {
			return []string{fname}
		}
		words := strings.Fields(sanitized)
		var keys []string
		for k := range remoteFiles {
			if containsAllWords(k, words) {
				keys = append(keys, k)
			}
		}
		return keys
	}

	// spec §4.6.b.v: the non-music acceptance path checks against
	// scan_querys[-1], the last entry of this torrent's own capped
	// query list — not the globally shortest music file.
	checkMusicFile := queries[len(queries)-1]

	localEntries := local.FileEntries()

	for _, r := range results {
		remoteEntries, err := site.FetchFileList(ctx, r.TorrentID)
		if err != nil || remoteEntries == nil {
			continue
		}
		remoteFiles := make(map[string]int64, len(remoteEntries))
		for _, f := range remoteEntries {
			remoteFiles[f.Path] = f.Size
		}

		for _, key := range matchKeysFor(remoteFiles) {
			remoteSize, ok := remoteFiles[key]
			if !ok || remoteSize != localFiles[fname] {
				continue
			}

			if IsMusicFile(key) {
				if conflictFree(localEntries, remoteEntries) {
					return &Result{TorrentID: r.TorrentID}, false, nil
				}
				continue
			}

			// Non-music key: still accept if the last query in
			// this search's own query list also size-matches
			// (spec §4.6.b.v).
			if remoteFiles[checkMusicFile] != localFiles[checkMusicFile] {
				continue
			}
			if conflictFree(localEntries, remoteEntries) {
				return &Result{TorrentID: r.TorrentID}, false, nil
			}
		}
	}

	if len(results) > 0 && IsMusicFile(fname) {
		return nil, true, nil
	}
	return nil, false, nil
}

func conflictFree(local, remote []domain.FileEntry) bool {
	_, err := reconcile.GenerateRenameMap(local, remote)
	return err == nil
}

func containsAllWords(path string, words []string) bool {
	lower := strings.ToLower(path)
	for _, w := range words {
		if w == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(w)) {
			return false
		}
	}
	return true
}

// selectSearchFilenames builds the ordered query set: the longest path
// unconditionally, then any other music-extension file, capped at
// maxCount (spec §4.6b).
func selectSearchFilenames(files []domain.File, maxCount int) []string {
	sorted := make([]domain.File, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Path) > len(sorted[j].Path)
	})

	var out []string
	for i, f := range sorted {
		if len(out) >= maxCount {
			break
		}
		if i == 0 || IsMusicFile(f.Path) {
			out = append(out, f.Path)
		}
	}
	return out
}

var (
	sanitizeClass  = regexp.MustCompile(`[?？�_\-.·~!@#$%^&*+=|\\:;"'<>,/\x{00A0}\x{2000}-\x{200F}\x{2028}\x{2029}\x{202F}\x{205F}\x{3000}\x{FEFF}\x{0000}-\x{001F}\x{007F}-\x{009F}]`)
	multipleSpaces = regexp.MustCompile(`\s+`)
)

// Sanitize implements spec §4.6.b.ii's punctuation/invisible-character
// class substitution: replace any character in the class with a single
// space, collapse runs of whitespace, strip.
func Sanitize(name string) string {
	replaced := sanitizeClass.ReplaceAllString(name, " ")
	replaced = multipleSpaces.ReplaceAllString(replaced, " ")
	return strings.TrimSpace(replaced)
}
