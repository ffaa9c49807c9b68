// Package domain holds the shared types threaded between nemorosa's
// components: the client-observed torrent view, tracker-site search
// results, and the persisted scan/retry/job records.
package domain

// TorrentState is the common projection of every vendor's native torrent
// state onto a single enum.
type TorrentState string

const (
	StateDownloading         TorrentState = "downloading"
	StateSeeding             TorrentState = "seeding"
	StatePaused              TorrentState = "paused"
	StateCompleted           TorrentState = "completed"
	StateChecking            TorrentState = "checking"
	StateError               TorrentState = "error"
	StateQueued              TorrentState = "queued"
	StateMoving              TorrentState = "moving"
	StateAllocating          TorrentState = "allocating"
	StateMetadataDownloading TorrentState = "metadata_downloading"
	StateUnknown             TorrentState = "unknown"
)

// File is one entry in a torrent's file list, relative to the torrent root.
type File struct {
	Path     string
	Size     int64
	Progress float64
}

// FileEntry is one (relative path, size) pair carried in the original
// list order the local client or tracker site reported — the shape the
// reconciler needs to honor spec §4.5 step 3's insertion-order
// processing, which a map would discard.
type FileEntry struct {
	Path string
	Size int64
}

// LocalTorrent is an entry observed in the local client. Identity is
// InfoHash; every other field is a borrowed view refreshed by the
// adapter on each call — nemorosa never mutates it directly except via
// the ClientAdapter operations (rename/verify/resume/remove).
type LocalTorrent struct {
	InfoHash      string
	DisplayName   string
	DownloadDir   string
	TotalSize     int64
	Files         []File
	Trackers      []string
	State         TorrentState
	PieceProgress []bool
}

// FileSizes projects Files into a relative-path -> size map, the shape
// the match engine's key-lookup logic operates on.
func (t *LocalTorrent) FileSizes() map[string]int64 {
	out := make(map[string]int64, len(t.Files))
	for _, f := range t.Files {
		out[f.Path] = f.Size
	}
	return out
}

// FileEntries projects Files into the order-preserving FileEntry slice
// the reconciler consumes.
func (t *LocalTorrent) FileEntries() []FileEntry {
	out := make([]FileEntry, len(t.Files))
	for i, f := range t.Files {
		out[i] = FileEntry{Path: f.Path, Size: f.Size}
	}
	return out
}

// Progress returns the overall completion ratio in [0,1], derived from
// file-level progress weighted by size. Used by the verification
// tracker when a torrent's own reported progress isn't refreshed in the
// same round-trip as its file list.
func (t *LocalTorrent) Progress() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	var done float64
	for _, f := range t.Files {
		done += float64(f.Size) * f.Progress
	}
	return done / float64(t.TotalSize)
}

// RemoteTorrent is a candidate on a tracker site, immutable within a scan.
type RemoteTorrent struct {
	TorrentID string
	Size      int64
	FileList  []FileEntry
}
