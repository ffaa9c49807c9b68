package domain

import "time"

// ScanResult is the persisted outcome of scanning one local torrent
// against one tracker site. Primary key is (LocalHash, SiteHost).
type ScanResult struct {
	LocalHash        string
	SiteHost         string
	LocalTorrentName string
	MatchedTorrentID string // empty when no candidate was found/kept
	MatchedHash      string // empty once cleared by the verification tracker
	Checked          bool
	ScannedAt        time.Time
}

// UndownloadedEntry is a queued retry item, keyed by (TorrentID, SiteHost).
type UndownloadedEntry struct {
	TorrentID        string
	SiteHost         string
	DownloadDir      string
	LocalTorrentName string
	RenameMap        []RenameEntry
	AddedAt          time.Time
}

// JobLog is per-named-job scheduling bookkeeping.
type JobLog struct {
	Name     string
	LastRun  time.Time
	NextRun  time.Time
	RunCount int64
}

// ResultStatus classifies the outcome of a single-infohash run (spec
// §7: "the single-torrent entry point returns a structured result").
type ResultStatus string

const (
	ResultSuccess  ResultStatus = "success"
	ResultNotFound ResultStatus = "not_found"
	ResultSkipped  ResultStatus = "skipped"
	ResultError    ResultStatus = "error"
)

// RunStats is the per-run counter set spec §4.7/§4.9 report back to
// callers (scheduler job log, webhook response, CLI exit summary).
type RunStats struct {
	Scanned     int
	Found       int
	Downloaded  int
	DlFailCount int
}

// SingleResult is the structured result of running the match/inject
// pipeline against one local infohash (spec §7).
type SingleResult struct {
	Status           ResultStatus
	Message          string
	InfoHash         string
	TorrentName      string
	ExistingTrackers []string
	Stats            RunStats
}

// RenameEntry is one entry of a RenameMap: the engine-computed
// correspondence between a remote file path (or a path prefix of it)
// and the local leaf name it should become. Priority is the prefix
// depth at which the divergence was detected; the full map is ordered
// by strictly non-increasing priority so deeper renames apply before
// shallower ones invalidate their prefixes.
type RenameEntry struct {
	RemotePath string
	LocalLeaf  string
	Priority   int
}
