// Package qbittorrent adapts github.com/autobrr/go-qbittorrent's Web
// API client to the clientadapter.Adapter contract (spec §4.4).
//
// Grounded on internal/services/dirscan/inject.go's use of qbt.Client
// for AddTorrent/rename/recheck-style operations, and
// internal/services/crossseed/matching.go's torrent listing.
package qbittorrent

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter"
	"github.com/gabrieldemian/nemorosa/internal/domain"
	"github.com/gabrieldemian/nemorosa/internal/metainfo"
)

// Config describes one configured qBittorrent instance.
type Config struct {
	URL         string // http(s)://[user:pass@]host:port, with or without the qbittorrent+ prefix
	Label       string
	TorrentsDir string
}

// Client implements clientadapter.Adapter against a qBittorrent Web
// API instance.
type Client struct {
	cfg Config
	qbt *qbt.Client
}

func New(cfg Config) (clientadapter.Adapter, error) {
	endpoint := strings.TrimPrefix(cfg.URL, "qbittorrent+")
	c := qbt.NewClient(qbt.Config{Host: endpoint})
	if err := c.LoginCtx(context.Background()); err != nil {
		return nil, fmt.Errorf("qbittorrent: login: %w", err)
	}
	return &Client{cfg: cfg, qbt: c}, nil
}

var stateTable = map[qbt.TorrentState]domain.TorrentState{
	qbt.TorrentStateDownloading:        domain.StateDownloading,
	qbt.TorrentStateUploading:          domain.StateSeeding,
	qbt.TorrentStateStalledUp:          domain.StateSeeding,
	qbt.TorrentStatePausedUp:           domain.StatePaused,
	qbt.TorrentStatePausedDl:           domain.StatePaused,
	qbt.TorrentStateStoppedUp:          domain.StatePaused,
	qbt.TorrentStateStoppedDl:          domain.StatePaused,
	qbt.TorrentStateCheckingUp:         domain.StateChecking,
	qbt.TorrentStateCheckingDl:         domain.StateChecking,
	qbt.TorrentStateCheckingResumeData: domain.StateChecking,
	qbt.TorrentStateQueuedDl:           domain.StateQueued,
	qbt.TorrentStateQueuedUp:           domain.StateQueued,
	qbt.TorrentStateMoving:             domain.StateMoving,
	qbt.TorrentStateAllocating:         domain.StateAllocating,
	qbt.TorrentStateMetaDl:             domain.StateMetadataDownloading,
	qbt.TorrentStateError:              domain.StateError,
	qbt.TorrentStateMissingFiles:       domain.StateError,
}

func mapState(s qbt.TorrentState) domain.TorrentState {
	if ds, ok := stateTable[s]; ok {
		return ds
	}
	return domain.StateUnknown
}

func (c *Client) toLocalTorrent(t *qbt.Torrent, fields clientadapter.Fields) (*domain.LocalTorrent, error) {
	lt := &domain.LocalTorrent{
		InfoHash:    t.Hash,
		DisplayName: t.Name,
		DownloadDir: t.SavePath,
		TotalSize:   t.Size,
		State:       mapState(t.State),
	}

	if fields.Trackers {
		trackers, err := c.qbt.GetTorrentTrackersCtx(context.Background(), t.Hash)
		if err == nil {
			for _, tr := range trackers {
				lt.Trackers = append(lt.Trackers, tr.Url)
			}
		}
	}

	if fields.Files {
		files, err := c.qbt.GetFilesInformationCtx(context.Background(), t.Hash)
		if err != nil {
			return nil, fmt.Errorf("qbittorrent: get files for %s: %w", t.Hash, err)
		}
		if files != nil {
			for _, f := range *files {
				lt.Files = append(lt.Files, domain.File{
					Path:     f.Name,
					Size:     f.Size,
					Progress: f.Progress,
				})
			}
		}
	}

	return lt, nil
}

func (c *Client) List(ctx context.Context, fields clientadapter.Fields) ([]*domain.LocalTorrent, error) {
	torrents, err := c.qbt.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: list torrents: %w", err)
	}
	out := make([]*domain.LocalTorrent, 0, len(torrents))
	for i := range torrents {
		lt, err := c.toLocalTorrent(&torrents[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, infohash string, fields clientadapter.Fields) (*domain.LocalTorrent, error) {
	torrents, err := c.qbt.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{infohash}})
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: get %s: %w", infohash, err)
	}
	if len(torrents) == 0 {
		return nil, nil
	}
	return c.toLocalTorrent(&torrents[0], fields)
}

// States fetches sync/maindata and extracts just the requested hashes'
// states; it never fetches file lists. Every call passes request id 0,
// so qBittorrent returns a full snapshot each time: no request id is
// kept between calls and no incremental update is requested.
func (c *Client) States(ctx context.Context, infohashes []string) (map[string]domain.TorrentState, error) {
	wanted := make(map[string]bool, len(infohashes))
	for _, h := range infohashes {
		wanted[h] = true
	}

	data, err := c.qbt.SyncMainDataCtx(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: sync maindata: %w", err)
	}

	result := make(map[string]domain.TorrentState, len(infohashes))
	for hash, t := range data.Torrents {
		if wanted[hash] {
			result[hash] = mapState(t.State)
		}
	}
	return result, nil
}

func (c *Client) Add(ctx context.Context, metainfoBytes []byte, downloadDir string, skipVerify bool) (string, error) {
	opts := map[string]string{
		"savepath": downloadDir,
		"category": c.cfg.Label,
		"paused":   "true",
	}
	if skipVerify {
		opts["skip_checking"] = "true"
	}

	mi, err := metainfo.Parse(metainfoBytes)
	if err != nil {
		return "", fmt.Errorf("qbittorrent: parse metainfo for add: %w", err)
	}
	hash, err := mi.InfoHashHex()
	if err != nil {
		return "", fmt.Errorf("qbittorrent: compute infohash for add: %w", err)
	}

	if err := c.qbt.AddTorrentFromMemoryCtx(ctx, metainfoBytes, opts); err != nil {
		if existing := c.detectConflict(ctx, hash, err); existing != nil {
			return "", existing
		}
		return "", fmt.Errorf("qbittorrent: add torrent: %w", err)
	}

	return hash, nil
}

// detectConflict cross-checks an add failure against the client's
// current holdings: if the failure message mentions "exist" and the
// client already reports a torrent under the same hash, the add is a
// genuine conflict rather than a transport error. Only the presence of
// that hash is checked; the existing torrent's added-on timestamp and
// trackers are not compared.
func (c *Client) detectConflict(ctx context.Context, hash string, addErr error) *clientadapter.Conflict {
	if !strings.Contains(strings.ToLower(addErr.Error()), "exist") {
		return nil
	}
	if existing, err := c.Get(ctx, hash, clientadapter.Fields{}); err == nil && existing != nil {
		return &clientadapter.Conflict{ExistingHash: existing.InfoHash}
	}
	return nil
}

func (c *Client) RenameRoot(ctx context.Context, infohash, oldName, newName string) error {
	if err := c.qbt.RenameFolderCtx(ctx, infohash, oldName, newName); err != nil {
		return fmt.Errorf("qbittorrent: rename root %s: %w", infohash, err)
	}
	return nil
}

// RenameFile prepends the torrent root to both sides of the rename,
// per spec §4.5 step 4 ("the qBittorrent adapter prepends the torrent
// root to both sides").
func (c *Client) RenameFile(ctx context.Context, infohash, oldRelativePath, newName string) error {
	t, err := c.Get(ctx, infohash, clientadapter.Fields{})
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("qbittorrent: rename file: torrent %s not found", infohash)
	}

	root := path.Base(t.DisplayName)
	oldPath := path.Join(root, oldRelativePath)
	newPath := path.Join(root, path.Dir(oldRelativePath), newName)

	if err := c.qbt.RenameFileCtx(ctx, infohash, oldPath, newPath); err != nil {
		return fmt.Errorf("qbittorrent: rename file %s: %w", oldPath, err)
	}
	return nil
}

func (c *Client) Verify(ctx context.Context, infohash string) error {
	if err := c.qbt.RecheckCtx(ctx, []string{infohash}); err != nil {
		return fmt.Errorf("qbittorrent: verify %s: %w", infohash, err)
	}
	return nil
}

func (c *Client) Resume(ctx context.Context, infohash string) error {
	if err := c.qbt.ResumeCtx(ctx, []string{infohash}); err != nil {
		return fmt.Errorf("qbittorrent: resume %s: %w", infohash, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, infohash string, deleteData bool) error {
	if err := c.qbt.DeleteTorrentsCtx(ctx, []string{infohash}, deleteData); err != nil {
		return fmt.Errorf("qbittorrent: remove %s: %w", infohash, err)
	}
	return nil
}

// ExportMetainfo reads the stored .torrent from qBittorrent's export
// endpoint, falling back to the configured torrents_dir (spec §4.4).
func (c *Client) ExportMetainfo(ctx context.Context, infohash string) ([]byte, error) {
	data, err := c.qbt.ExportTorrentCtx(ctx, infohash)
	if err == nil && len(data) > 0 {
		return data, nil
	}
	if c.cfg.TorrentsDir == "" {
		return nil, nil
	}
	data, readErr := os.ReadFile(path.Join(c.cfg.TorrentsDir, infohash+".torrent"))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("qbittorrent: read %s from torrents_dir: %w", infohash, readErr)
	}
	return data, nil
}
