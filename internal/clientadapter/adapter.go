// Package clientadapter defines the client-agnostic façade spec §4.4
// requires (list/get/states/add/rename_root/rename_file/verify/resume/
// remove/export_metainfo) and the factory that dispatches a configured
// URL to one of the three vendor implementations.
//
// Grounded on internal/clientmigrate/migrate.go's ClientMigrater
// interface-plus-switch-dispatch shape, generalized from a one-shot
// importer to a long-lived RPC façade.
package clientadapter

import (
	"context"
	"fmt"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

// Conflict is raised by Add when the client already holds a torrent
// under the same infohash that cannot coexist with the one being added
// (spec §4.4 add).
type Conflict struct {
	ExistingHash string
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("torrent client: existing torrent %s conflicts with add", e.ExistingHash)
}

// Fields restricts which projections List/Get populate; identity
// (infohash) is always present regardless of the requested set.
type Fields struct {
	Files    bool
	State    bool
	Trackers bool
}

// Adapter is the vendor-agnostic façade every injection and
// verification operation is written against (spec §4.4).
type Adapter interface {
	List(ctx context.Context, fields Fields) ([]*domain.LocalTorrent, error)
	Get(ctx context.Context, infohash string, fields Fields) (*domain.LocalTorrent, error)
	States(ctx context.Context, infohashes []string) (map[string]domain.TorrentState, error)

	// Add injects metainfoBytes paused, pointed at downloadDir. The
	// qBittorrent (category) and Deluge (label plugin) adapters label it
	// with the configured label; the Transmission adapter does not label
	// it. Returns the resulting
	// infohash, or *Conflict if the client already holds an
	// incompatible torrent under that hash.
	Add(ctx context.Context, metainfoBytes []byte, downloadDir string, skipVerify bool) (string, error)

	RenameRoot(ctx context.Context, infohash, oldName, newName string) error
	RenameFile(ctx context.Context, infohash, oldRelativePath, newName string) error

	Verify(ctx context.Context, infohash string) error
	Resume(ctx context.Context, infohash string) error
	Remove(ctx context.Context, infohash string, deleteData bool) error

	// ExportMetainfo returns the stored .torrent bytes, or (nil, nil)
	// if the vendor cannot produce one.
	ExportMetainfo(ctx context.Context, infohash string) ([]byte, error)
}
