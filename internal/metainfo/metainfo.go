// Package metainfo parses and serializes bencoded torrent metainfo,
// and computes the BitTorrent v1 infohash across info.source variants
// (private trackers vary info.source to force a distinct infohash per
// site). All mutation is scoped to comment, trackers, and info.source;
// every other key round-trips untouched.
package metainfo

import (
	"crypto/sha1" //nolint:gosec // BitTorrent v1 infohash requires SHA1.
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/bencode"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

// File is one (path, size) entry from info.files, or the single
// (name, length) pair for a single-file torrent.
type File struct {
	Path []string
	Size int64
}

// Metainfo is a parsed torrent file. The underlying dictionaries are
// kept around verbatim so re-serializing preserves every key the
// original producer set, including vendor extensions nemorosa doesn't
// understand.
type Metainfo struct {
	raw  map[string]any
	info map[string]any
}

// Parse decodes a bencoded .torrent file.
func Parse(data []byte) (*Metainfo, error) {
	var raw map[string]any
	if err := bencode.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("decode torrent metainfo: %w", err)
	}
	infoAny, ok := raw["info"]
	if !ok {
		return nil, fmt.Errorf("torrent metainfo has no info dictionary")
	}
	info, ok := infoAny.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("torrent metainfo info is not a dictionary")
	}
	return &Metainfo{raw: raw, info: info}, nil
}

// Clone returns a deep-enough copy that SetSource/SetComment/SetTrackers
// on the clone never mutate the receiver. Used by the match engine's
// hash-search strategy, which probes several source-flag variants
// before committing to one.
func (m *Metainfo) Clone() *Metainfo {
	raw := cloneDict(m.raw).(map[string]any)
	info, _ := raw["info"].(map[string]any)
	return &Metainfo{raw: raw, info: info}
}

func cloneDict(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneDict(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneDict(e)
		}
		return out
	default:
		return v
	}
}

// Serialize bencodes the metainfo back to bytes.
func (m *Metainfo) Serialize() ([]byte, error) {
	return bencode.EncodeBytes(m.raw)
}

// Name returns info.name, the torrent's root display name.
func (m *Metainfo) Name() string {
	name, _ := m.info["name"].(string)
	return name
}

// SetSource rewrites info.source (empty string deletes the key,
// matching the bare "no source" hash variant the match engine searches
// right after the site's own flag).
func (m *Metainfo) SetSource(flag string) {
	if flag == "" {
		delete(m.info, "source")
		return
	}
	m.info["source"] = flag
}

// SetComment rewrites the top-level comment field.
func (m *Metainfo) SetComment(comment string) {
	m.raw["comment"] = comment
}

// SetTrackers replaces announce/announce-list with a single tier
// containing exactly these URLs.
func (m *Metainfo) SetTrackers(urls []string) {
	if len(urls) == 0 {
		delete(m.raw, "announce")
		delete(m.raw, "announce-list")
		return
	}
	m.raw["announce"] = urls[0]
	tier := make([]any, len(urls))
	for i, u := range urls {
		tier[i] = u
	}
	m.raw["announce-list"] = []any{tier}
}

// InfoHash computes the SHA-1 over the canonical bencoding of the info
// dictionary — the torrent's v1 identity.
func (m *Metainfo) InfoHash() ([20]byte, error) {
	encoded, err := bencode.EncodeBytes(m.info)
	if err != nil {
		return [20]byte{}, fmt.Errorf("encode info dict: %w", err)
	}
	return sha1.Sum(encoded), nil //nolint:gosec // BitTorrent v1 infohash requires SHA1.
}

// InfoHashHex is InfoHash hex-encoded, the form persistence and the
// tracker-site client deal in.
func (m *Metainfo) InfoHashHex() (string, error) {
	h, err := m.InfoHash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// Files lists (path-components, size) pairs with the root name as the
// first component, matching how the local client reports its file
// list.
func (m *Metainfo) Files() ([]File, error) {
	name, _ := m.info["name"].(string)
	if filesAny, ok := m.info["files"]; ok {
		files, ok := filesAny.([]any)
		if !ok {
			return nil, fmt.Errorf("info.files is not a list")
		}
		out := make([]File, 0, len(files))
		for _, fAny := range files {
			f, ok := fAny.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("info.files entry is not a dictionary")
			}
			pathAny, _ := f["path"].([]any)
			parts := make([]string, 0, len(pathAny)+1)
			parts = append(parts, name)
			for _, p := range pathAny {
				s, _ := p.(string)
				parts = append(parts, s)
			}
			size, _ := f["length"].(int64)
			out = append(out, File{Path: parts, Size: size})
		}
		return out, nil
	}

	// Single-file torrent: the root name IS the file.
	length, _ := m.info["length"].(int64)
	return []File{{Path: []string{name}, Size: length}}, nil
}

// FlatFiles returns Files() joined with "/", dropping the root
// component — the ordered relative-path/size shape the reconciler
// consumes, preserving info.files's on-disk order.
func (m *Metainfo) FlatFiles() ([]domain.FileEntry, error) {
	files, err := m.Files()
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileEntry, 0, len(files))
	for _, f := range files {
		if len(f.Path) < 2 {
			continue
		}
		out = append(out, domain.FileEntry{Path: strings.Join(f.Path[1:], "/"), Size: f.Size})
	}
	return out, nil
}

// TotalSize sums every file's length.
func (m *Metainfo) TotalSize() (int64, error) {
	files, err := m.Files()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// CalculateHashesWithSources returns the infohash for each requested
// source flag, plus the bare "no source" hash under key "". This is
// the core of the match engine's hash-search strategy (spec §4.6a):
// private trackers vary info.source to force a distinct infohash per
// site, so we must try the candidate's known flag plus its family
// before concluding there's no hash match.
func CalculateHashesWithSources(torrentData []byte, sources []string) (map[string]string, error) {
	m, err := Parse(torrentData)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(sources)+1)

	base := m.Clone()
	base.SetSource("")
	hash, err := base.InfoHashHex()
	if err != nil {
		return nil, err
	}
	result[""] = hash

	for _, source := range sources {
		variant := m.Clone()
		variant.SetSource(source)
		hash, err := variant.InfoHashHex()
		if err != nil {
			return nil, err
		}
		result[source] = hash
	}
	return result, nil
}
