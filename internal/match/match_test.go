package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrieldemian/nemorosa/internal/domain"
	"github.com/gabrieldemian/nemorosa/internal/metainfo"
	"github.com/gabrieldemian/nemorosa/internal/trackersite"
	"github.com/zeebo/bencode"
)

type fakeSite struct {
	sourceFlag string

	hashHits map[string]trackersite.SearchResult

	filenameResults map[string][]trackersite.SearchResult
	fileLists       map[string][]domain.FileEntry

	hashCalls     []string
	filenameCalls []string
}

func (f *fakeSite) SourceFlag() string { return f.sourceFlag }

func (f *fakeSite) SearchByHash(_ context.Context, infohash string) (*trackersite.SearchResult, error) {
	f.hashCalls = append(f.hashCalls, infohash)
	if r, ok := f.hashHits[infohash]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeSite) SearchByFilename(_ context.Context, filename string) ([]trackersite.SearchResult, error) {
	f.filenameCalls = append(f.filenameCalls, filename)
	return f.filenameResults[filename], nil
}

func (f *fakeSite) FetchFileList(_ context.Context, torrentID string) ([]domain.FileEntry, error) {
	if fl, ok := f.fileLists[torrentID]; ok {
		return fl, nil
	}
	return nil, errors.New("no file list")
}

func buildMetainfo(t *testing.T, name string, files []map[string]any) *metainfo.Metainfo {
	t.Helper()
	info := map[string]any{
		"name":         name,
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
		"files":        files,
	}
	raw := map[string]any{"announce": "https://example.com/ann", "info": info}
	data, err := bencode.EncodeBytes(raw)
	require.NoError(t, err)
	mi, err := metainfo.Parse(data)
	require.NoError(t, err)
	return mi
}

func TestFindMatchHashSearchHit(t *testing.T) {
	mi := buildMetainfo(t, "Album", []map[string]any{
		{"path": []any{"01 Track.flac"}, "length": int64(1000)},
	})

	site := &fakeSite{sourceFlag: "RED", hashHits: map[string]trackersite.SearchResult{}}

	// Compute the hash the engine will produce for the bare ("") source
	// flag and register it as a hit, so the second candidate succeeds.
	clone := mi.Clone()
	clone.SetSource("")
	bareHash, err := clone.InfoHashHex()
	require.NoError(t, err)
	site.hashHits[bareHash] = trackersite.SearchResult{TorrentID: "555", Size: 1000}

	local := &domain.LocalTorrent{TotalSize: 1000}
	res, err := FindMatch(context.Background(), site, local, mi)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "555", res.TorrentID)
	assert.True(t, res.UseExistingMetainfo)
	// RED tried first and missed, then "" hit.
	require.Len(t, site.hashCalls, 2)
}

func TestFindMatchFilenameSearchTotalSizeMatch(t *testing.T) {
	site := &fakeSite{
		sourceFlag: "RED",
		filenameResults: map[string][]trackersite.SearchResult{
			"Album/01 Track.flac": {{TorrentID: "777", Size: 2000}},
		},
	}
	local := &domain.LocalTorrent{
		TotalSize: 2000,
		Files:     []domain.File{{Path: "Album/01 Track.flac", Size: 2000}},
	}

	res, err := FindMatch(context.Background(), site, local, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "777", res.TorrentID)
	assert.False(t, res.UseExistingMetainfo)
}

func TestFindMatchFilenameContentConfirm(t *testing.T) {
	site := &fakeSite{
		sourceFlag: "RED",
		filenameResults: map[string][]trackersite.SearchResult{
			"Album/01 Track.flac": {{TorrentID: "42", Size: 9999}}, // total-size mismatch forces content confirm
		},
		fileLists: map[string][]domain.FileEntry{
			"42": {{Path: "Album/01 Track.flac", Size: 1234}, {Path: "Album/cover.jpg", Size: 500}},
		},
	}
	local := &domain.LocalTorrent{
		TotalSize: 1734,
		Files: []domain.File{
			{Path: "Album/01 Track.flac", Size: 1234},
			{Path: "Album/cover.jpg", Size: 500},
		},
	}

	res, err := FindMatch(context.Background(), site, local, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "42", res.TorrentID)
}

func TestContentConfirmUsesQueryListLastEntryNotGlobalShortestMusicFile(t *testing.T) {
	// t.flac is the globally shortest music file in local.Files but is
	// excluded from the capped query list below (spec §4.6.b.v: the
	// non-music acceptance path must check queries[-1], here
	// "trackA.flac", not a freshly recomputed global shortest).
	remoteFiles := []domain.FileEntry{
		{Path: "COVERART", Size: 500},
		{Path: "trackB.flac", Size: 222},
		{Path: "trackA.flac", Size: 333},
	}
	site := &fakeSite{
		fileLists: map[string][]domain.FileEntry{"99": remoteFiles},
	}
	local := &domain.LocalTorrent{
		Files: []domain.File{
			{Path: "COVERART", Size: 500},
			{Path: "trackB.flac", Size: 222},
			{Path: "trackA.flac", Size: 333},
			{Path: "t.flac", Size: 111},
		},
	}
	localFiles := local.FileSizes()
	queries := []string{"COVERART", "trackB.flac", "trackA.flac"}
	results := []trackersite.SearchResult{{TorrentID: "99"}}

	res, stop, err := contentConfirm(context.Background(), site, "COVERART", queries, local, localFiles, results)
	require.NoError(t, err)
	require.False(t, stop)
	require.NotNil(t, res)
	assert.Equal(t, "99", res.TorrentID)
}

func TestFindMatchNoHit(t *testing.T) {
	site := &fakeSite{sourceFlag: "RED"}
	local := &domain.LocalTorrent{
		TotalSize: 1000,
		Files:     []domain.File{{Path: "Album/01 Track.flac", Size: 1000}},
	}
	res, err := FindMatch(context.Background(), site, local, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "01 Track", Sanitize("01_-_Track"))
	assert.Equal(t, "Artist Name Song flac", Sanitize("Artist-Name_Song.flac"))
}

func TestIsMusicFile(t *testing.T) {
	assert.True(t, IsMusicFile("Album/01 Track.FLAC"))
	assert.True(t, IsMusicFile("song.mp3"))
	assert.False(t, IsMusicFile("cover.jpg"))
	assert.False(t, IsMusicFile("album.log"))
}

func TestSourceFlagCandidatesOrdering(t *testing.T) {
	candidates := trackersite.SourceFlagCandidates("RED")
	assert.Equal(t, []string{"RED", "", "PTH"}, candidates)
}
