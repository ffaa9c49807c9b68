package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

func entries(pairs ...any) []domain.FileEntry {
	out := make([]domain.FileEntry, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, domain.FileEntry{Path: pairs[i].(string), Size: int64(pairs[i+1].(int))})
	}
	return out
}

func TestGenerateRenameMapSameNamesNoop(t *testing.T) {
	local := entries("01 Intro.flac", 1000, "cover.jpg", 500)
	remote := entries("01 Intro.flac", 1000, "cover.jpg", 500)

	result, err := GenerateRenameMap(local, remote)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestGenerateRenameMapFilenameDifference(t *testing.T) {
	// S2: "01 - Intro.flac" vs "01 Intro.flac", same size.
	local := entries("01 Intro.flac", 1000, "cover.jpg", 500)
	remote := entries("01 - Intro.flac", 1000, "cover.jpg", 500)

	result, err := GenerateRenameMap(local, remote)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "01 - Intro.flac", result[0].RemotePath)
	assert.Equal(t, "01 Intro.flac", result[0].LocalLeaf)
	assert.Equal(t, 0, result[0].Priority)
}

func TestGenerateRenameMapConflict(t *testing.T) {
	// S3: sizes swapped between two same-named files.
	local := entries("1.flac", 1000, "2.flac", 2000)
	remote := entries("1.flac", 2000, "2.flac", 1000)

	_, err := GenerateRenameMap(local, remote)
	require.Error(t, err)
	var conflict *Conflict
	require.ErrorAs(t, err, &conflict)
}

func TestGenerateRenameMapPrefixCompressionOrdering(t *testing.T) {
	local := entries("AlbumLocal/CD1/01 Track.flac", 1000)
	remote := entries("AlbumRemote/CD1/01 Track.flac", 1000)

	result, err := GenerateRenameMap(local, remote)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "AlbumRemote", result[0].RemotePath)
	assert.Equal(t, "AlbumLocal", result[0].LocalLeaf)
	assert.Equal(t, 0, result[0].Priority)
}

func TestGenerateRenameMapSizeBucketAmbiguity(t *testing.T) {
	local := entries(
		"Similar Name One.flac", 1234,
		"Totally Different.flac", 1234,
	)
	remote := entries("Similar Name Two.flac", 1234)

	result, err := GenerateRenameMap(local, remote)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Similar Name One.flac", result[0].LocalLeaf)
}

func TestGenerateRenameMapUnmatchedRemoteIgnored(t *testing.T) {
	local := entries("a.flac", 100)
	remote := entries("a.flac", 100, "extra.nfo", 42)

	result, err := GenerateRenameMap(local, remote)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestGenerateRenameMapRemoteProcessedInInsertionOrderNotAlphabetical(t *testing.T) {
	// Both remote candidates below are a strong similarity match for
	// "song1.flac" and a poor match for the unrelated second local
	// file, so whichever remote entry is processed first claims
	// "song1.flac" and the other is left with the unrelated file by
	// elimination. "song1-a.flac" sorts alphabetically before
	// "song1-b.flac", but the torrent's real file-list order (spec
	// §4.5 step 3) lists "song1-b.flac" first — the fix must honor
	// that insertion order, not re-sort it.
	local := entries(
		"song1.flac", 1000,
		"totally_different_name.flac", 1000,
	)
	remote := entries(
		"song1-b.flac", 1000,
		"song1-a.flac", 1000,
	)

	result, err := GenerateRenameMap(local, remote)
	require.NoError(t, err)
	require.Len(t, result, 2)

	byRemote := make(map[string]string, len(result))
	for _, e := range result {
		byRemote[e.RemotePath] = e.LocalLeaf
	}
	assert.Equal(t, "song1.flac", byRemote["song1-b.flac"])
	assert.Equal(t, "totally_different_name.flac", byRemote["song1-a.flac"])
}
