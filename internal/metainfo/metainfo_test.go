package metainfo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func buildTorrent(t *testing.T, info map[string]any, extra map[string]any) []byte {
	t.Helper()
	raw := map[string]any{"info": info}
	for k, v := range extra {
		raw[k] = v
	}
	data, err := bencode.EncodeBytes(raw)
	require.NoError(t, err)
	return data
}

func TestParseRoundTrip(t *testing.T) {
	info := map[string]any{
		"name":         "Album",
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
		"files": []any{
			map[string]any{"path": []any{"01 Intro.flac"}, "length": int64(1000)},
			map[string]any{"path": []any{"cover.jpg"}, "length": int64(500)},
		},
	}
	data := buildTorrent(t, info, map[string]any{"comment": "hello"})

	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "Album", m.Name())

	files, err := m.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, []string{"Album", "01 Intro.flac"}, files[0].Path)
	require.Equal(t, int64(1000), files[0].Size)

	out, err := m.Serialize()
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestSetSourceChangesInfoHash(t *testing.T) {
	info := map[string]any{
		"name":         "Album",
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
		"length":       int64(1500),
	}
	data := buildTorrent(t, info, nil)

	m, err := Parse(data)
	require.NoError(t, err)

	base, err := m.InfoHashHex()
	require.NoError(t, err)

	m.SetSource("RED")
	withSource, err := m.InfoHashHex()
	require.NoError(t, err)

	require.NotEqual(t, base, withSource)
}

func TestCalculateHashesWithSources(t *testing.T) {
	info := map[string]any{
		"name":         "Album",
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
		"length":       int64(1500),
	}
	data := buildTorrent(t, info, nil)

	hashes, err := CalculateHashesWithSources(data, []string{"RED", "PTH"})
	require.NoError(t, err)
	require.Len(t, hashes, 3)
	require.NotEqual(t, hashes[""], hashes["RED"])
	require.NotEqual(t, hashes["RED"], hashes["PTH"])
}

func TestCloneIsIndependent(t *testing.T) {
	info := map[string]any{
		"name":         "Album",
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
		"length":       int64(1500),
	}
	data := buildTorrent(t, info, nil)

	m, err := Parse(data)
	require.NoError(t, err)

	clone := m.Clone()
	clone.SetSource("RED")

	origHash, err := m.InfoHashHex()
	require.NoError(t, err)
	cloneHash, err := clone.InfoHashHex()
	require.NoError(t, err)
	require.NotEqual(t, origHash, cloneHash)
}

func TestFlatFiles(t *testing.T) {
	info := map[string]any{
		"name":         "Album",
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
		"files": []any{
			map[string]any{"path": []any{"CD1", "01 Intro.flac"}, "length": int64(1000)},
		},
	}
	data := buildTorrent(t, info, nil)

	m, err := Parse(data)
	require.NoError(t, err)
	flat, err := m.FlatFiles()
	require.NoError(t, err)
	require.Len(t, flat, 1)
	require.Equal(t, "CD1/01 Intro.flac", flat[0].Path)
	require.Equal(t, int64(1000), flat[0].Size)
}
