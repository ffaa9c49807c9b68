package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSizesProjectsPathToSize(t *testing.T) {
	t.Parallel()

	lt := &LocalTorrent{
		Files: []File{
			{Path: "a.flac", Size: 100},
			{Path: "b.flac", Size: 200},
		},
	}
	require.Equal(t, map[string]int64{"a.flac": 100, "b.flac": 200}, lt.FileSizes())
}

func TestProgressWeightedBySize(t *testing.T) {
	t.Parallel()

	lt := &LocalTorrent{
		TotalSize: 300,
		Files: []File{
			{Path: "a.flac", Size: 100, Progress: 1.0},
			{Path: "b.flac", Size: 200, Progress: 0.5},
		},
	}
	require.InDelta(t, 0.6667, lt.Progress(), 0.001)
}

func TestProgressZeroTotalSizeReturnsZero(t *testing.T) {
	t.Parallel()

	lt := &LocalTorrent{TotalSize: 0}
	require.Equal(t, 0.0, lt.Progress())
}
