package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrieldemian/nemorosa/internal/config"
)

func TestBuildSitesDerivesKnownTrackerFields(t *testing.T) {
	sites, err := buildSites([]config.TargetSite{
		{Server: "https://redacted.sh", Tracker: "flacsfor.me", APIKey: "key"},
	})
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "RED", sites[0].SourceFlag())
	assert.Equal(t, "redacted.sh", sites[0].Host())
}

func TestBuildSitesHonorsExplicitOverrides(t *testing.T) {
	sites, err := buildSites([]config.TargetSite{
		{
			Server:      "https://custom.example",
			Tracker:     "custom.example",
			APIKey:      "key",
			SourceFlag:  "CUSTOM",
			AnnounceURL: "https://custom.example/abc/announce",
		},
	})
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "CUSTOM", sites[0].SourceFlag())
	assert.Equal(t, "https://custom.example/abc/announce", sites[0].AnnounceURL())
}

func TestBuildSitesRejectsInvalidServerURL(t *testing.T) {
	_, err := buildSites([]config.TargetSite{
		{Server: "://bad-url", Tracker: "x"},
	})
	assert.Error(t, err)
}
