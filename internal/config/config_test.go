package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsErrMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "config.yaml"))
	assert.ErrorIs(t, err, ErrMissing)
}

func TestLoadDefaultsServerPort(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
global:
  loglevel: info
downloader:
  client: "qbittorrent+http://localhost:8080"
server:
  host: "0.0.0.0"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Server.Port)
}

func TestLoadParsesTargetSites(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
global:
  loglevel: debug
downloader:
  client: "transmission+http://localhost:9091"
target_site:
  - server: "https://redacted.example"
    tracker: "redacted.example"
    api_key: "abc123"
server:
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.TargetSite, 1)
	assert.Equal(t, "redacted.example", cfg.TargetSite[0].Tracker)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Global.LogLevel)
}

func TestValidateRejectsBothAPIKeyAndCookie(t *testing.T) {
	cfg := &Config{
		TargetSite: []TargetSite{{Server: "https://x", APIKey: "a", Cookie: "b"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNeitherAPIKeyNorCookie(t *testing.T) {
	cfg := &Config{
		TargetSite: []TargetSite{{Server: "https://x"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownClientPrefix(t *testing.T) {
	cfg := &Config{Downloader: Downloader{Client: "rtorrent+http://localhost"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsKnownClientPrefixes(t *testing.T) {
	for _, client := range []string{
		"deluge+http://localhost:8112",
		"transmission+http://localhost:9091",
		"qbittorrent+http://localhost:8080",
	} {
		cfg := &Config{Downloader: Downloader{Client: client}}
		assert.NoError(t, cfg.Validate(), client)
	}
}

func TestWriteDefaultCreatesFileAndRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, WriteDefault(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	err = WriteDefault(path)
	assert.Error(t, err, "must refuse to overwrite an existing file")
}

func TestDBPathAndLogPathShareDirWithDefaultPath(t *testing.T) {
	configPath, err := DefaultPath()
	require.NoError(t, err)
	dbPath, err := DBPath()
	require.NoError(t, err)
	logPath, err := LogPath()
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(configPath), filepath.Dir(dbPath))
	assert.Equal(t, filepath.Dir(configPath), filepath.Dir(logPath))
	assert.Equal(t, "nemorosa.db", filepath.Base(dbPath))
	assert.Equal(t, "nemorosa.log", filepath.Base(logPath))
}
