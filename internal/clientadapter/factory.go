package clientadapter

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter/deluge"
	"github.com/gabrieldemian/nemorosa/internal/clientadapter/qbittorrent"
	"github.com/gabrieldemian/nemorosa/internal/clientadapter/transmission"
)

// Config is the per-client settings block under a configured
// <vendor>+<scheme>:// URL (spec §4.4).
type Config struct {
	RawURL      string
	Label       string
	TorrentsDir string // fallback for ExportMetainfo when the vendor can't produce one
}

// New dispatches rawURL's <vendor> prefix to the matching
// implementation. Accepted prefixes: "qbittorrent", "transmission",
// "deluge" (spec §4.4: "<vendor>+<scheme>://...").
func New(cfg Config) (Adapter, error) {
	vendor, rest, ok := strings.Cut(cfg.RawURL, "+")
	if !ok {
		return nil, fmt.Errorf("clientadapter: URL %q missing <vendor>+ prefix", cfg.RawURL)
	}

	parsed, err := url.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("clientadapter: invalid URL %q: %w", rest, err)
	}

	switch vendor {
	case "qbittorrent":
		return qbittorrent.New(qbittorrent.Config{
			URL:         rest,
			Label:       cfg.Label,
			TorrentsDir: cfg.TorrentsDir,
		})
	case "transmission":
		return transmission.New(transmission.Config{
			Host:        parsed.Hostname(),
			Port:        parsed.Port(),
			User:        parsed.User.Username(),
			Password:    passwordOf(parsed),
			UseHTTPS:    parsed.Scheme == "https",
			Label:       cfg.Label,
			TorrentsDir: cfg.TorrentsDir,
		})
	case "deluge":
		return deluge.New(deluge.Config{
			Host:        parsed.Hostname(),
			Port:        parsed.Port(),
			Password:    passwordOf(parsed),
			Label:       cfg.Label,
			TorrentsDir: cfg.TorrentsDir,
		})
	default:
		return nil, fmt.Errorf("clientadapter: unsupported vendor %q", vendor)
	}
}

func passwordOf(u *url.URL) string {
	pw, _ := u.User.Password()
	return pw
}
