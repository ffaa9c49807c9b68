// Package trackersite implements the per-site HTTP client used to
// search a private-tracker site by hash or filename, fetch a
// torrent's remote file list, and download its .torrent file.
//
// Grounded on internal/services/crossseed/gazellemusic/client.go: a
// shared *http.Transport for connection pooling, golang.org/x/time/rate
// for the per-site wall-clock rate gate, and the Gazelle
// {status,response,error} JSON envelope used by the reference Gazelle
// sites (RED/OPS). download_torrent's bounded retry uses avast/retry-go,
// the same retry package the wider example corpus vendors for outbound
// RPC. The cookie-auth jar uses golang.org/x/net/publicsuffix (grounded
// on internal/api/handlers/torrents.go's use of the same package),
// the standard companion to net/http/cookiejar for domain-matching
// cookies against a session cookie issued by a single site host.
package trackersite

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

var sharedTransport = func() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 90 * time.Second
	t.ForceAttemptHTTP2 = true
	return t
}()

// Config describes one configured tracker site (spec §6 target_site).
type Config struct {
	Server       string // base URL, e.g. https://redacted.sh
	TrackerQuery string // announce hostname substring, e.g. flacsfor.me
	APIKey       string
	Cookie       string
	SourceFlag   string
	Interval     time.Duration // minimum wall-clock spacing between requests
	AnnounceURL  string
}

// Client is one instance per configured site.
type Client struct {
	cfg        Config
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a site client. Exactly one of cfg.APIKey/cfg.Cookie
// must be set (spec §6); the caller validates that before calling New.
func New(cfg Config) (*Client, error) {
	parsed, err := url.Parse(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: sharedTransport,
	}
	if cfg.Cookie != "" {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		jar.SetCookies(parsed, parseCookieHeader(parsed, cfg.Cookie))
		httpClient.Jar = jar
	}

	return &Client{
		cfg:        cfg,
		host:       parsed.Host,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(cfg.Interval), 1),
	}, nil
}

func parseCookieHeader(u *url.URL, header string) []*http.Cookie {
	req := http.Request{Header: http.Header{"Cookie": {header}}}
	return req.Cookies()
}

func (c *Client) Host() string         { return c.host }
func (c *Client) SourceFlag() string   { return c.cfg.SourceFlag }
func (c *Client) TrackerQuery() string { return c.cfg.TrackerQuery }
func (c *Client) AnnounceURL() string  { return c.cfg.AnnounceURL }

// TorrentURL builds the user-facing page URL for a torrent ID, used to
// set the injected metainfo's comment field (spec §4.7).
func (c *Client) TorrentURL(torrentID string) string {
	return fmt.Sprintf("%s/torrents.php?torrentid=%s", strings.TrimSuffix(c.cfg.Server, "/"), torrentID)
}

// request applies the rate gate then issues one HTTP call.
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &TransportError{Site: c.host, Err: err}
	}

	reqURL := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.cfg.Server, "/"), endpoint)
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, 0, &TransportError{Site: c.host, Err: err}
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", c.cfg.APIKey)
	}
	req.Header.Set("User-Agent", "nemorosa/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Site: c.host, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Site: c.host, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, resp.StatusCode, nil
	case http.StatusTooManyRequests:
		return nil, resp.StatusCode, &RateLimited{Site: c.host}
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, resp.StatusCode, &AuthError{Site: c.host, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return nil, resp.StatusCode, &TransportError{Site: c.host, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
}

type ajaxResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

func (c *Client) ajax(ctx context.Context, action string, params url.Values) (*ajaxResponse, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("action", action)
	body, _, err := c.request(ctx, http.MethodGet, "ajax.php", params)
	if err != nil {
		return nil, err
	}
	var resp ajaxResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		return nil, &ProtocolError{Site: c.host, Err: jsonErr}
	}
	if resp.Status != "success" {
		return nil, &ProtocolError{Site: c.host, Err: fmt.Errorf("%s", resp.Error)}
	}
	return &resp, nil
}

// SearchResult is a candidate torrent on this site.
type SearchResult struct {
	TorrentID string
	Size      int64
}

type torrentResponse struct {
	Torrent struct {
		ID       json.Number `json:"id"`
		InfoHash string      `json:"infoHash"`
		Size     int64       `json:"size"`
		FileList string      `json:"fileList"`
	} `json:"torrent"`
}

// SearchByHash looks up a torrent by infohash. Returns (nil, nil) on a
// "not found" response — the client never errors on an empty result
// (spec §4.3).
func (c *Client) SearchByHash(ctx context.Context, infohash string) (*SearchResult, error) {
	params := url.Values{}
	params.Set("hash", strings.ToUpper(infohash))

	resp, err := c.ajax(ctx, "torrent", params)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var tr torrentResponse
	if err := json.Unmarshal(resp.Response, &tr); err != nil {
		return nil, &ProtocolError{Site: c.host, Err: err}
	}
	return &SearchResult{TorrentID: tr.Torrent.ID.String(), Size: tr.Torrent.Size}, nil
}

func isNotFound(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "bad id parameter") ||
		strings.Contains(lower, "bad parameters") ||
		strings.Contains(lower, "bad hash parameter") ||
		strings.Contains(lower, "not found")
}

type browseResponse struct {
	Results []struct {
		Torrents []struct {
			ID   json.Number `json:"torrentId"`
			Size int64       `json:"size"`
		} `json:"torrents"`
	} `json:"results"`
}

// SearchByFilename queries the site's browse endpoint by filename and
// returns every result's (torrentId, size) pair, in server order.
func (c *Client) SearchByFilename(ctx context.Context, filename string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("filelist", filename)

	resp, err := c.ajax(ctx, "browse", params)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var br browseResponse
	if err := json.Unmarshal(resp.Response, &br); err != nil {
		return nil, &ProtocolError{Site: c.host, Err: err}
	}

	results := make([]SearchResult, 0, 32)
	for _, group := range br.Results {
		for _, t := range group.Torrents {
			results = append(results, SearchResult{TorrentID: t.ID.String(), Size: t.Size})
		}
	}
	return results, nil
}

// FetchFileList fetches and parses the per-torrent remote file list.
// Wire format: entries delimited by "|||", each "name{{{size}}}".
// Names are HTML-entity-decoded; malformed entries are dropped with a
// warning (spec §4.3).
func (c *Client) FetchFileList(ctx context.Context, torrentID string) ([]domain.FileEntry, error) {
	params := url.Values{}
	params.Set("id", torrentID)

	resp, err := c.ajax(ctx, "torrent", params)
	if err != nil {
		return nil, err
	}
	var tr torrentResponse
	if err := json.Unmarshal(resp.Response, &tr); err != nil {
		return nil, &ProtocolError{Site: c.host, Err: err}
	}
	return parseFileList(c.host, tr.Torrent.FileList), nil
}

func parseFileList(site, fileList string) []domain.FileEntry {
	var result []domain.FileEntry
	for _, entry := range strings.Split(fileList, "|||") {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "{{{", 2)
		if len(parts) != 2 {
			log.Warn().Str("site", site).Str("entry", entry).Msg("trackersite: malformed file-list entry, dropping")
			continue
		}
		name := html.UnescapeString(parts[0])
		sizeStr := strings.TrimSuffix(parts[1], "}}}")
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			log.Warn().Str("site", site).Str("entry", entry).Msg("trackersite: malformed file-list size, dropping")
			continue
		}
		result = append(result, domain.FileEntry{Path: name, Size: size})
	}
	return result
}

// DownloadTorrent fetches the .torrent bytes, retrying up to 8 times
// spaced 2s apart on any failure (spec §4.3/§4.7).
func (c *Client) DownloadTorrent(ctx context.Context, torrentID string) ([]byte, error) {
	params := url.Values{}
	params.Set("action", "download")
	params.Set("id", torrentID)

	var body []byte
	err := retry.Do(
		func() error {
			b, _, err := c.request(ctx, http.MethodGet, "ajax.php", params)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(8),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}
