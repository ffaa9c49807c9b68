package deluge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter"
)

// rpcHandler builds a /json endpoint that answers each call with the
// canned result keyed by its method name ("null" for any method not in
// results), echoing the request ID back.
func rpcHandler(t *testing.T, results map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			result = "null"
		}
		fmt.Fprintf(w, `{"result":%s,"error":null,"id":%d}`, result, req.ID)
	}
}

func newTestClientConfig(t *testing.T, server *httptest.Server) Config {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return Config{Host: host, Port: port, Password: "secret"}
}

func TestNewLogsInSuccessfully(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(rpcHandler(t, map[string]string{
		"auth.login":  "true",
		"web.connect": "null",
	}))
	t.Cleanup(server.Close)

	adapter, err := New(newTestClientConfig(t, server))
	require.NoError(t, err)
	require.NotNil(t, adapter)
}

func TestNewPropagatesLoginFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"result":null,"error":{"message":"bad password","code":1},"id":%d}`, req.ID)
	}))
	t.Cleanup(server.Close)

	_, err := New(newTestClientConfig(t, server))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad password")
}

func TestListParsesTorrentsStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(rpcHandler(t, map[string]string{
		"auth.login":  "true",
		"web.connect": "null",
		"core.get_torrents_status": `{
			"aaaa": {"name":"Foo","save_path":"/data","total_size":100,"state":"Seeding"}
		}`,
	}))
	t.Cleanup(server.Close)

	adapter, err := New(newTestClientConfig(t, server))
	require.NoError(t, err)

	list, err := adapter.List(context.Background(), clientadapter.Fields{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "aaaa", list[0].InfoHash)
	require.Equal(t, "Foo", list[0].DisplayName)
}

func TestGetReturnsNilForMissingTorrent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(rpcHandler(t, map[string]string{
		"auth.login":              "true",
		"web.connect":             "null",
		"core.get_torrent_status": `{"name":"","save_path":"","total_size":0,"state":""}`,
	}))
	t.Cleanup(server.Close)

	adapter, err := New(newTestClientConfig(t, server))
	require.NoError(t, err)

	lt, err := adapter.Get(context.Background(), "deadbeef", clientadapter.Fields{})
	require.NoError(t, err)
	require.Nil(t, lt)
}

func TestGetTranslatesInvalidTorrentIDToNil(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "auth.login":
			fmt.Fprintf(w, `{"result":true,"error":null,"id":%d}`, req.ID)
		case "web.connect":
			fmt.Fprintf(w, `{"result":null,"error":null,"id":%d}`, req.ID)
		case "core.get_torrent_status":
			fmt.Fprintf(w, `{"result":null,"error":{"message":"Invalid torrent id","code":4},"id":%d}`, req.ID)
		}
	}))
	t.Cleanup(server.Close)

	adapter, err := New(newTestClientConfig(t, server))
	require.NoError(t, err)

	lt, err := adapter.Get(context.Background(), "deadbeef", clientadapter.Fields{})
	require.NoError(t, err)
	require.Nil(t, lt)
}

func TestAddParsesAlreadyInSessionConflict(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "auth.login":
			fmt.Fprintf(w, `{"result":true,"error":null,"id":%d}`, req.ID)
		case "web.connect":
			fmt.Fprintf(w, `{"result":null,"error":null,"id":%d}`, req.ID)
		case "core.add_torrent_file":
			fmt.Fprintf(w, `{"result":null,"error":{"message":"Torrent already in session (cafebabe)","code":2},"id":%d}`, req.ID)
		}
	}))
	t.Cleanup(server.Close)

	adapter, err := New(newTestClientConfig(t, server))
	require.NoError(t, err)

	mi := buildTestMetainfo(t)
	_, err = adapter.Add(context.Background(), mi, "/data", false)
	require.Error(t, err)
	var conflict *clientadapter.Conflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "cafebabe", conflict.ExistingHash)
}

func TestParseAlreadyInSession(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cafebabe", parseAlreadyInSession("Torrent already in session (cafebabe)"))
	require.Equal(t, "", parseAlreadyInSession("some other error"))
}

func TestMapStateKnownAndUnknown(t *testing.T) {
	t.Parallel()

	require.Equal(t, "downloading", strings.ToLower(string(mapState("Downloading"))))
	require.Equal(t, "unknown", strings.ToLower(string(mapState("Bogus"))))
}

func TestExportMetainfoReadsFromTorrentsDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/deadbeef.torrent", []byte("d4:infod4:name3:foo6:lengthi1eee"), 0o644))

	c := &Client{cfg: Config{TorrentsDir: dir}}
	data, err := c.ExportMetainfo(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte("d4:infod4:name3:foo6:lengthi1eee"), data)
}

func TestExportMetainfoReturnsNilWhenMissing(t *testing.T) {
	t.Parallel()

	c := &Client{cfg: Config{TorrentsDir: t.TempDir()}}
	data, err := c.ExportMetainfo(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Nil(t, data)
}

func buildTestMetainfo(t *testing.T) []byte {
	t.Helper()
	raw := map[string]any{
		"announce": "https://example.com/announce",
		"info": map[string]any{
			"name":         "foo",
			"piece length": int64(16384),
			"pieces":       strings.Repeat("x", 20),
			"length":       int64(1),
		},
	}
	data, err := bencode.EncodeBytes(raw)
	require.NoError(t, err)
	return data
}
