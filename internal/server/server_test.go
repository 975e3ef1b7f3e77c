package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/config"
)

func fragmentRegistry(t *testing.T) *bridge.Registry {
	t.Helper()
	reg := testRegistry(t)
	fragment := func(html string) bridge.CommandFunc {
		return func(ctx context.Context, args json.RawMessage) (string, error) { return html, nil }
	}
	reg.MustRegister("render_header", fragment(`<nav id="header">Borrow Checker</nav>`))
	reg.MustRegister("render_navigation", fragment(`<aside id="navigation"></aside>`))
	reg.MustRegister("render_ledger_header", fragment(`<header id="ledger-header">YOUR BALANCE</header>`))
	reg.MustRegister("render_transactions", func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", errors.New("store list_transactions: broken <file>")
	})
	return reg
}

func TestServePage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Title = "Chaos Ledger"
	srv := New(cfg, fragmentRegistry(t), nil)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "<title>Chaos Ledger</title>")
	assert.Contains(t, body, `<nav id="header">Borrow Checker</nav>`)
	assert.Contains(t, body, `<header id="ledger-header">YOUR BALANCE</header>`)
	assert.Contains(t, body, `<button id="loadFilesBtn" data-event="click">List Files</button>`)
	assert.Contains(t, body, `<div id="content"></div>`)
	assert.Contains(t, body, `<p class="error">Error: store list_transactions: broken &lt;file&gt;</p>`)
	// Unregistered fragments render empty.
	assert.Contains(t, body, `<div data-fragment="render_settlements"></div>`)
}

func TestServePageRedirectsUnknownPaths(t *testing.T) {
	srv := New(nil, fragmentRegistry(t), nil)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ledgers/39C3", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestServeAssets(t *testing.T) {
	srv := New(nil, fragmentRegistry(t), nil)

	tests := []struct {
		path        string
		status      int
		contentType string
	}{
		{"/assets/borrowchecker.js", http.StatusOK, "application/javascript"},
		{"/assets/borrowchecker.css", http.StatusOK, "text/css"},
		{"/assets/missing.js", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHandlerMiddlewareChain(t *testing.T) {
	_, ts := newTestServer(t, fragmentRegistry(t))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	gz, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), "loadFilesBtn")
}

func TestHandlerRateLimitsAPI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API = &config.APIConfig{RateLimit: &config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}}
	srv := New(cfg, fragmentRegistry(t), nil)
	h := srv.Handler()
	t.Cleanup(func() { srv.Close() })

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/invoke/list_files_html", nil)
		req.RemoteAddr = "8.8.8.8:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	// Pages are not limited.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnableWatchBroadcastsTomlChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ledgers", "39C3"), 0o755))

	srv, ts := newTestServer(t, fragmentRegistry(t))

	var mu sync.Mutex
	var changed []string
	require.NoError(t, srv.EnableWatch(dir, func(path string) {
		mu.Lock()
		changed = append(changed, path)
		mu.Unlock()
	}))

	client := newWSTestClient(t, ts)
	client.receiveSnapshot()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledgers", "39C3", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledgers", "39C3", "tx.toml"), []byte("amount = 1"), 0o644))

	msg := client.receive()
	assert.Equal(t, OpReload, msg.Op)
	assert.Equal(t, "ledgers/39C3/tx.toml", msg.Value)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range changed {
			if strings.HasSuffix(p, ".txt") {
				return false
			}
		}
		return len(changed) > 0
	}, 2*time.Second, 10*time.Millisecond)
}
