//go:build !ci

package borrowchecker_test

import (
	"context"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borrowchecker/borrowchecker/internal/app"
	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/config"
	"github.com/borrowchecker/borrowchecker/internal/listfiles"
	"github.com/borrowchecker/borrowchecker/internal/server"
)

// findChrome returns a local Chrome binary or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("Chrome not available, skipping E2E test")
	return ""
}

// startFixtureServer serves the fixture ledger repository.
func startFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.User.ID = "c8744a29-7ed0-447a-af5a-51e4ad291d1d"
	cfg.Store = config.StoreConfig{Type: "dir", Path: "internal/ledger/testdata/repo"}

	a, err := app.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	registry := bridge.NewRegistry(nil)
	require.NoError(t, a.Register(registry))

	srv := server.New(cfg, registry, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func newBrowser(t *testing.T) (context.Context, *consoleLog) {
	t.Helper()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(findChrome(t)),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(t.Logf))
	ctx, timeoutCancel := context.WithTimeout(ctx, 30*time.Second)
	t.Cleanup(func() {
		timeoutCancel()
		ctxCancel()
		allocCancel()
	})

	console := &consoleLog{}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			console.add("exception: " + ev.ExceptionDetails.Text)
		case *runtime.EventConsoleAPICalled:
			if ev.Type == runtime.APITypeError {
				for _, arg := range ev.Args {
					console.add("console.error: " + string(arg.Value))
				}
			}
		}
	})
	return ctx, console
}

type consoleLog struct {
	mu    sync.Mutex
	lines []string
}

func (c *consoleLog) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *consoleLog) errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestListFilesButtonE2E(t *testing.T) {
	ctx, console := newBrowser(t)
	ts := startFixtureServer(t)

	var label, content string
	var disabled bool
	err := chromedp.Run(ctx,
		chromedp.Navigate(ts.URL),
		chromedp.WaitVisible("#"+listfiles.ButtonID, chromedp.ByQuery),
		chromedp.Text("#"+listfiles.ButtonID, &label, chromedp.ByQuery),
	)
	require.NoError(t, err)
	assert.Equal(t, listfiles.IdleLabel, strings.TrimSpace(label))

	err = chromedp.Run(ctx,
		// Clicks are only reported once the websocket is open.
		chromedp.Poll(`document.documentElement.dataset.live === "1"`, nil),
		chromedp.Click("#"+listfiles.ButtonID, chromedp.ByQuery),
		chromedp.Poll(`document.getElementById("content").innerHTML.includes("group.toml")`, nil, chromedp.WithPollingTimeout(10*time.Second)),
		chromedp.InnerHTML("#"+listfiles.ContentID, &content, chromedp.ByQuery),
		chromedp.Poll(`!document.getElementById("loadFilesBtn").disabled`, nil),
		chromedp.Text("#"+listfiles.ButtonID, &label, chromedp.ByQuery),
		chromedp.Evaluate(`document.getElementById("loadFilesBtn").disabled`, &disabled),
	)
	require.NoError(t, err)

	assert.Contains(t, content, "ledgers/39C3/.ledger.toml")
	assert.Equal(t, listfiles.IdleLabel, strings.TrimSpace(label))
	assert.False(t, disabled)
	assert.Empty(t, console.errors())
}

func TestSwitchLedgerE2E(t *testing.T) {
	ctx, console := newBrowser(t)
	ts := startFixtureServer(t)

	var nav, transactions string
	err := chromedp.Run(ctx,
		chromedp.Navigate(ts.URL),
		chromedp.WaitVisible(`[data-command="switch_ledger"]`, chromedp.ByQuery),
		chromedp.Click(`[data-command="switch_ledger"]`, chromedp.ByQuery),
		chromedp.Poll(`document.querySelector('[data-command="switch_ledger"]').classList.contains("active")`, nil),
		chromedp.OuterHTML("#navigation", &nav, chromedp.ByQuery),
		chromedp.InnerHTML(`[data-fragment="render_transactions"]`, &transactions, chromedp.ByQuery),
	)
	require.NoError(t, err)

	assert.Contains(t, nav, "39C3")
	assert.Contains(t, transactions, "Club Mate")
	assert.Empty(t, console.errors())
}
