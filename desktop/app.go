package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/borrowchecker/borrowchecker/internal/app"
	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/config"
	"github.com/borrowchecker/borrowchecker/internal/logging"
	"github.com/borrowchecker/borrowchecker/internal/server"
)

// ErrNoRepository is returned by Invoke before a directory is opened.
var ErrNoRepository = errors.New("no ledger repository opened")

// App struct holds the application state.
type App struct {
	ctx    context.Context
	window windowBridge
	log    *logging.Logger

	mu         sync.RWMutex
	session    *app.App
	registry   *bridge.Registry
	refresher  *app.Refresher
	server     *server.Server
	httpServer *http.Server
	serverPort int
	currentDir string
}

// NewApp creates a new App application struct.
func NewApp(log *logging.Logger) *App {
	if log == nil {
		log = logging.Nop()
	}
	return &App{
		ctx:    context.Background(),
		window: nopBridge{},
		log:    log.Component("desktop"),
	}
}

// startup is called when the app starts. A directory passed on the command
// line is opened right away.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.window = wailsBridge{ctx: ctx}
	if len(os.Args) > 1 {
		if err := a.loadDirectory(os.Args[1]); err != nil {
			a.log.Error().Err(err).Str("dir", os.Args[1]).Msg("failed to open repository")
		}
	}
}

// shutdown is called when the app is closing.
func (a *App) shutdown(ctx context.Context) {
	a.stopServer()
}

// stopServer stops the current server and closes the repositories.
func (a *App) stopServer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpServer != nil {
		a.httpServer.Close()
		a.httpServer = nil
	}
	if a.refresher != nil {
		a.refresher.Stop()
		a.refresher = nil
	}
	if a.server != nil {
		a.server.Close()
		a.server = nil
	}
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close repositories")
		}
		a.session = nil
	}
	a.registry = nil
	a.serverPort = 0
}

// OpenDirectory opens a directory dialog and loads the chosen repository.
func (a *App) OpenDirectory() (string, error) {
	selection, err := runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title:            "Open Ledger Repository",
		DefaultDirectory: GetDefaultDirectory(),
	})
	if err != nil {
		return "", err
	}
	if selection == "" {
		return "", nil
	}
	if err := a.loadDirectory(selection); err != nil {
		return "", err
	}
	return selection, nil
}

// loadDirectory opens the repository in dir and serves it on a local port.
func (a *App) loadDirectory(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	a.stopServer()

	cfg, err := config.LoadFromDir(absDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	session, err := app.Open(a.ctx, cfg, a.log)
	if err != nil {
		return err
	}
	registry := bridge.NewRegistry(a.log)
	if err := session.Register(registry); err != nil {
		session.Close()
		return err
	}

	srv := server.New(cfg, registry, a.log)
	for _, d := range session.WatchDirs() {
		err := srv.EnableWatch(d, func(path string) {
			session.Invalidate()
			a.window.Emit(EventRefresh, path)
		})
		if err != nil {
			srv.Close()
			session.Close()
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
	}

	refresher := app.NewRefresher(session, cfg.GetRefreshInterval(), func(groupID string) {
		session.Invalidate()
		srv.BroadcastReload(groupID)
		a.window.Emit(EventRefresh, groupID)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		srv.Close()
		session.Close()
		return fmt.Errorf("failed to find free port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	httpServer := &http.Server{Handler: srv.Handler()}
	go func() {
		if err := httpServer.Serve(listener); err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	refresher.Start(a.ctx)

	a.mu.Lock()
	a.session = session
	a.refresher = refresher
	a.registry = registry
	a.server = srv
	a.httpServer = httpServer
	a.serverPort = port
	a.currentDir = absDir
	a.mu.Unlock()

	a.window.SetTitle(fmt.Sprintf("Borrow Checker - %s", filepath.Base(absDir)))
	a.window.Emit(EventNavigate, a.GetServerURL())
	a.log.Info().Str("dir", absDir).Int("port", port).Msg("repository opened")
	return nil
}

// Invoke runs a backend command with JSON arguments and returns the HTML
// fragment. It is bound for the frontend.
func (a *App) Invoke(command string, argsJSON string) (string, error) {
	a.mu.RLock()
	registry := a.registry
	a.mu.RUnlock()
	if registry == nil {
		return "", ErrNoRepository
	}

	var args json.RawMessage
	if argsJSON != "" {
		if !json.Valid([]byte(argsJSON)) {
			return "", fmt.Errorf("invalid arguments: %s", argsJSON)
		}
		args = json.RawMessage(argsJSON)
	}
	return registry.Invoke(a.ctx, command, args)
}

// refreshRepository pulls the selected group's remote and tells the window to
// reload.
func (a *App) refreshRepository() {
	html, err := a.Invoke("refresh", "")
	if err != nil {
		a.log.Warn().Err(err).Msg("refresh failed")
		return
	}
	a.window.Emit(EventRefresh, a.GetCurrentDirectory())
	a.log.Debug().Int("bytes", len(html)).Msg("refreshed")
}

// GetCurrentDirectory returns the currently loaded directory.
func (a *App) GetCurrentDirectory() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentDir
}

// GetServerURL returns the URL of the running server, or empty string if not running.
func (a *App) GetServerURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.serverPort == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/", a.serverPort)
}

// GetCommands lists the commands Invoke accepts.
func (a *App) GetCommands() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.registry == nil {
		return nil
	}
	return a.registry.Names()
}

// GetHandler returns the asset server handler: the ledger page once a
// repository is loaded, the welcome screen before.
func (a *App) GetHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		srv := a.server
		a.mu.RUnlock()

		if srv != nil {
			srv.Handler().ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(welcomeHTML))
	})
}

const welcomeHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8"/>
    <meta content="width=device-width, initial-scale=1.0" name="viewport"/>
    <title>Borrow Checker</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            background: #18181b;
            color: #e4e4e7;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            padding: 2rem;
        }
        .container { text-align: center; max-width: 560px; }
        h1 {
            color: #f97316;
            letter-spacing: 0.5rem;
            text-transform: uppercase;
            font-size: 1.5rem;
            margin-bottom: 1rem;
        }
        p { color: #a1a1aa; line-height: 1.6; margin-bottom: 2rem; }
        button {
            background: #f97316;
            border: none;
            color: #18181b;
            padding: 0.875rem 1.75rem;
            font-size: 1rem;
            border-radius: 8px;
            cursor: pointer;
        }
        #status { margin-top: 1rem; font-size: 0.875rem; min-height: 1.5em; }
        .error { color: #ef4444; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Borrow Checker</h1>
        <p>Open a ledger repository to see balances and settlements.</p>
        <button id="openDir">Open Repository</button>
        <p id="status"></p>
    </div>
    <script>
        function initApp() {
            const statusEl = document.getElementById('status');
            document.getElementById('openDir').addEventListener('click', async function() {
                try {
                    statusEl.textContent = 'Opening...';
                    statusEl.className = '';
                    const dir = await window.go.main.App.OpenDirectory();
                    statusEl.textContent = dir ? 'Loading ' + dir + '...' : '';
                } catch (err) {
                    statusEl.textContent = 'Error: ' + err;
                    statusEl.className = 'error';
                }
            });
        }

        function waitForWails() {
            if (window.go && window.runtime) {
                initApp();
                window.runtime.EventsOn('navigate', function(url) {
                    window.location.href = url;
                });
            } else {
                setTimeout(waitForWails, 50);
            }
        }

        if (document.readyState === 'loading') {
            document.addEventListener('DOMContentLoaded', waitForWails);
        } else {
            waitForWails();
        }
    </script>
</body>
</html>`
