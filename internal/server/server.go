package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"github.com/borrowchecker/borrowchecker/internal/assets"
	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/components"
	"github.com/borrowchecker/borrowchecker/internal/config"
	"github.com/borrowchecker/borrowchecker/internal/listfiles"
	"github.com/borrowchecker/borrowchecker/internal/logging"
	"github.com/borrowchecker/borrowchecker/internal/page"
)

// WSPath is the websocket endpoint of the page document.
const WSPath = "/ws"

// fragments are the page regions rendered by commands, in page order.
var fragments = []string{
	"render_header",
	"render_navigation",
	"render_ledger_header",
	"render_transactions",
	"render_settlements",
}

var indexTemplate = template.Must(template.New("index").Parse(assets.IndexTemplate()))

type pageData struct {
	Title        string
	WSPath       string
	Header       template.HTML
	Navigation   template.HTML
	LedgerHeader template.HTML
	Transactions template.HTML
	Settlements  template.HTML
	Button       page.Element
	Content      page.Element
	ContentHTML  template.HTML
}

// Server hosts the ledger page, its websocket document and the command API.
type Server struct {
	config   *config.Config
	registry *bridge.Registry
	api      *APIHandler
	log      *logging.Logger

	connections map[*wsConn]bool // Track connected WebSocket clients
	connMu      sync.RWMutex

	watchers []*Watcher

	handlerOnce   sync.Once
	handler       http.Handler
	stopRateLimit context.CancelFunc
	rateLimitDone <-chan struct{}
}

// New creates a server dispatching commands through registry.
func New(cfg *config.Config, registry *bridge.Registry, log *logging.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		config:      cfg,
		registry:    registry,
		api:         NewAPIHandler(registry, log),
		log:         log.Component("server"),
		connections: make(map[*wsConn]bool),
	}
}

// Handler returns the server wrapped in its middleware chain. The rate
// limiter only guards the API. The chain is built once.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() { s.handler = s.buildHandler() })
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	ctx, cancel := context.WithCancel(context.Background())
	limit, done := RateLimitMiddleware(ctx, s.config.API.GetRateLimitRPS(), s.config.API.GetRateLimitBurst(), s.config.API.GetMaxTrackedIPs(), s.log)
	s.stopRateLimit = cancel
	s.rateLimitDone = done

	api := CORSMiddleware(s.config.API.GetCORSOrigins())(limit(s.api))

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.HandleFunc(WSPath, s.serveWebSocket)
	mux.HandleFunc("/assets/", s.serveAsset)
	mux.HandleFunc("/", s.servePage)

	return SecurityHeadersMiddleware()(WithCompression(mux))
}

// ServeHTTP implements http.Handler without middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == WSPath:
		s.serveWebSocket(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/"):
		s.api.ServeHTTP(w, r)
	case strings.HasPrefix(r.URL.Path, "/assets/"):
		s.serveAsset(w, r)
	default:
		s.servePage(w, r)
	}
}

// serveAsset serves the embedded client files.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := assets.File(strings.TrimPrefix(r.URL.Path, "/assets/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// servePage renders the page shell with every fragment inlined.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	html, err := s.RenderPage(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to render page")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

// RenderPage renders the full page. A failing fragment renders as an error
// line in its place.
func (s *Server) RenderPage(ctx context.Context) ([]byte, error) {
	rendered := make(map[string]template.HTML, len(fragments))
	for _, cmd := range fragments {
		rendered[cmd] = s.renderFragment(ctx, cmd)
	}

	elements := listfiles.Elements()
	data := pageData{
		Title:        s.config.Title,
		WSPath:       WSPath,
		Header:       rendered["render_header"],
		Navigation:   rendered["render_navigation"],
		LedgerHeader: rendered["render_ledger_header"],
		Transactions: rendered["render_transactions"],
		Settlements:  rendered["render_settlements"],
		Button:       elements[0],
		Content:      elements[1],
		ContentHTML:  template.HTML(elements[1].HTML),
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) renderFragment(ctx context.Context, cmd string) template.HTML {
	if !s.registry.Has(cmd) {
		return ""
	}
	html, err := s.registry.Invoke(ctx, cmd, nil)
	if err != nil {
		line, lerr := components.ErrorLine(err.Error())
		if lerr != nil {
			return ""
		}
		return template.HTML(line)
	}
	return template.HTML(html)
}

// RegisterConnection adds a WebSocket connection to the tracked connections.
func (s *Server) RegisterConnection(c *wsConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[c] = true
	s.log.Debug().Int("connections", len(s.connections)).Msg("websocket connection registered")
}

// UnregisterConnection removes a WebSocket connection from tracked connections.
func (s *Server) UnregisterConnection(c *wsConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, c)
	s.log.Debug().Int("connections", len(s.connections)).Msg("websocket connection unregistered")
}

// ConnectionCount returns the number of open page connections.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// BroadcastReload tells every connected page to re-render its fragments.
func (s *Server) BroadcastReload(filePath string) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	if len(s.connections) == 0 {
		return
	}

	s.log.Info().
		Str("path", filePath).
		Int("connections", len(s.connections)).
		Msg("broadcasting reload")

	msg := page.Patch{Op: OpReload, Value: filePath}
	for c := range s.connections {
		if err := c.writeJSON(msg); err != nil {
			s.log.Warn().Err(err).Msg("failed to send reload")
		}
	}
}

// EnableWatch watches a ledger directory. Changes run onChange, then reload
// every connected page.
func (s *Server) EnableWatch(dir string, onChange func(path string)) error {
	watcher, err := NewWatcher(dir, func(filePath string) error {
		if onChange != nil {
			onChange(filePath)
		}
		s.BroadcastReload(filePath)
		return nil
	}, s.log)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watchers = append(s.watchers, watcher)
	watcher.Start()

	s.log.Info().Str("dir", dir).Msg("file watcher started")
	return nil
}

// Close stops watchers and background goroutines.
func (s *Server) Close() error {
	var firstErr error
	for _, w := range s.watchers {
		if err := w.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.watchers = nil
	if s.stopRateLimit != nil {
		s.stopRateLimit()
		<-s.rateLimitDone
		s.stopRateLimit = nil
	}
	return firstErr
}
