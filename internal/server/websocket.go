package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/borrowchecker/borrowchecker/internal/listfiles"
	"github.com/borrowchecker/borrowchecker/internal/page"
)

// Server-originated message ops besides the page patch ops.
const (
	OpSnapshot = "snapshot"
	OpReload   = "reload"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; the page is served locally
	},
}

// ClientMessage is an element event reported by the browser.
type ClientMessage struct {
	ID    string `json:"id"`
	Event string `json:"event"`
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// serveWebSocket gives each connection its own page document with a
// list-files handler bound to it. The document's elements are sent as a
// snapshot, the ready signal fires, and from then on patches flow to the
// browser while its events are dispatched into the document.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}
	c := &wsConn{conn: conn}
	s.RegisterConnection(c)
	defer func() {
		s.UnregisterConnection(c)
		conn.Close()
	}()

	log := s.log.Zerolog().With().Str("remote", conn.RemoteAddr().String()).Logger()
	log.Debug().Msg("client connected")

	doc := page.NewDocument(listfiles.Elements()...)
	patches, unsubscribe := doc.Subscribe()
	defer unsubscribe()

	handler := listfiles.New(context.Background(), doc, s.registry)
	if err := handler.Initialize(); err != nil {
		log.Error().Err(err).Msg("failed to initialize page")
		return
	}

	if err := c.writeJSON(page.Patch{Op: OpSnapshot, Value: doc.Snapshot()}); err != nil {
		log.Debug().Err(err).Msg("failed to send snapshot")
		return
	}

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for p := range patches {
			if err := c.writeJSON(p); err != nil {
				log.Debug().Err(err).Msg("failed to send patch")
				return
			}
		}
	}()

	doc.Ready()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("unexpected close")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed message")
			continue
		}
		if !doc.Dispatch(msg.ID, msg.Event) {
			log.Debug().Str("id", msg.ID).Str("event", msg.Event).Msg("event not handled")
		}
	}

	unsubscribe()
	<-forwardDone
	log.Debug().Msg("client disconnected")
}
