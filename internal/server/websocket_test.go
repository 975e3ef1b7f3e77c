package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/listfiles"
	"github.com/borrowchecker/borrowchecker/internal/page"
)

// wsTestClient is a helper for WebSocket protocol testing
type wsTestClient struct {
	conn    *websocket.Conn
	t       *testing.T
	timeout time.Duration
}

// newWSTestClient creates a new WebSocket test client connected to the test server
func newWSTestClient(t *testing.T, server *httptest.Server) *wsTestClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + WSPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "connect to websocket")
	t.Cleanup(func() { conn.Close() })

	return &wsTestClient{
		conn:    conn,
		t:       t,
		timeout: 2 * time.Second,
	}
}

// click reports a click on an element
func (c *wsTestClient) click(id string) {
	c.t.Helper()
	data, err := json.Marshal(ClientMessage{ID: id, Event: page.EventClick})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// receive receives one message with timeout
func (c *wsTestClient) receive() page.Patch {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err, "read message")
	var p page.Patch
	require.NoError(c.t, json.Unmarshal(data, &p))
	return p
}

// receiveSnapshot reads the initial snapshot message.
func (c *wsTestClient) receiveSnapshot() []page.Element {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var msg struct {
		Op    string         `json:"op"`
		Value []page.Element `json:"value"`
	}
	require.NoError(c.t, json.Unmarshal(data, &msg))
	require.Equal(c.t, OpSnapshot, msg.Op)
	return msg.Value
}

type listResult struct {
	html string
	err  error
}

// gatedRegistry registers list_files_html so that each call blocks until
// a result is sent on the returned channel.
func gatedRegistry(t *testing.T) (*bridge.Registry, chan listResult) {
	t.Helper()
	gate := make(chan listResult, 1)
	reg := bridge.NewRegistry(nil)
	reg.MustRegister(listfiles.Command, func(ctx context.Context, args json.RawMessage) (string, error) {
		r := <-gate
		return r.html, r.err
	})
	return reg, gate
}

func newTestServer(t *testing.T, reg *bridge.Registry) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(nil, reg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func TestWebSocketSnapshot(t *testing.T) {
	reg, _ := gatedRegistry(t)
	_, ts := newTestServer(t, reg)
	client := newWSTestClient(t, ts)

	elements := client.receiveSnapshot()
	require.Len(t, elements, 2)
	assert.Equal(t, page.Element{ID: listfiles.ButtonID, Text: listfiles.IdleLabel}, elements[0])
	assert.Equal(t, page.Element{ID: listfiles.ContentID}, elements[1])
}

func TestWebSocketClickSuccess(t *testing.T) {
	reg, gate := gatedRegistry(t)
	_, ts := newTestServer(t, reg)
	client := newWSTestClient(t, ts)
	client.receiveSnapshot()

	client.click(listfiles.ButtonID)
	assert.Equal(t, page.Patch{ID: listfiles.ButtonID, Op: page.OpDisabled, Value: true}, client.receive())
	assert.Equal(t, page.Patch{ID: listfiles.ButtonID, Op: page.OpText, Value: listfiles.LoadingLabel}, client.receive())

	gate <- listResult{html: "<ul><li>a.txt</li></ul>"}
	assert.Equal(t, page.Patch{ID: listfiles.ContentID, Op: page.OpHTML, Value: "<ul><li>a.txt</li></ul>"}, client.receive())
	assert.Equal(t, page.Patch{ID: listfiles.ButtonID, Op: page.OpDisabled, Value: false}, client.receive())
	assert.Equal(t, page.Patch{ID: listfiles.ButtonID, Op: page.OpText, Value: listfiles.IdleLabel}, client.receive())
}

func TestWebSocketClickFailure(t *testing.T) {
	reg, gate := gatedRegistry(t)
	_, ts := newTestServer(t, reg)
	client := newWSTestClient(t, ts)
	client.receiveSnapshot()

	client.click(listfiles.ButtonID)
	client.receive() // disabled
	client.receive() // loading label

	gate <- listResult{err: errors.New("permission denied")}
	assert.Equal(t, page.Patch{ID: listfiles.ContentID, Op: page.OpHTML, Value: `<p class="error">Error: permission denied</p>`}, client.receive())
	assert.Equal(t, page.Patch{ID: listfiles.ButtonID, Op: page.OpDisabled, Value: false}, client.receive())
	assert.Equal(t, page.Patch{ID: listfiles.ButtonID, Op: page.OpText, Value: listfiles.IdleLabel}, client.receive())
}

func TestWebSocketConnectionsAreIndependent(t *testing.T) {
	reg, gate := gatedRegistry(t)
	_, ts := newTestServer(t, reg)
	first := newWSTestClient(t, ts)
	second := newWSTestClient(t, ts)
	first.receiveSnapshot()
	second.receiveSnapshot()

	first.click(listfiles.ButtonID)
	first.receive()
	first.receive()
	gate <- listResult{html: "<p>one</p>"}
	first.receive()
	first.receive()
	first.receive()

	// The second page never saw the first page's patches.
	second.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := second.conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketIgnoresUnknownAndMalformed(t *testing.T) {
	reg, gate := gatedRegistry(t)
	_, ts := newTestServer(t, reg)
	client := newWSTestClient(t, ts)
	client.receiveSnapshot()

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	client.click("missing")
	client.click(listfiles.ButtonID)

	// The connection survived and the real click went through.
	assert.Equal(t, page.OpDisabled, client.receive().Op)
	client.receive()
	gate <- listResult{html: "ok"}
	assert.Equal(t, "ok", client.receive().Value)
}

func TestBroadcastReload(t *testing.T) {
	reg, _ := gatedRegistry(t)
	srv, ts := newTestServer(t, reg)
	client := newWSTestClient(t, ts)
	client.receiveSnapshot()
	require.Equal(t, 1, srv.ConnectionCount())

	srv.BroadcastReload("ledgers/39C3/x.toml")
	msg := client.receive()
	assert.Equal(t, OpReload, msg.Op)
	assert.Equal(t, "ledgers/39C3/x.toml", msg.Value)
}

func TestUnregisterOnDisconnect(t *testing.T) {
	reg, _ := gatedRegistry(t)
	srv, ts := newTestServer(t, reg)
	client := newWSTestClient(t, ts)
	client.receiveSnapshot()

	client.conn.Close()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
