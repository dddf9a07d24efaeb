package netif

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, limit int) (*API, *event.Queue, *httptest.Server) {
	t.Helper()
	q := event.NewQueue(limit)
	a := NewAPI(q, zerolog.Nop())
	srv := httptest.NewServer(a)
	t.Cleanup(func() {
		a.Close()
		srv.Close()
	})
	return a, q, srv
}

func TestAPI_Status(t *testing.T) {
	a, _, srv := newTestAPI(t, 0)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	a.HandleEvent(event.PrinterStatusUpdate, status.PrinterStatus{State: "Idle", Change: status.Entering})
	resp, err = http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `"State":"Idle"`)
	assert.Contains(t, body.String(), `"Change":"entering"`)

	resp, err = http.Post(srv.URL+"/api/status", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_Command(t *testing.T) {
	_, q, srv := newTestAPI(t, 1)

	resp, err := http.Post(srv.URL+"/api/command", "text/plain", strings.NewReader(" pause \n"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/command", "text/plain", strings.NewReader("resume"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "queue full")

	resp, err = http.Post(srv.URL+"/api/command", "text/plain", strings.NewReader("  "))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	v, err := q.Read()
	require.NoError(t, err)
	assert.Equal(t, "pause", v)
}

func TestAPI_CommandStatusQuery(t *testing.T) {
	a, q, srv := newTestAPI(t, 0)

	resp, err := http.Post(srv.URL+"/api/command", "text/plain", strings.NewReader("getstatus"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	a.HandleEvent(event.PrinterStatusUpdate, status.PrinterStatus{State: "Exposing", Layer: 3})
	resp, err = http.Post(srv.URL+"/api/command", "text/plain", strings.NewReader("GETSTATUS"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, string(a.Document()), body.String())
	assert.Zero(t, q.Len(), "answered without the event loop")
}

func TestAPI_Websocket(t *testing.T) {
	a, q, srv := newTestAPI(t, 0)
	a.HandleEvent(event.PrinterStatusUpdate, status.PrinterStatus{State: "Home", Change: status.Entering})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// the current document is sent on connect
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"State":"Home"`)

	// wait until the client is registered for pushes
	require.Eventually(t, func() bool {
		a.clientsMx.Lock()
		defer a.clientsMx.Unlock()
		return len(a.clients) == 1
	}, time.Second, 5*time.Millisecond)

	a.HandleEvent(event.PrinterStatusUpdate, status.PrinterStatus{State: "Idle", Change: status.Entering})
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"State":"Idle"`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("GETSTATUS")))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"State":"Idle"`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PAUSE")))
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	v, err := q.Read()
	require.NoError(t, err)
	assert.Equal(t, "PAUSE", v, "status queries are not queued")
}
