package netif

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mastercactapus/gsla/command"
)

type wsClient struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) send(doc []byte) {
	select {
	case c.sendCh <- doc:
	case <-c.done:
	default:
		// slow client, it will catch up on the next snapshot
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case doc := <-c.sendCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, doc); err != nil {
				c.close()
				return
			}
		}
	}
}

// serveWS pushes every status document to the client; text messages from
// the client are queued as commands, except status queries, which are
// answered to this client alone.
func (a *API) serveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := &wsClient{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	a.clientsMx.Lock()
	select {
	case <-a.done:
		a.clientsMx.Unlock()
		c.close()
		return
	default:
	}
	a.clients[c] = struct{}{}
	a.clientsMx.Unlock()
	a.log.Debug().Str("remote", req.RemoteAddr).Msg("websocket connected")

	if doc := a.Document(); doc != nil {
		c.send(doc)
	}
	go c.writePump()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if typ != websocket.TextMessage {
			continue
		}
		line := strings.TrimSpace(string(data))
		if line == "" {
			continue
		}
		if command.IsStatusQuery(line) {
			if doc := a.Document(); doc != nil {
				c.send(doc)
			}
			continue
		}
		if err := a.commands.Push(line); err != nil {
			a.log.Error().Err(err).Str("command", line).Msg("queue command")
		}
	}

	a.clientsMx.Lock()
	delete(a.clients, c)
	a.clientsMx.Unlock()
	c.close()
	a.log.Debug().Str("remote", req.RemoteAddr).Msg("websocket disconnected")
}
