package netif

import (
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/gsla/command"
	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
)

// StatusChannel is the SSE channel snapshots are pushed on.
const StatusChannel = "/events/status"

const maxCommandSize = 1024

// Pusher queues a command line for the event loop.
type Pusher interface {
	Push(v interface{}) error
}

// API serves the latest status document and accepts commands over HTTP. It
// subscribes to PrinterStatusUpdate and pushes every snapshot to SSE and
// websocket clients.
type API struct {
	http.Handler
	log      zerolog.Logger
	commands Pusher
	sse      *sse.Server
	upgrader websocket.Upgrader

	mx  sync.RWMutex
	doc []byte

	push      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	clientsMx sync.Mutex
	clients   map[*wsClient]struct{}
}

var _ event.Subscriber = &API{}

func NewAPI(commands Pusher, logger zerolog.Logger) *API {
	r := mux.NewRouter()
	a := &API{
		Handler:  r,
		log:      logger.With().Str("component", "api").Logger(),
		commands: commands,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		push:    make(chan []byte, 16),
		done:    make(chan struct{}),
		clients: make(map[*wsClient]struct{}),
	}

	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/command", a.command).Methods("POST")
	r.HandleFunc("/ws", a.serveWS)
	r.PathPrefix("/events/").Handler(a.sse)

	go a.pushLoop()

	return a
}

// HandleEvent caches the snapshot's document and queues it for the push
// clients. It never blocks the event loop.
func (a *API) HandleEvent(t event.Type, payload interface{}) {
	if t != event.PrinterStatusUpdate {
		return
	}
	s, ok := payload.(status.PrinterStatus)
	if !ok {
		return
	}
	doc, err := s.Document()
	if err != nil {
		a.log.Error().Err(err).Msg("marshal status")
		return
	}

	a.mx.Lock()
	a.doc = doc
	a.mx.Unlock()

	select {
	case a.push <- doc:
	default:
		a.log.Warn().Msg("push clients behind, dropping snapshot")
	}
}

// Document returns the latest status document, or nil before the first
// snapshot.
func (a *API) Document() []byte {
	a.mx.RLock()
	defer a.mx.RUnlock()
	return a.doc
}

// Close stops pushing and disconnects every client.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.sse.Shutdown()

		a.clientsMx.Lock()
		for c := range a.clients {
			c.close()
		}
		a.clients = make(map[*wsClient]struct{})
		a.clientsMx.Unlock()
	})
}

func (a *API) pushLoop() {
	for {
		select {
		case <-a.done:
			return
		case doc := <-a.push:
			a.sse.SendMessage(StatusChannel, sse.SimpleMessage(string(doc)))

			a.clientsMx.Lock()
			for c := range a.clients {
				c.send(doc)
			}
			a.clientsMx.Unlock()
		}
	}
}

func (a *API) status(w http.ResponseWriter, req *http.Request) {
	doc := a.Document()
	if doc == nil {
		http.Error(w, "no status yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

// command queues a command line. A status query is answered with the
// latest document instead.
func (a *API) command(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(io.LimitReader(req.Body, maxCommandSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	if command.IsStatusQuery(line) {
		a.status(w, req)
		return
	}
	if err := a.commands.Push(line); err != nil {
		a.log.Error().Err(err).Str("command", line).Msg("queue command")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
