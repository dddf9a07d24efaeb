package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Bridge is a serial port owned by a serial-port-json-server and reached
// over its websocket. Reads return the data the server relays for the port,
// writes go out as "sendjson" commands. Wrap it with NewConn.
type Bridge struct {
	port string
	ws   *websocket.Conn
	log  zerolog.Logger

	wmx sync.Mutex

	pr        *io.PipeReader
	pw        *io.PipeWriter
	closeOnce sync.Once
}

var _ io.ReadWriteCloser = &Bridge{}

type bridgeFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

type bridgeSend struct {
	Port string       `json:"P"`
	Data []bridgeData `json:"Data"`
}

type bridgeData struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

// DialBridge connects to the server at url and opens port on it.
func DialBridge(url, port string, baud int, log zerolog.Logger) (*Bridge, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", url, err)
	}
	pr, pw := io.Pipe()
	b := &Bridge{
		port: port,
		ws:   ws,
		log:  log.With().Str("component", "bridge").Str("port", port).Logger(),
		pr:   pr,
		pw:   pw,
	}
	if err := b.command("open " + port + " " + strconv.Itoa(baud) + " default"); err != nil {
		ws.Close()
		return nil, fmt.Errorf("open %s on bridge: %w", port, err)
	}
	go b.readLoop()
	return b, nil
}

func (b *Bridge) command(s string) error {
	b.wmx.Lock()
	defer b.wmx.Unlock()
	return b.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

// Write sends each line of p as its own queued item.
func (b *Bridge) Write(p []byte) (int, error) {
	msg := bridgeSend{Port: b.port}
	for _, line := range bytes.SplitAfter(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		msg.Data = append(msg.Data, bridgeData{Data: string(line), ID: uuid.New().String()})
	}
	if len(msg.Data) == 0 {
		return 0, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	if err := b.command("sendjson " + string(data)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *Bridge) Read(p []byte) (int, error) { return b.pr.Read(p) }

func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.pw.CloseWithError(io.ErrClosedPipe)
		err = b.ws.Close()
	})
	return err
}

// parseBridgeMessage returns the serial data carried by a server message for
// port. ok is false for anything else (echoes, port lists, queue status).
func parseBridgeMessage(port string, msg []byte) (data string, ok bool, err error) {
	if !bytes.HasPrefix(msg, []byte("{")) {
		return "", false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return "", false, err
	}
	if raw, isErr := fields["Error"]; isErr {
		var text string
		json.Unmarshal(raw, &text)
		return "", false, errors.New("bridge: " + text)
	}
	if fields["P"] == nil || fields["D"] == nil {
		return "", false, nil
	}
	var f bridgeFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		return "", false, err
	}
	if f.Port != port {
		return "", false, nil
	}
	return f.Data, true, nil
}

func (b *Bridge) readLoop() {
	for {
		_, msg, err := b.ws.ReadMessage()
		if err != nil {
			b.pw.CloseWithError(err)
			return
		}
		data, ok, err := parseBridgeMessage(b.port, msg)
		if err != nil {
			b.log.Warn().Err(err).Msg("message")
			continue
		}
		if !ok {
			continue
		}
		if _, err := b.pw.Write([]byte(data)); err != nil {
			return
		}
	}
}
