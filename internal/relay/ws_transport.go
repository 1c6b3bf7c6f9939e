package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSTransport is a signaling transport connected to the relay server's /ws
// endpoint.
type WSTransport struct {
	conn   *websocket.Conn
	msgs   chan []byte
	logger *zap.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// WebSocketURL builds the relay URL for a room from a server base such as
// "http://localhost:8080" or "ws://relay.example.com".
func WebSocketURL(server, room string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialWS connects to the relay server and joins room.
func DialWS(ctx context.Context, server, room string, logger *zap.Logger) (*WSTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := WebSocketURL(server, room)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	t := &WSTransport{
		conn:   conn,
		msgs:   make(chan []byte, sendBuffer),
		logger: logger.With(zap.String("room", room)),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	defer close(t.msgs)
	t.conn.SetReadLimit(maxFrameSize)
	for {
		msgType, frame, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn("relay connection lost", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case t.msgs <- frame:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) Publish(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Messages() <-chan []byte { return t.msgs }

// Close sends a close frame and tears the connection down.
func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
