package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// MaxMessageBytes bounds one client message; camera stills dominate.
	MaxMessageBytes = 3 << 20
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// PrepareRead sets the read limit and keeps the read deadline alive on pongs.
func PrepareRead(conn *websocket.Conn) {
	conn.SetReadLimit(MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// ReadMessage reads one client message and returns its action and raw body.
func ReadMessage(conn *websocket.Conn) (Action, []byte, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", raw, err
	}
	return env.Action, raw, nil
}

// Outbox is the single writer of a connection. Send never blocks; messages
// are dropped when the buffer is full.
type Outbox struct {
	conn *websocket.Conn
	ch   chan interface{}
	done chan struct{}
	once sync.Once
}

// NewOutbox creates an outbox holding up to size pending messages.
func NewOutbox(conn *websocket.Conn, size int) *Outbox {
	return &Outbox{
		conn: conn,
		ch:   make(chan interface{}, size),
		done: make(chan struct{}),
	}
}

// Send queues v. Returns false if the outbox is closed or full.
func (o *Outbox) Send(v interface{}) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.ch <- v:
		return true
	default:
		return false
	}
}

// Close stops Run after it drains what is already queued.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// Run writes queued messages and keepalive pings until Close or ctx is done
// or a write fails.
func (o *Outbox) Run(ctx context.Context) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case v := <-o.ch:
			if err := WriteTyped(o.conn, v); err != nil {
				return err
			}
		case <-ping.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-o.done:
			return o.drain()
		case <-ctx.Done():
			return o.drain()
		}
	}
}

func (o *Outbox) drain() error {
	for {
		select {
		case v := <-o.ch:
			if err := WriteTyped(o.conn, v); err != nil {
				return err
			}
		default:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			return o.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
	}
}
