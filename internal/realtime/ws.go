package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// CloseUnauthorized is the close code sent when a socket fails
// authentication after the upgrade.
const CloseUnauthorized = 4001

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	sendBufferSize = 64
)

// WSSession adapts a gorilla websocket connection to the hub's Session.
// Sends go through a bounded buffer; a full buffer means the client
// stopped reading and the session is treated as dead.
type WSSession struct {
	id       string
	userID   string
	userName string
	conn     *websocket.Conn

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSSession(conn *websocket.Conn, userID, userName string) *WSSession {
	return &WSSession{
		id:       uuid.NewString(),
		userID:   userID,
		userName: userName,
		conn:     conn,
		send:     make(chan Event, sendBufferSize),
		done:     make(chan struct{}),
	}
}

func (s *WSSession) ID() string       { return s.id }
func (s *WSSession) UserID() string   { return s.userID }
func (s *WSSession) UserName() string { return s.userName }

func (s *WSSession) Send(event Event) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	case s.send <- event:
		return nil
	default:
		return errors.New("session send buffer full")
	}
}

func (s *WSSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// WritePump drains the send buffer onto the socket and keeps the
// connection alive with protocol-level pings. Blocks until the session
// closes or a write fails.
func (s *WSSession) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump consumes client messages until the socket drops. Application
// pings get a pong back; everything else is handed to onEvent for
// rebroadcast (cursor moves, item locks).
func (s *WSSession) ReadPump(ctx context.Context, onEvent func(Event)) {
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		var event Event
		if err := s.conn.ReadJSON(&event); err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if event.Type == EventPing {
			pong, err := NewEvent(EventPong, nil)
			if err == nil {
				_ = s.Send(pong)
			}
			continue
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}

// RejectUnauthorized closes a freshly upgraded socket with the 4001
// application close code.
func RejectUnauthorized(conn *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(CloseUnauthorized, "authentication failed")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
