package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/portal-chat/internal/types"
)

const maxMessageSize = 1024

// WebSocketSink carries the same JSON events as SSESink over a websocket,
// one text frame per event. Heartbeats are ping control frames.
type WebSocketSink struct {
	conn     *websocket.Conn
	log      *log.Logger
	pongWait time.Duration

	closeOnce sync.Once
}

func NewWebSocketSink(conn *websocket.Conn, logger *log.Logger, heartbeat time.Duration) *WebSocketSink {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return &WebSocketSink{
		conn:     conn,
		log:      logger,
		pongWait: 3 * heartbeat,
	}
}

func (s *WebSocketSink) WriteEvent(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write message: %v", types.ErrTransport, err)
	}
	return nil
}

func (s *WebSocketSink) WritePing() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("%w: write ping: %v", types.ErrTransport, err)
	}
	return nil
}

func (s *WebSocketSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = s.conn.Close()
	})
	return err
}

// ReadPump discards inbound frames and calls cancel once the peer goes
// away or stops answering pings. Streams are one-directional; posts go
// through the HTTP API.
func (s *WebSocketSink) ReadPump(cancel context.CancelFunc) {
	defer cancel()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			return
		}
	}
}
