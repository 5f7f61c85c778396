package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/metrics"
)

const writeWait = 10 * time.Second

// envelope is the frame sent to overlay clients
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// client is one overlay connection. Deliver only enqueues; a single writer
// goroutine owns the socket's write side.
type client struct {
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}
}

// Deliver queues ev for the connection, dropping it when the outbox is full
func (c *client) Deliver(ev message.ChatEvent) {
	data, err := json.Marshal(envelope{Event: "chat_message", Data: ev})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *client) enqueue(data []byte) {
	select {
	case c.outbox <- data:
	default:
		metrics.DeliveriesDropped.Inc()
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case data := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Unblocks the read loop so the handler unsubscribes
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		conn:   conn,
		outbox: make(chan []byte, s.deps.OutboxSize),
		done:   make(chan struct{}),
	}

	status, err := json.Marshal(envelope{Event: "status", Data: s.Status()})
	if err == nil {
		c.enqueue(status)
	}

	id := s.deps.Hub.Subscribe(c)
	s.log.Debug("ws opened", "conn_id", id)
	go c.writeLoop()

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.deps.Hub.Unsubscribe(id)
	close(c.done)
	s.log.Debug("ws closed", "conn_id", id)
}
