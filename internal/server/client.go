package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"otc_stream/internal/domain"
)

// Client is one streaming connection. It implements domain.Subscriber: the broker hands it
// events through Deliver, and writePump is the only goroutine that writes to the socket.
type Client struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	send chan any
	done chan struct{}

	closeOnce sync.Once
}

func newClient(srv *Server, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		srv:  srv,
		conn: conn,
		send: make(chan any, srv.opts.sendQueueSize),
		done: make(chan struct{}),
	}
}

// ID implements domain.Subscriber.
func (c *Client) ID() string { return c.id }

// Deliver implements domain.Subscriber. It never blocks: a full queue closes the
// connection and reports false so the broker drops the subscription.
func (c *Client) Deliver(ev domain.StreamEvent) bool {
	inst, err := c.srv.catalog.Resolve(ev.Symbol)
	if err != nil {
		inst = domain.Instrument{Symbol: ev.Symbol, Precision: 8}
	}
	frame := newFrame(ev, inst)
	if frame == nil {
		return true
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame any) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		slog.Warn("Send queue full, closing connection", slog.String("conn", c.id))
		c.close()
		return false
	}
}

// close tells the write pump to send a close frame and release the socket. Safe to call
// more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump handles incoming commands and acts as the connection's watchdog.
func (c *Client) readPump() {
	defer func() {
		c.srv.unregister(c)
		c.close()
		slog.Debug("Client disconnected", slog.String("conn", c.id))
	}()

	opts := c.srv.opts
	c.conn.SetReadLimit(opts.maxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(opts.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Info("WebSocket read error", slog.String("conn", c.id), slog.Any("error", err))
			}
			return
		}
		if !c.handleMessage(message) {
			return
		}
	}
}

// handleMessage applies one client command. It returns false when the connection should close.
func (c *Client) handleMessage(message []byte) bool {
	var cmd clientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		slog.Info("Failed to parse client command, disconnecting client", slog.String("conn", c.id), slog.Any("error", err))
		return false
	}

	switch cmd.Type {
	case cmdSubscribe:
		if _, err := c.srv.broker.Subscribe(c, cmd.Symbol); err != nil {
			c.enqueue(controlFrame{Type: frameError, Symbol: cmd.Symbol, Message: err.Error()})
		}
	case cmdUnsubscribe:
		c.srv.broker.Unsubscribe(c.id, cmd.Symbol)
	default:
		slog.Debug("Ignoring unknown command", slog.String("conn", c.id), slog.String("type", cmd.Type))
	}
	return true
}

// writePump sends queued frames and keepalive pings.
func (c *Client) writePump() {
	opts := c.srv.opts
	ticker := time.NewTicker(opts.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("Write error", slog.String("conn", c.id), slog.Any("error", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(opts.writeWait))
			return
		}
	}
}
