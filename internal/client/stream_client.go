package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"otc_stream/internal/infra"
)

// State is the connection state of a StreamClient.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateDisconnecting State = "disconnecting"
)

// EventStatus is the type of the client-local events that report state changes.
const EventStatus = "status"

const (
	DefaultSettleDelay = 200 * time.Millisecond
	DefaultSwitchDelay = 150 * time.Millisecond
	eventBufferSize    = 256
)

// Event is either a server frame (Raw holds the whole frame) or a local status change
// (Type is EventStatus and State is set).
type Event struct {
	Type   string
	Symbol string
	State  State
	Raw    json.RawMessage
}

// Options tunes a StreamClient. Zero values use the defaults.
type Options struct {
	Dialer      *websocket.Dialer
	SettleDelay time.Duration
	SwitchDelay time.Duration

	// Wait blocks for a reconnect delay. A non-nil error stops reconnecting.
	Wait func(ctx context.Context, d time.Duration) error
}

// StreamClient keeps one streaming connection alive and follows a single symbol.
// Abnormal closes reconnect with exponential backoff; Disconnect and a server-side
// normal closure do not.
type StreamClient struct {
	url  string
	opts Options

	mu         sync.Mutex
	state      State
	desired    string
	subscribed string
	attempt    int
	conn       *websocket.Conn
	cancel     context.CancelFunc

	writeMu sync.Mutex
	events  chan Event
	wg      sync.WaitGroup
}

// New creates a client for url (ws:// or wss://). Nothing is dialed until Connect.
func New(url string, opts Options) *StreamClient {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.SwitchDelay <= 0 {
		opts.SwitchDelay = DefaultSwitchDelay
	}
	if opts.Wait == nil {
		opts.Wait = sleepContext
	}
	return &StreamClient{
		url:    url,
		opts:   opts,
		state:  StateDisconnected,
		events: make(chan Event, eventBufferSize),
	}
}

// Events delivers server frames and local status changes in arrival order.
func (c *StreamClient) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *StreamClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Symbol returns the symbol the client wants to follow.
func (c *StreamClient) Symbol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

// Connect starts the connection loop in the background. It is a no-op unless the
// client is disconnected.
func (c *StreamClient) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.attempt = 0
	c.setStateLocked(StateConnecting)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(runCtx)
}

// Disconnect closes the connection with a normal closure and cancels any pending
// reconnect. It blocks until the connection loop has exited.
func (c *StreamClient) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnecting)
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
}

// SetSymbol changes the followed symbol. While connected the previous symbol is
// unsubscribed first; otherwise the symbol is applied on the next connect.
func (c *StreamClient) SetSymbol(symbol string) {
	c.mu.Lock()
	if symbol == c.desired {
		c.mu.Unlock()
		return
	}
	c.desired = symbol
	conn := c.conn
	prev := c.subscribed
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		return
	}

	if prev != "" {
		c.send(conn, command{Type: "unsubscribe", Symbol: prev})
		time.Sleep(c.opts.SwitchDelay)
	}
	c.subscribe(conn)
}

type command struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (c *StreamClient) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.finish()

	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("Stream dial failed", slog.String("url", c.url), slog.Any("error", err))
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.onConnected(ctx, conn)
		code := c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.subscribed = ""
		c.mu.Unlock()

		if ctx.Err() != nil || code == websocket.CloseNormalClosure {
			return
		}
		slog.Info("Stream closed, reconnecting", slog.Int("code", code))
		if !c.backoff(ctx) {
			return
		}
	}
}

// finish leaves the client disconnected unless Disconnect is already handling it.
func (c *StreamClient) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	if c.state != StateDisconnecting {
		c.setStateLocked(StateDisconnected)
	}
}

// backoff waits for the next reconnect slot. It returns false when reconnecting should stop.
func (c *StreamClient) backoff(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == StateDisconnecting {
		c.mu.Unlock()
		return false
	}
	delay := infra.CalculateBackoff(c.attempt)
	c.attempt++
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	if err := c.opts.Wait(ctx, delay); err != nil || ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnecting {
		return false
	}
	c.setStateLocked(StateConnecting)
	return true
}

func (c *StreamClient) onConnected(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	// Give the server a moment before re-issuing the subscription
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.opts.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.subscribe(conn)
		case <-ctx.Done():
		}
	}()
}

func (c *StreamClient) subscribe(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn || c.desired == "" || c.subscribed == c.desired {
		c.mu.Unlock()
		return
	}
	symbol := c.desired
	c.subscribed = symbol
	c.mu.Unlock()

	c.send(conn, command{Type: "subscribe", Symbol: symbol})
}

func (c *StreamClient) send(conn *websocket.Conn, cmd command) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(cmd); err != nil {
		slog.Debug("Stream write failed", slog.String("type", cmd.Type), slog.Any("error", err))
	}
}

// readLoop forwards frames until the connection closes and returns the close code.
func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) int {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code
			}
			return websocket.CloseAbnormalClosure
		}

		var head struct {
			Type   string `json:"type"`
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(message, &head); err != nil {
			slog.Debug("Dropping malformed frame", slog.Any("error", err))
			continue
		}
		ev := Event{Type: head.Type, Symbol: head.Symbol, Raw: json.RawMessage(message)}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return websocket.CloseNormalClosure
		}
	}
}

// setStateLocked records a state change and emits a status event. c.mu must be held.
func (c *StreamClient) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.events <- Event{Type: EventStatus, State: s}:
	default:
		slog.Debug("Event buffer full, dropping status", slog.String("state", string(s)))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
