package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// DefaultWSURL is the public market stream endpoint.
	DefaultWSURL = "wss://stream.binance.com:9443/ws"

	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// klineMessage is the payload of a <symbol>@kline_1m stream frame.
type klineMessage struct {
	EventType string `json:"e"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// Worker is the live push adapter for one crypto symbol.
type Worker struct {
	inst   domain.Instrument
	stream string
	wsURL  string
	out    chan<- domain.Tick
	now    func() time.Time

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Read-loop owned: converts cumulative kline volume into per-tick deltas
	klineStart int64
	klineVol   float64
}

// NewWorker creates a push adapter for inst that delivers ticks to out.
func NewWorker(inst domain.Instrument, wsURL string, out chan<- domain.Tick) *Worker {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Worker{
		inst:   inst,
		stream: strings.ToLower(ToBinanceSymbol(inst.Symbol)) + "@kline_1m",
		wsURL:  strings.TrimSuffix(wsURL, "/"),
		out:    out,
		now:    time.Now,
	}
}

// Kind implements domain.TickSource.
func (w *Worker) Kind() domain.SourceKind { return domain.SourcePush }

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rejected := false
		if err := w.connect(ctx); err != nil {
			rejected = !domain.IsRetriable(err)
			slog.Warn("Binance connection failed",
				slog.String("symbol", w.inst.Symbol),
				slog.Any("error", err),
				slog.Int("retry", retryCount),
				slog.Bool("rejected", rejected),
			)
			infra.GlobalMetrics.RecordError()
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}

		if ctx.Err() != nil {
			return
		}

		delay := infra.CalculateBackoff(retryCount)
		if rejected {
			// The stream was refused outright; no point ramping up
			delay = infra.MaxBackoff
		}
		retryCount++
		infra.GlobalMetrics.RecordReconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := make(http.Header)
	header.Set("User-Agent", infra.DefaultUserAgent)

	conn, resp, err := dialer.DialContext(ctx, w.wsURL+"/"+w.stream, header)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		// 4xx on the handshake means the stream itself is rejected
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return domain.NewFatalNetworkError("binance dial", err)
		}
		return domain.NewNetworkError("binance dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	slog.Info("🔌 Binance connected", slog.String("symbol", w.inst.Symbol), slog.String("stream", w.stream))
	return nil
}

func (w *Worker) readLoop(ctx context.Context) {
	// Unblocks ReadMessage on cancellation
	stop := context.AfterFunc(ctx, w.closeConnection)
	defer stop()

	for {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Binance read failed", slog.String("symbol", w.inst.Symbol), slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		w.handleMessage(ctx, msg)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg []byte) {
	tick, ok := w.parseKline(msg)
	if !ok {
		return
	}

	select {
	case w.out <- tick:
	case <-ctx.Done():
	default:
		infra.GlobalMetrics.RecordDroppedTick()
	}
}

// parseKline maps a kline frame to a tick: close is the price, low/high stand in for bid/ask.
func (w *Worker) parseKline(msg []byte) (domain.Tick, bool) {
	var m klineMessage
	if err := json.Unmarshal(msg, &m); err != nil || m.Kline.Close == "" {
		return domain.Tick{}, false
	}

	closePx, err := decimal.NewFromString(m.Kline.Close)
	if err != nil || !closePx.IsPositive() {
		return domain.Tick{}, false
	}
	low, _ := decimal.NewFromString(m.Kline.Low)
	high, _ := decimal.NewFromString(m.Kline.High)
	cumVol, _ := decimal.NewFromString(m.Kline.Volume)

	vol := cumVol.InexactFloat64()
	delta := vol
	if m.Kline.StartTime == w.klineStart {
		delta = vol - w.klineVol
		if delta < 0 {
			delta = 0
		}
	}
	w.klineStart = m.Kline.StartTime
	w.klineVol = vol

	return domain.Tick{
		Symbol:      w.inst.Symbol,
		Price:       closePx.InexactFloat64(),
		TimestampMs: w.now().UnixMilli(),
		Volume:      domain.Float(delta),
		Bid:         domain.Float(low.InexactFloat64()),
		Ask:         domain.Float(high.InexactFloat64()),
	}, true
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect stops the worker and waits for its goroutine to exit.
func (w *Worker) Disconnect() {
	if err := w.threadSafeWrite(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err == nil {
		slog.Debug("Binance close frame sent", slog.String("symbol", w.inst.Symbol))
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// IsConnected reports whether the upstream socket is open.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
