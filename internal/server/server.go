package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"otc_stream/internal/domain"
	"otc_stream/internal/infra"
	"otc_stream/internal/service"
)

// StreamBroker is the part of the subscription broker the server talks to.
type StreamBroker interface {
	Subscribe(sub domain.Subscriber, symbol string) (domain.MarketStatus, error)
	Unsubscribe(connID, symbol string)
	Remove(connID string)
	Status(symbol string) (domain.MarketStatus, error)
	Feeds() []service.FeedInfo
}

// HistoryService answers historical candle queries.
type HistoryService interface {
	Historical(ctx context.Context, symbol, timeframe string, limit int) ([]domain.HistoricalCandle, error)
}

type options struct {
	port            string
	allowedOrigins  []string
	sendQueueSize   int
	pingInterval    time.Duration
	pongWait        time.Duration
	writeWait       time.Duration
	maxMessageBytes int64
}

func optionsFromConfig(cfg *infra.Config) options {
	return options{
		port:            cfg.Server.Port,
		allowedOrigins:  cfg.Server.AllowedOrigins,
		sendQueueSize:   cfg.Server.SendQueueSize,
		pingInterval:    time.Duration(cfg.Server.PingIntervalSec) * time.Second,
		pongWait:        time.Duration(cfg.Server.PongWaitSec) * time.Second,
		writeWait:       time.Duration(cfg.Server.WriteWaitSec) * time.Second,
		maxMessageBytes: cfg.Server.MaxMessageBytes,
	}
}

// Server exposes the streaming endpoint and the REST API.
type Server struct {
	opts     options
	catalog  *domain.Catalog
	broker   StreamBroker
	history  HistoryService
	engine   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time

	mu      sync.Mutex
	clients map[string]*Client
	http    *http.Server
}

// NewServer builds the gin engine and routes. cfg must have defaults applied.
func NewServer(cfg *infra.Config, catalog *domain.Catalog, broker StreamBroker, history HistoryService) *Server {
	if infra.ParseLevel(cfg.Logging.Level) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		opts:    optionsFromConfig(cfg),
		catalog: catalog,
		broker:  broker,
		history: history,
		engine:  gin.New(),
		started: time.Now(),
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.cors())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/metrics", s.getMetrics)
	api.GET("/market/historical", s.getHistorical)
	api.GET("/market/status", s.getStatus)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.allowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.allowedOrigins, "*") || slices.Contains(s.opts.allowedOrigins, origin)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := ":" + s.opts.port
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	slog.Info("🌐 Server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every streaming connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Info("Failed to upgrade websocket", slog.Any("error", err))
		return
	}

	client := newClient(s, conn)
	s.register(client)
	client.enqueue(controlFrame{Type: frameConnected})

	go client.writePump()
	go client.readPump()
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()
	slog.Debug("Client connected", slog.String("conn", c.id))
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.broker.Remove(c.id)
	infra.GlobalMetrics.DecrementConnections()
}

func (s *Server) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
