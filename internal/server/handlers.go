package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"otc_stream/internal/domain"
	"otc_stream/internal/infra"
)

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.connectionCount(),
		"feeds":       len(s.broker.Feeds()),
		"uptime_sec":  int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": infra.GlobalMetrics.Snapshot(),
		"feeds":   s.broker.Feeds(),
	})
}

// getHistorical serves ?symbol=&timeframe=&limit=. Unknown symbols and upstream failures
// return an empty array; a missing symbol or an unknown timeframe is a bad request.
func (s *Server) getHistorical(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	timeframe := c.DefaultQuery("timeframe", "1m")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	candles, err := s.history.Historical(c.Request.Context(), symbol, timeframe, limit)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTimeframe) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, []domain.HistoricalCandle{})
		return
	}
	c.JSON(http.StatusOK, candles)
}

func (s *Server) getStatus(c *gin.Context) {
	status, err := s.broker.Status(c.Query("symbol"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, statusFrame{Type: string(domain.EventMarketStatus), MarketStatus: status})
}
