// Package api exposes the ingest and read endpoints of the service.
// Ingest endpoints validate, enrich, and publish to the broker; read
// endpoints serve the live cache. Nothing here writes to the cache or
// the archive directly.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finpulse/pulse/internal/cache"
	"github.com/finpulse/pulse/internal/category"
	"github.com/finpulse/pulse/internal/consumer"
	"github.com/finpulse/pulse/internal/event"
)

// Publisher hands validated events to the broker.
type Publisher interface {
	Publish(ctx context.Context, env *event.Envelope) (string, error)
}

// Handler carries the dependencies of all route handlers.
type Handler struct {
	store     cache.Store
	publisher Publisher
	loops     []*consumer.Loop
	hub       *Hub
	logger    *slog.Logger
}

// NewHandler wires the route handlers. hub may be nil to disable the
// websocket stream.
func NewHandler(store cache.Store, publisher Publisher, loops []*consumer.Loop, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		loops:     loops,
		hub:       hub,
		logger:    logger,
	}
}

// IngestMarket accepts a market tick from an external bridge and
// publishes it to the market stream.
func (h *Handler) IngestMarket(c *gin.Context) {
	var tick event.MarketTickEvent
	if err := c.ShouldBindJSON(&tick); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if tick.Source == "" {
		tick.Source = "api"
	}
	tick.ReceivedAt = time.Now().UTC().Format(time.RFC3339)

	env, err := event.NewMarketEnvelope(&tick)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	msgID, err := h.publisher.Publish(c.Request.Context(), env)
	if err != nil {
		h.logger.Error("market ingest publish failed", "symbol", env.Tick.Symbol, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "failed to publish event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "processed market data for " + env.Tick.Symbol,
		"message_id": msgID,
		"symbol":     env.Tick.Symbol,
	})
}

// IngestScreenTime accepts a screen-time increment from a device
// bridge, categorizes the app when the bridge did not, and publishes it
// to the screen-time stream.
func (h *Handler) IngestScreenTime(c *gin.Context) {
	var usage event.ScreenTimeEvent
	if err := c.ShouldBindJSON(&usage); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if usage.Category == "" {
		usage.Category = category.Categorize(usage.AppName)
	}
	if usage.Source == "" {
		usage.Source = "api"
	}
	usage.ReceivedAt = time.Now().UTC().Format(time.RFC3339)

	env, err := event.NewScreenTimeEnvelope(&usage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	msgID, err := h.publisher.Publish(c.Request.Context(), env)
	if err != nil {
		h.logger.Error("screentime ingest publish failed", "user_id", env.Usage.UserID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "failed to publish event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "processed screen time for " + env.Usage.AppName,
		"message_id": msgID,
		"user_id":    env.Usage.UserID,
		"category":   env.Usage.Category,
	})
}

// MarketLive returns live documents for a comma-separated symbol list.
func (h *Handler) MarketLive(c *gin.Context) {
	symbols := splitSymbols(c.Query("symbols"))
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "symbols query parameter is required"})
		return
	}

	quotes := make(map[string]*cache.MarketDocument, len(symbols))
	for _, symbol := range symbols {
		var doc cache.MarketDocument
		err := h.store.Get(c.Request.Context(), cache.MarketKey(symbol), &doc)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.Error("cache read failed", "symbol", symbol, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "cache read failed"})
			return
		}
		doc.History = nil // live view is the current quote only
		quotes[symbol] = &doc
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"quotes": quotes},
		"message": "retrieved live data for " + strconv.Itoa(len(quotes)) + " symbols",
	})
}

// MarketHistory returns the retained tick history for one symbol,
// oldest first, optionally limited to the most recent N points.
func (h *Handler) MarketHistory(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))

	var doc cache.MarketDocument
	err := h.store.Get(c.Request.Context(), cache.MarketKey(symbol), &doc)
	if errors.Is(err, cache.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no data for symbol " + symbol})
		return
	}
	if err != nil {
		h.logger.Error("cache read failed", "symbol", symbol, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "cache read failed"})
		return
	}

	history := doc.History
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(history) {
			history = history[len(history)-limit:]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"symbol":  symbol,
			"history": history,
		},
	})
}

// ScreenTimeDaily returns a user's daily usage document.
func (h *Handler) ScreenTimeDaily(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id query parameter is required"})
		return
	}
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	var doc cache.ScreenTimeDocument
	err := h.store.Get(c.Request.Context(), cache.ScreenTimeKey(userID, date), &doc)
	if errors.Is(err, cache.ErrNotFound) {
		// A day with no events is an empty day, not an error.
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": cache.ScreenTimeDocument{
				UserID: userID,
				Date:   date,
				Apps:   map[string]cache.AppUsage{},
			},
		})
		return
	}
	if err != nil {
		h.logger.Error("cache read failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "cache read failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
}

// Health reports per-loop consumer state. The endpoint degrades to 503
// when any loop has stopped so orchestrators restart the process.
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	loops := make([]gin.H, 0, len(h.loops))
	for _, l := range h.loops {
		state := l.State()
		if state == consumer.StateStopped {
			status = http.StatusServiceUnavailable
		}
		loops = append(loops, gin.H{
			"stream":     string(l.Stream()),
			"state":      state.String(),
			"last_error": l.LastError(),
		})
	}

	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"consumers": loops,
	})
}

// MarketStream upgrades to a websocket pushing merged market documents.
func (h *Handler) MarketStream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "streaming disabled"})
		return
	}
	h.hub.Handle(c)
}

func splitSymbols(raw string) []string {
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = normalizeSymbol(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
