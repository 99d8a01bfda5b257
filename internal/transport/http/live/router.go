package livehttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"barfeed/internal/feed"
	"barfeed/internal/market"

	"github.com/gin-gonic/gin"
)

const (
	defaultBarsLimit = 100
	maxBarsLimit     = 1000
)

// StatusProvider is satisfied by *feed.Status.
type StatusProvider interface {
	Ready() bool
	Snapshot() feed.StatusSnapshot
}

// BarExporter is satisfied by *store.MemoryBarStore.
type BarExporter interface {
	Export(ctx context.Context, symbol, bin string, limit int) ([]market.Bar, error)
}

// Router serves /api/feed.
type Router struct {
	Status StatusProvider
	Bars   BarExporter
	symbol string
	bin    string
}

func NewRouter(status StatusProvider, bars BarExporter, symbol, bin string) *Router {
	return &Router{Status: status, Bars: bars, symbol: symbol, bin: bin}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	if r.Bars != nil {
		group.GET("/bars", r.handleBars)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Status.Snapshot())
}

func (r *Router) handleBars(c *gin.Context) {
	limit := defaultBarsLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxBarsLimit {
		limit = maxBarsLimit
	}
	bars, err := r.Bars.Export(c.Request.Context(), r.symbol, r.bin, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bars == nil {
		bars = []market.Bar{}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": r.symbol,
		"bin":    r.bin,
		"count":  len(bars),
		"bars":   bars,
	})
}
