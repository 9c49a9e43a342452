package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"threetick/internal/engine"
	"threetick/internal/monitor"
	"threetick/pkg/db"
	"threetick/pkg/logger"
)

// HealthSource reports loop progress. engine.Loop satisfies it.
type HealthSource interface {
	Health() engine.Health
}

// JournalReader serves recent audit rows. *db.Journal satisfies it.
type JournalReader interface {
	RecentBalances(ctx context.Context, limit int) ([]db.BalanceRow, error)
	RecentOrders(ctx context.Context, limit int) ([]db.OrderRow, error)
	RecentPositionEvents(ctx context.Context, limit int) ([]db.PositionEventRow, error)
}

// SystemMeta describes the running process.
type SystemMeta struct {
	DryRun  bool   `json:"dry_run"`
	Venue   string `json:"venue"`
	Symbol  string `json:"symbol"`
	Version string `json:"version"`
}

// Server exposes read-only status over HTTP. It never touches trading state.
type Server struct {
	Router  *gin.Engine
	Health  HealthSource
	Journal JournalReader // nil disables /api/journal
	Meta    SystemMeta

	// StaleAfter marks /health unavailable when no heartbeat arrived for this long.
	StaleAfter time.Duration

	log  *zap.Logger
	http *http.Server
}

func NewServer(health HealthSource, journal JournalReader, meta SystemMeta, staleAfter time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	log := logger.L().Named("api")

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))

	s := &Server{
		Router:     r,
		Health:     health,
		Journal:    journal,
		Meta:       meta,
		StaleAfter: staleAfter,
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(monitor.Registry, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		journal := api.Group("/journal")
		{
			journal.GET("/balances", s.getBalances)
			journal.GET("/orders", s.getOrders)
			journal.GET("/positions", s.getPositionEvents)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	h := s.Health.Health()
	code := http.StatusOK
	status := "ok"
	if !h.Running {
		code, status = http.StatusServiceUnavailable, "stopped"
	} else if s.StaleAfter > 0 && !h.LastHeartbeat.IsZero() && time.Since(h.LastHeartbeat) > s.StaleAfter {
		code, status = http.StatusServiceUnavailable, "stale"
	}
	c.JSON(code, gin.H{"status": status, "loop": h})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"meta": s.Meta, "loop": s.Health.Health()})
}

func (s *Server) getBalances(c *gin.Context) {
	s.serveJournal(c, func(ctx context.Context, limit int) (any, error) {
		return s.Journal.RecentBalances(ctx, limit)
	})
}

func (s *Server) getOrders(c *gin.Context) {
	s.serveJournal(c, func(ctx context.Context, limit int) (any, error) {
		return s.Journal.RecentOrders(ctx, limit)
	})
}

func (s *Server) getPositionEvents(c *gin.Context) {
	s.serveJournal(c, func(ctx context.Context, limit int) (any, error) {
		return s.Journal.RecentPositionEvents(ctx, limit)
	})
}

func (s *Server) serveJournal(c *gin.Context, query func(ctx context.Context, limit int) (any, error)) {
	if s.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	rows, err := query(c.Request.Context(), limit)
	if err != nil {
		s.log.Warn("journal query failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
