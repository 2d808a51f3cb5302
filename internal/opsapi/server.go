// Package opsapi serves the operator endpoints: liveness, Prometheus metrics and outbox counts.
package opsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var ErrInvalidServerConfig = errors.New("invalid ops server config")

// OutboxStats reports outbox entry counts per status.
type OutboxStats interface {
	Stats(ctx context.Context) (outbox.Stats, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config configures the ops server.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server hosts the ops HTTP endpoints.
type Server struct {
	config   Config
	stats    OutboxStats
	health   HealthCheck
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer wires a Server. A nil health check always reports ok; a nil logger discards output.
func NewServer(config Config, stats OutboxStats, health HealthCheck, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if stats == nil {
		return nil, fmt.Errorf("%w: outbox stats dependency is nil", ErrInvalidServerConfig)
	}
	if gatherer == nil {
		return nil, fmt.Errorf("%w: metrics gatherer is nil", ErrInvalidServerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{config: config, stats: stats, health: health, gatherer: gatherer, logger: logger}, nil
}

// Handler builds the gin router.
func (server *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: server.config.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Accept"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", server.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{})))
	router.GET("/v1/outbox/stats", server.handleOutboxStats)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.config.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("ops api listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("ops api shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) handleHealth(ctx *gin.Context) {
	if server.health != nil {
		if err := server.health(ctx.Request.Context()); err != nil {
			server.logger.Warn("health check failed", zap.Error(err))
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleOutboxStats(ctx *gin.Context) {
	stats, err := server.stats.Stats(ctx.Request.Context())
	if err != nil {
		server.logger.Error("outbox stats failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("stats_unavailable", "outbox stats unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": code, "message": message}
}
