// Package api provides the local debug/ops HTTP surface for the engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/syncline/syncline/internal/api/middleware"
	"github.com/syncline/syncline/internal/infrastructure/config"
	"github.com/syncline/syncline/internal/infrastructure/logging"
	"github.com/syncline/syncline/internal/infrastructure/monitoring"
	"github.com/syncline/syncline/internal/session"
)

// StatsFunc supplies the current session view for the /stats endpoint.
type StatsFunc func() session.Stats

// DebugServer exposes /metrics, /healthz, and /stats on a localhost
// listener. It observes the engine; it never mutates it.
type DebugServer struct {
	router *gin.Engine
	srv    *http.Server
	logger *logging.Logger
}

// NewDebugServer builds the debug router.
func NewDebugServer(rl config.RateLimitConfig, logger *logging.Logger, metrics *monitoring.Metrics, stats StatsFunc) *DebugServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if rl.Enabled {
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}))
	}
	router.Use(monitoring.Middleware(metrics))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"session": stats(),
			"metrics": metrics.Snapshot(),
		})
	})

	return &DebugServer{router: router, logger: logger}
}

// Run serves until Shutdown or listener failure.
func (s *DebugServer) Run(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info("Debug server listening", zap.String("addr", addr))

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener gracefully.
func (s *DebugServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
