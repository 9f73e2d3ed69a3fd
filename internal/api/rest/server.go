// Package rest serves the local admin and status API.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/api/websocket"
	"github.com/KilianBerger/OpenLabHost/internal/auth"
	"github.com/KilianBerger/OpenLabHost/internal/interfaces"
	"github.com/KilianBerger/OpenLabHost/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the admin HTTP server. It only exposes read endpoints and the
// token-protected shutdown controls; device commands go over the per-device
// RPC services.
type Server struct {
	controller interfaces.Controller
	hub        *websocket.Hub
	logger     *zap.Logger

	httpServer *http.Server
}

func NewServer(controller interfaces.Controller, hub *websocket.Hub, tokenHash string, port int, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		controller: controller,
		hub:        hub,
		logger:     logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: engine,
		},
	}
	s.routes(engine, tokenHash)
	return s
}

func (s *Server) routes(engine *gin.Engine, tokenHash string) {
	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/api/v1")
	v1.GET("/system/status", s.handleStatus)
	v1.GET("/devices", s.handleDevices)
	v1.GET("/ws/live", s.handleLive)

	protected := v1.Group("/system", auth.Middleware(tokenHash, s.logger))
	protected.POST("/stop", s.handleStop)
	protected.POST("/shutdown", s.handleShutdown)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Admin API listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin API failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) handleDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.controller.Devices()})
}

func (s *Server) handleLive(c *gin.Context) {
	websocket.ServeWS(s.hub, c.Writer, c.Request, s.logger)
}

func (s *Server) handleStop(c *gin.Context) {
	s.controller.RequestStop()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

type shutdownRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleShutdown(c *gin.Context) {
	var req shutdownRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest,
				types.NewErrorResponse("invalid_request", "invalid request body", err.Error()))
			return
		}
	}
	s.controller.RequestShutdown(req.Force)
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down", "force": req.Force})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
