// Package api implements the HTTP surface of the gateway: the gin engine,
// inbound API-key auth, the protocol endpoints, and the convert-dispatch
// pipeline connecting them to the provider adapters.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/constant"
)

// Server is the gateway HTTP server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	cfg     *config.Config
	gateway *Gateway
}

// NewServer builds the engine, registers routes and prepares the listener.
func NewServer(cfg *config.Config, gateway *Gateway) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		gateway: gateway,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    cfg.Addr(),
		Handler: engine,
	}
	return s
}

// Handler exposes the underlying engine, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	// Liveness is the only unauthenticated endpoint.
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"provider":  s.cfg.ModelProvider,
		})
	})

	auth := AuthMiddleware(s.cfg.RequiredAPIKey)
	s.registerProtocolRoutes(&s.engine.RouterGroup, auth, "")

	// Provider-pinned routes expose the same endpoints under each known
	// provider tag. The set is closed, so the groups are literal prefixes
	// rather than a wildcard parameter.
	for _, provider := range constant.Providers {
		s.registerProtocolRoutes(s.engine.Group("/"+provider), auth, provider)
	}
}

func (s *Server) registerProtocolRoutes(root *gin.RouterGroup, auth gin.HandlerFunc, pinned string) {
	v1 := root.Group("/v1")
	v1.Use(auth)
	{
		v1.POST("/chat/completions", s.gateway.ChatCompletions(pinned))
		v1.GET("/models", s.gateway.Models(constant.ProtocolOpenAI, pinned))
		v1.POST("/messages", s.gateway.ClaudeMessages(pinned))
	}

	v1beta := root.Group("/v1beta")
	v1beta.Use(auth)
	{
		v1beta.GET("/models", s.gateway.Models(constant.ProtocolGemini, pinned))
		v1beta.POST("/models/:modelAction", s.gateway.GeminiGenerate(pinned))
	}
}

// Start listens and serves until Stop is called. A bind failure returns
// immediately.
func (s *Server) Start() error {
	log.Infof("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	return s.server.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, x-api-key, x-goog-api-key, Model-Provider")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
