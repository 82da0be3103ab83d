// Package api exposes the chart server over HTTP and websocket: REST for
// snapshots, metadata and strategy evaluation, websocket for live candle
// and ticker streams.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Config holds server configuration.
type Config struct {
	Addr              string
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
	ProductionMode    bool
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	cfg        Config
	logger     zerolog.Logger
}

// NewServer wires routes and middleware.
func NewServer(cfg Config, handlers *Handlers, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:   router,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger.With().Str("component", "APIServer").Logger(),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handlers.Health)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/intervals", s.handlers.Intervals)
		v1.GET("/symbols", s.handlers.Symbols)
		v1.GET("/tickers", s.handlers.Tickers)
		v1.GET("/candles", s.handlers.Candles)
		v1.POST("/strategy/results", s.handlers.StrategyResults)

		v1.GET("/stream/candles/:symbol", s.handlers.StreamCandles)
		v1.GET("/stream/ticks/:symbol", s.handlers.StreamTicks)
	}
}

// Start serves until the listener fails. Blocks.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
