// Package server is the HTTP surface: one chat endpoint plus liveness and
// metrics. Identity is resolved here so the dialogue layer only ever sees a
// resolved user id and role.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agrichat-backend/internal/auth"
	"agrichat-backend/internal/common/config"
	"agrichat-backend/internal/common/logger"
	"agrichat-backend/internal/dialogue"
)

// Dialogue is the routing slice the HTTP layer depends on.
type Dialogue interface {
	Handle(ctx context.Context, req dialogue.Request) (*dialogue.Outcome, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	dialogue Dialogue
	verifier *auth.Verifier
	stores   map[string]Pinger
	logger   logger.Logger
	engine   *gin.Engine
}

func New(cfg config.Config, dlg Dialogue, verifier *auth.Verifier, stores map[string]Pinger, log logger.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		dialogue: dlg,
		verifier: verifier,
		stores:   stores,
		logger:   log.With(map[string]interface{}{"component": "http"}),
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	if s.cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS())
	r.Use(RequestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/predict", s.handlePredict)

	return r
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down", nil)
	return srv.Shutdown(shutdownCtx)
}
