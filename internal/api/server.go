// Package api exposes the local control surface: submitting compositions for
// rendering, job history, preview playback of finished files and EDL export.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/engine"
	"github.com/heimdex/heimdex-composer/internal/export"
	"github.com/heimdex/heimdex-composer/internal/playback"
	"github.com/heimdex/heimdex-composer/internal/renders"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// RenderService queues renders and reads their history.
type RenderService interface {
	Submit(ctx context.Context, comp *composition.Composition, fileName string) (*renders.Job, error)
	GetJob(ctx context.Context, id string) (*renders.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*renders.Job, error)
	OutputFile(ctx context.Context, id string) (string, error)
	Active() int
}

// AssetCatalog resolves and lists named assets.
type AssetCatalog interface {
	composition.AssetResolver
	Names() ([]string, error)
}

type ServerConfig struct {
	Port           int
	Renders        RenderService
	Config         ConfigStore
	Assets         AssetCatalog
	Lengths        export.LengthFunc
	PlaybackServer playback.PlaybackService
	Doctor         *engine.CachedDoctor
	Demo           func() (*composition.Composition, error)
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
