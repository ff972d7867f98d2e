package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/heimdex/heimdex-composer/internal/api"
	"github.com/heimdex/heimdex-composer/internal/assets"
	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/config"
	"github.com/heimdex/heimdex-composer/internal/db"
	"github.com/heimdex/heimdex-composer/internal/demo"
	"github.com/heimdex/heimdex-composer/internal/engine"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/playback"
	"github.com/heimdex/heimdex-composer/internal/render"
	"github.com/heimdex/heimdex-composer/internal/renders"
	"github.com/heimdex/heimdex-composer/internal/ui"
)

const (
	doctorTimeout = 10 * time.Second
	probeTimeout  = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex composer",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"assets_dir", logging.SanitizePath(cfg.AssetsDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := renders.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 HEIMDEX COMPOSER v%-24s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Renders:    %-45s ║\n", logging.SanitizePath(cfg.OutputDir()))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	store := assets.New(cfg.CacheDir(), cfg.AssetsDir(), logging.WithComponent(logger, "assets"))
	prober := engine.NewFFprobe(cfg.FFprobePath(), logger)
	doctor := engine.NewCachedDoctor(cfg.FFmpegPath(), logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), doctorTimeout)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("ffmpeg not usable, renders will fail until it is installed", "error", err)
	} else {
		logger.Info("ffmpeg capabilities detected", "version", caps.Version, "video_codec", caps.VideoCodec())
	}
	initCancel()

	engineLogger := logging.WithComponent(logger, "engine")
	renderer := render.New(render.Config{
		OutputDir: cfg.OutputDir(),
		NewEngine: func() engine.Engine {
			return engine.NewFFmpeg(engine.Config{
				Binary:  cfg.FFmpegPath(),
				Prober:  prober,
				Doctor:  doctor,
				Timeout: cfg.RenderTimeout(),
				Logger:  engineLogger,
			})
		},
		Logger: logging.WithComponent(logger, "render"),
	})

	inspector := engine.NewInspector(cfg.FFmpegPath(), cfg.FFprobePath(), nil)
	if inspector == nil {
		logger.Warn("configured ffmpeg/ffprobe are not the ones on PATH, render output will not be inspected")
	}
	renderSvc := renders.NewService(repo, renderer, inspector, logging.WithComponent(logger, "renders"))
	runner := renders.NewRunner(renderSvc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	buildDemo := func() (*composition.Composition, error) {
		return demo.Grid(store)
	}
	submitDemo := func() error {
		comp, err := buildDemo()
		if err != nil {
			return err
		}
		job, err := renderSvc.Submit(ctx, comp, "")
		if err != nil {
			return err
		}
		logger.Info("demo render submitted", "job_id", job.ID, "file_name", job.FileName)
		return nil
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Renders:        renderSvc,
		Config:         repo,
		Assets:         store,
		Lengths:        engine.Lengths(prober, probeTimeout),
		PlaybackServer: playback.NewServer(logger),
		Doctor:         doctor,
		Demo:           buildDemo,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Logger:   logger,
			OnRender: submitDemo,
			OnQuit:   quit,
		})
		renderSvc.OnChange(func(active int) {
			tray.SetActive(active)
			if active == 0 {
				updateLastRender(ctx, renderSvc, tray, logger)
			}
		})
		go tray.Run()
	}

	if cfg.Demo() {
		if err := submitDemo(); err != nil {
			if errors.Is(err, composition.ErrAssetUnavailable) {
				logger.Warn("demo assets missing, add them to the assets dir",
					"video", demo.VideoAsset, "music", demo.MusicAsset, "error", err)
			} else {
				logger.Error("demo render not submitted", "error", err)
			}
		}
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()
	if tray != nil {
		tray.Quit()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func updateLastRender(ctx context.Context, svc *renders.Service, tray *ui.Tray, logger *slog.Logger) {
	jobs, err := svc.ListJobs(context.WithoutCancel(ctx), 1)
	if err != nil {
		logger.Warn("failed to read last render", "error", err)
		return
	}
	if len(jobs) > 0 && jobs[0].Status == renders.StatusCompleted {
		tray.SetLast(jobs[0].FileName)
	}
}

func ensureAuthToken(repo renders.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
