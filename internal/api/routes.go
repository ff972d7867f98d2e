package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/export"
	"github.com/heimdex/heimdex-composer/internal/playback"
	"github.com/heimdex/heimdex-composer/internal/renders"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
	maxRequestBytes  = 1 << 20
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/assets", listAssetsHandler(cfg))
		r.Post("/renders", submitRenderHandler(cfg))
		r.Get("/renders", listRendersHandler(cfg))
		r.Get("/renders/{id}", getRenderHandler(cfg))
		r.Post("/compositions/edl", edlHandler(cfg))
	})

	// Media elements cannot send an Authorization header, so the preview
	// route is limited to loopback peers instead.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard(cfg.Logger))
		r.Get("/renders/{id}/file", renderFileHandler(cfg))
		r.Head("/renders/{id}/file", renderFileHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{State: "idle"}

		if cfg.Renders != nil {
			resp.Active = cfg.Renders.Active()
			jobs, err := cfg.Renders.ListJobs(r.Context(), 1)
			if err != nil {
				cfg.Logger.Warn("status: list renders failed", "error", err)
			}
			if len(jobs) > 0 {
				last := JobToResponse(jobs[0])
				resp.LastJob = &last
				if jobs[0].Status == renders.StatusFailed {
					resp.LastError = jobs[0].Error
				}
			}
		}

		switch {
		case resp.Active > 0:
			resp.State = "rendering"
		case resp.LastError != "":
			resp.State = "error"
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				ff := &FFmpegResponse{
					Version:    caps.Version,
					VideoCodec: caps.VideoCodec(),
				}
				if !caps.ProbedAt.IsZero() {
					ff.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.FFmpeg = ff
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Assets == nil {
			WriteJSON(w, http.StatusOK, AssetsResponse{Assets: []string{}})
			return
		}
		names, err := cfg.Assets.Names()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list assets", "INTERNAL_ERROR")
			return
		}
		if names == nil {
			names = []string{}
		}
		WriteJSON(w, http.StatusOK, AssetsResponse{Assets: names})
	}
}

func submitRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenderRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.FileName != "" && !validOutputName(req.FileName) {
			WriteError(w, http.StatusBadRequest, "file_name must be a plain .mp4 file name", "BAD_REQUEST")
			return
		}

		var (
			comp *composition.Composition
			err  error
		)
		switch {
		case req.Demo && req.Composition != nil:
			WriteError(w, http.StatusBadRequest, "demo and composition are mutually exclusive", "BAD_REQUEST")
			return
		case req.Demo:
			if cfg.Demo == nil {
				WriteError(w, http.StatusNotFound, "demo composition not available", "NOT_FOUND")
				return
			}
			comp, err = cfg.Demo()
		case req.Composition != nil:
			comp, err = req.Composition.ToComposition(cfg.Assets)
		default:
			WriteError(w, http.StatusBadRequest, "composition is required", "BAD_REQUEST")
			return
		}
		if err != nil {
			writeCompositionError(w, err)
			return
		}

		job, err := cfg.Renders.Submit(r.Context(), comp, req.FileName)
		if err != nil {
			if errors.Is(err, renders.ErrQueueFull) {
				WriteError(w, http.StatusServiceUnavailable, err.Error(), "QUEUE_FULL")
				return
			}
			cfg.Logger.Error("submit render failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to submit render", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJobsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxJobsLimit)
		}

		jobs, err := cfg.Renders.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list renders", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "render id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Renders.GetJob(r.Context(), id)
		if errors.Is(err, renders.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func renderFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		path, err := cfg.Renders.OutputFile(r.Context(), id)
		switch {
		case errors.Is(err, renders.ErrNotFound):
			WriteError(w, http.StatusNotFound, "render not found", "NOT_FOUND")
			return
		case errors.Is(err, renders.ErrNotCompleted):
			WriteError(w, http.StatusConflict, err.Error(), "NOT_READY")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		err = cfg.PlaybackServer.ServeFile(w, r, path)
		switch {
		case err == nil:
		case errors.Is(err, playback.ErrNotFound):
			WriteError(w, http.StatusNotFound, "render file missing", "FILE_MISSING")
		case errors.Is(err, playback.ErrNotReady):
			WriteError(w, http.StatusConflict, "render file not ready", "NOT_READY")
		default:
			cfg.Logger.Error("playback error", "error", err, "render_id", id)
			WriteError(w, http.StatusInternalServerError, "playback failed", "INTERNAL_ERROR")
		}
	}
}

func writeCompositionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, composition.ErrAssetUnavailable):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "ASSET_UNAVAILABLE")
	case errors.Is(err, composition.ErrNoSequences):
		WriteError(w, http.StatusBadRequest, err.Error(), "NO_SEQUENCES")
	case errors.Is(err, errInvalidComposition):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_COMPOSITION")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func validOutputName(name string) bool {
	return strings.HasSuffix(name, ".mp4") && export.FileName(name, ".mp4") == name
}
