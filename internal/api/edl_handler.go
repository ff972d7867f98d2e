package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/heimdex/heimdex-composer/internal/export"
)

const (
	defaultProjectName  = "composition"
	defaultEDLFrameRate = 30.0
)

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		projectName := export.SanitizeName(req.ProjectName, 120)
		if projectName == "" {
			projectName = defaultProjectName
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = defaultEDLFrameRate
		}

		comp, err := req.Composition.ToComposition(cfg.Assets)
		if err != nil {
			writeCompositionError(w, err)
			return
		}

		events, err := export.Events(comp, cfg.Lengths)
		if err != nil {
			if errors.Is(err, export.ErrUnknownLength) {
				WriteError(w, http.StatusUnprocessableEntity, err.Error(), "UNKNOWN_LENGTH")
				return
			}
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "UNRESOLVABLE_SEGMENT")
			return
		}

		edl := export.GenerateEDL(events, projectName, frameRate)
		resp := export.ExportResponse{
			Status:     "ok",
			Format:     "edl",
			EventCount: len(events),
		}

		if req.OutputDir == "" {
			resp.EDL = edl
			WriteJSON(w, http.StatusOK, resp)
			return
		}

		outputPath := filepath.Join(req.OutputDir, export.FileName(projectName, ".edl"))
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			cfg.Logger.Error("write edl failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}
		resp.OutputPath = outputPath
		WriteJSON(w, http.StatusOK, resp)
	}
}
