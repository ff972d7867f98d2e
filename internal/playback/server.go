// Package playback serves rendered files for preview with range support.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

var (
	ErrNotFound = errors.New("file not found")
	// ErrNotReady is returned for the empty placeholder a running render
	// writes into.
	ErrNotReady = errors.New("file not ready")
)

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{logger: logger}
}

// ServeFile streams filePath, honouring Range and conditional headers. Nothing
// is written to w when an error is returned.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return ErrNotFound
	}
	if stat.Size() == 0 {
		return ErrNotReady
	}

	w.Header().Set("Content-Type", contentType(filePath))
	// renders are replaced in place under the same name
	w.Header().Set("Cache-Control", "no-cache")

	s.logger.Debug("serving file",
		"path", logging.SanitizePath(filePath),
		"size", stat.Size(),
		"range", r.Header.Get("Range"),
	)
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}

// mediaTypes covers extensions missing from Go's builtin table.
var mediaTypes = map[string]string{
	".mp4": "video/mp4",
	".m4a": "audio/mp4",
	".mov": "video/quicktime",
	".mp3": "audio/mpeg",
	".edl": "text/plain; charset=utf-8",
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
