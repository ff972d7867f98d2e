// Package render hands a built composition to a fresh engine instance and
// waits for the outcome.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/engine"
	"github.com/heimdex/heimdex-composer/internal/logging"
)

var (
	ErrOutputFile = errors.New("cannot prepare output file")
	ErrEngine     = errors.New("engine export failed")
)

type Config struct {
	OutputDir string
	NewEngine func() engine.Engine
	Logger    *slog.Logger
}

type Renderer struct {
	outputDir string
	newEngine func() engine.Engine
	logger    *slog.Logger
}

func New(cfg Config) *Renderer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Renderer{
		outputDir: cfg.OutputDir,
		newEngine: cfg.NewEngine,
		logger:    logger,
	}
}

// DefaultFileName names an output after the current wall clock.
func DefaultFileName(now time.Time) string {
	return fmt.Sprintf("video_%d.mp4", now.UnixMilli())
}

// Render exports comp to fileName inside the output directory and returns the
// output path. Every call uses its own engine, so detaching the listener
// never touches another render.
func (r *Renderer) Render(ctx context.Context, comp *composition.Composition, fileName string) (string, error) {
	if comp == nil || len(comp.Sequences) == 0 {
		return "", composition.ErrNoSequences
	}
	if r.newEngine == nil {
		return "", fmt.Errorf("%w: no engine configured", ErrEngine)
	}
	if fileName == "" {
		fileName = DefaultFileName(time.Now())
	}

	path, err := r.createOutputFile(fileName)
	if err != nil {
		return "", err
	}

	eng := r.newEngine()
	l := newListener(eng)
	eng.AddListener(l)

	logger := logging.WithOutput(r.logger, fileName)
	logger.Info("render submitted", "sequences", len(comp.Sequences))

	if err := eng.Start(comp, path); err != nil {
		l.detach()
		logger.Error("engine start failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrEngine, err)
	}

	select {
	case res := <-l.done:
		if res.err != nil {
			logger.Error("render failed", "code", res.err.Code, "error", res.err)
			return "", fmt.Errorf("%w: %w", ErrEngine, res.err)
		}
		logger.Info("render completed",
			"duration_ms", res.result.Duration.Milliseconds(),
			"elapsed_ms", res.result.Elapsed.Milliseconds(),
		)
		if res.result.OutputPath != "" {
			return res.result.OutputPath, nil
		}
		return path, nil
	case <-ctx.Done():
		l.detach()
		if c, ok := eng.(engine.Canceler); ok {
			c.Cancel()
		}
		logger.Warn("render cancelled", "error", ctx.Err())
		return "", ctx.Err()
	}
}

// createOutputFile removes a stale file at the target and creates an empty
// one exclusively.
func (r *Renderer) createOutputFile(fileName string) (string, error) {
	if filepath.Base(fileName) != fileName {
		return "", fmt.Errorf("%w: invalid file name %q", ErrOutputFile, fileName)
	}
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputFile, err)
	}

	path := filepath.Join(r.outputDir, fileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: remove stale: %w", ErrOutputFile, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputFile, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputFile, err)
	}
	return path, nil
}

type outcome struct {
	result engine.ExportResult
	err    *engine.ExportError
}

// listener forwards the first engine signal and detaches itself exactly
// once.
type listener struct {
	eng  engine.Engine
	once sync.Once
	done chan outcome
}

func newListener(eng engine.Engine) *listener {
	return &listener{eng: eng, done: make(chan outcome, 1)}
}

func (l *listener) OnCompleted(_ *composition.Composition, result engine.ExportResult) {
	l.finish(outcome{result: result})
}

func (l *listener) OnError(_ *composition.Composition, result engine.ExportResult, err *engine.ExportError) {
	if err == nil {
		err = &engine.ExportError{Code: "unknown", Message: "engine reported an error without details"}
	}
	l.finish(outcome{result: result, err: err})
}

func (l *listener) finish(o outcome) {
	l.once.Do(func() {
		l.eng.RemoveAllListeners()
		l.done <- o
	})
}

func (l *listener) detach() {
	l.once.Do(l.eng.RemoveAllListeners)
}
