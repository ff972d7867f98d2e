package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	DefaultTimeout = 30 * time.Minute
)

// Config holds the ffmpeg engine's configuration.
type Config struct {
	Binary      string        // ffmpeg binary; empty = "ffmpeg" on PATH
	Prober      Prober        // input metadata source
	Doctor      *CachedDoctor // optional; picks the video encoder
	Timeout     time.Duration // upper bound for one export
	DefaultSize composition.Size
	FrameRate   int
	Logger      *slog.Logger
}

// RunResult is the structured outcome of one ffmpeg subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// FFmpeg is a single-use Engine backed by the ffmpeg CLI.
type FFmpeg struct {
	listenerSet

	cfg Config

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

func NewFFmpeg(cfg Config) *FFmpeg {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &FFmpeg{cfg: cfg}
}

// Start probes inputs, compiles the graph and encodes on a worker
// goroutine. Only the first call starts an export.
func (f *FFmpeg) Start(comp *composition.Composition, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return ErrAlreadyStarted
	}
	if f.cfg.Prober == nil {
		return fmt.Errorf("ffmpeg engine has no prober")
	}
	f.started = true

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	f.cancel = cancel
	go f.run(ctx, comp, outputPath)
	return nil
}

func (f *FFmpeg) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *FFmpeg) run(ctx context.Context, comp *composition.Composition, outputPath string) {
	defer f.Cancel()
	start := time.Now()
	result := ExportResult{OutputPath: outputPath}

	fail := func(e *ExportError) {
		result.Elapsed = time.Since(start)
		f.cfg.Logger.Warn("export failed",
			"code", e.Code,
			"error", e.Message,
			"elapsed_ms", result.Elapsed.Milliseconds(),
		)
		f.notifyError(comp, result, e)
	}

	probes, err := f.probeInputs(ctx, comp)
	if err != nil {
		fail(&ExportError{Code: CodeProbeFailed, Message: "cannot probe inputs", Err: err})
		return
	}

	graph, err := BuildGraph(comp, probes, GraphOptions{
		DefaultSize: f.cfg.DefaultSize,
		FrameRate:   f.cfg.FrameRate,
		Logger:      f.cfg.Logger,
	})
	if err != nil {
		fail(&ExportError{Code: CodeInvalidComposition, Message: "cannot compile composition", Err: err})
		return
	}

	codec := f.videoCodec(ctx)
	run := f.exec(ctx, graph.Args(outputPath, codec))

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		fail(&ExportError{Code: CodeTimeout, Message: fmt.Sprintf("export exceeded %s", f.cfg.Timeout), ExitCode: run.ExitCode, StderrTail: run.StderrTail, Err: ctx.Err()})
		return
	case errors.Is(ctx.Err(), context.Canceled):
		fail(&ExportError{Code: CodeCancelled, Message: "export cancelled", ExitCode: run.ExitCode, StderrTail: run.StderrTail, Err: ctx.Err()})
		return
	case !run.IsSuccess():
		fail(&ExportError{Code: CodeEncodeFailed, Message: fmt.Sprintf("ffmpeg exited %d", run.ExitCode), ExitCode: run.ExitCode, StderrTail: run.StderrTail})
		return
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		fail(&ExportError{Code: CodeOutputMissing, Message: "output file missing after export", Err: err})
		return
	}

	result.Duration = graph.Duration
	result.Elapsed = time.Since(start)
	result.FileSizeBytes = info.Size()
	if graph.VideoOut != "" {
		result.VideoCodec = codec
	}

	f.cfg.Logger.Info("export completed",
		"duration_ms", result.Duration.Milliseconds(),
		"elapsed_ms", result.Elapsed.Milliseconds(),
		"size_bytes", result.FileSizeBytes,
	)
	f.notifyCompleted(comp, result)
}

func (f *FFmpeg) probeInputs(ctx context.Context, comp *composition.Composition) (map[string]*ProbeResult, error) {
	probes := make(map[string]*ProbeResult)
	for _, seq := range comp.Sequences {
		for _, seg := range seq.Segments {
			if _, ok := probes[seg.Source]; ok {
				continue
			}
			p, err := f.cfg.Prober.Probe(ctx, sourcePath(seg.Source))
			if err != nil {
				return nil, err
			}
			probes[seg.Source] = p
		}
	}
	return probes, nil
}

func (f *FFmpeg) videoCodec(ctx context.Context) string {
	if f.cfg.Doctor == nil {
		return PreferredVideoCodec
	}
	caps, err := f.cfg.Doctor.Get(ctx)
	if err != nil {
		return PreferredVideoCodec
	}
	return caps.VideoCodec()
}

// exec is the core subprocess execution helper.
func (f *FFmpeg) exec(ctx context.Context, args []string) RunResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, f.cfg.Binary, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	f.cfg.Logger.Info("executing ffmpeg", "inputs", countInputs(args))
	f.cfg.Logger.Debug("ffmpeg arguments", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		if stderrTail == "" && err != nil {
			stderrTail = err.Error()
		}
		f.cfg.Logger.Warn("ffmpeg failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func countInputs(args []string) int {
	n := 0
	for _, a := range args {
		if a == "-i" {
			n++
		}
	}
	return n
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
