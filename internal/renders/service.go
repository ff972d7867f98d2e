package renders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/engine"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/render"
)

const defaultQueueSize = 8

var (
	ErrQueueFull = errors.New("render queue is full")
	ErrNotFound  = errors.New("render not found")
	// ErrNotCompleted is returned when a job has no finished output yet.
	ErrNotCompleted = errors.New("render not completed")
)

// Renderer is the render orchestration step a job drives.
type Renderer interface {
	Render(ctx context.Context, comp *composition.Composition, fileName string) (string, error)
}

type queued struct {
	job  *Job
	comp *composition.Composition
}

// Service records render jobs and runs them through the Renderer.
type Service struct {
	repo      Repository
	renderer  Renderer
	inspector engine.Inspector
	logger    *slog.Logger

	queue  chan queued
	active atomic.Int32

	mu       sync.Mutex
	onChange []func(active int)
}

// NewService wires the job store and renderer. inspector may be nil.
func NewService(repo Repository, renderer Renderer, inspector engine.Inspector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:      repo,
		renderer:  renderer,
		inspector: inspector,
		logger:    logger,
		queue:     make(chan queued, defaultQueueSize),
	}
}

// OnChange registers fn to be called whenever the number of queued or
// running renders changes.
func (s *Service) OnChange(fn func(active int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Active returns the number of renders queued or running.
func (s *Service) Active() int {
	return int(s.active.Load())
}

// Submit records a pending job and queues it for the Runner.
func (s *Service) Submit(ctx context.Context, comp *composition.Composition, fileName string) (*Job, error) {
	job, err := s.create(ctx, comp, fileName)
	if err != nil {
		return nil, err
	}

	s.adjust(1)
	select {
	case s.queue <- queued{job: job, comp: comp}:
	default:
		s.adjust(-1)
		s.repo.UpdateJobStatus(ctx, job.ID, StatusFailed, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}

	s.logger.Info("render queued", "job_id", job.ID, "file_name", job.FileName)
	return job, nil
}

// Run records a job and renders it on the calling goroutine.
func (s *Service) Run(ctx context.Context, comp *composition.Composition, fileName string) (*Job, error) {
	job, err := s.create(ctx, comp, fileName)
	if err != nil {
		return nil, err
	}
	s.adjust(1)
	return s.execute(ctx, job, comp)
}

func (s *Service) create(ctx context.Context, comp *composition.Composition, fileName string) (*Job, error) {
	if comp == nil || len(comp.Sequences) == 0 {
		return nil, composition.ErrNoSequences
	}
	id := NewID()
	if fileName == "" {
		fileName = defaultFileName(time.Now(), id)
	}

	now := time.Now()
	job := &Job{
		ID:        id,
		FileName:  fileName,
		Status:    StatusPending,
		Sequences: len(comp.Sequences),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create render job: %w", err)
	}
	return job, nil
}

// execute drives one job to a terminal status and returns its final record.
func (s *Service) execute(ctx context.Context, job *Job, comp *composition.Composition) (*Job, error) {
	defer s.adjust(-1)

	logger := logging.WithJobID(s.logger, job.ID)
	// status updates must land even when ctx is what failed the render
	store := context.WithoutCancel(ctx)

	if err := s.repo.UpdateJobStatus(store, job.ID, StatusRunning, ""); err != nil {
		return nil, fmt.Errorf("mark render running: %w", err)
	}
	logger.Info("render started", "file_name", job.FileName)

	start := time.Now()
	path, err := s.renderer.Render(ctx, comp, job.FileName)
	if err != nil {
		msg := err.Error()
		var exportErr *engine.ExportError
		if errors.As(err, &exportErr) && exportErr.StderrTail != "" {
			msg = fmt.Sprintf("%s: %s", msg, lastLine(exportErr.StderrTail))
		}
		logger.Error("render failed", "error", err)
		if uerr := s.repo.UpdateJobStatus(store, job.ID, StatusFailed, msg); uerr != nil {
			logger.Error("failed to record render failure", "error", uerr)
		}
		return s.reload(store, job.ID, err)
	}

	out := Output{Path: path, ElapsedMs: time.Since(start).Milliseconds()}
	if info, err := os.Stat(path); err == nil {
		out.SizeBytes = info.Size()
	}
	if s.inspector != nil {
		if meta, err := s.inspector.Inspect(path); err != nil {
			logger.Warn("cannot inspect render output", "error", err)
		} else {
			out.Width = meta.Width
			out.Height = meta.Height
			out.DurationMs = meta.Duration.Milliseconds()
			out.VideoCodec = meta.Codec
		}
	}

	if err := s.repo.CompleteJob(store, job.ID, out); err != nil {
		return nil, fmt.Errorf("record render output: %w", err)
	}
	logger.Info("render completed",
		"output", logging.SanitizePath(path),
		"elapsed_ms", out.ElapsedMs,
		"size_bytes", out.SizeBytes,
	)
	return s.reload(store, job.ID, nil)
}

func (s *Service) reload(ctx context.Context, id string, renderErr error) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, errors.Join(renderErr, err)
	}
	return job, renderErr
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// OutputFile returns the path of a completed job's file.
func (s *Service) OutputFile(ctx context.Context, id string) (string, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != StatusCompleted || job.OutputPath == "" {
		return "", fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, job.Status)
	}
	return filepath.Clean(job.OutputPath), nil
}

func (s *Service) adjust(delta int32) {
	n := int(s.active.Add(delta))
	s.mu.Lock()
	fns := append([]func(int){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func lastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	for i := end - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return s[i+1 : end]
		}
	}
	return s[:end]
}

// defaultFileName adds a job id prefix to the wall-clock name so jobs created
// in the same millisecond never share an output file.
func defaultFileName(now time.Time, id string) string {
	return strings.TrimSuffix(render.DefaultFileName(now), ".mp4") + "_" + id[:min(8, len(id))] + ".mp4"
}
