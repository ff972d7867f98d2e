package renders

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

// Runner executes queued renders one at a time.
type Runner struct {
	service *Service
	logger  *slog.Logger
	running atomic.Bool
}

func NewRunner(service *Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{service: service, logger: logger}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("render runner started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("render runner stopping")
			r.drain(ctx)
			return
		case q := <-r.service.queue:
			if _, err := r.service.execute(ctx, q.job, q.comp); err != nil {
				r.logger.Warn("queued render did not complete", "job_id", q.job.ID, "error", err)
			}
		}
	}
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// drain fails everything still queued so it is not left pending.
func (r *Runner) drain(ctx context.Context) {
	store := context.WithoutCancel(ctx)
	for {
		select {
		case q := <-r.service.queue:
			r.service.repo.UpdateJobStatus(store, q.job.ID, StatusFailed, "cancelled before start")
			r.service.adjust(-1)
		default:
			return
		}
	}
}
