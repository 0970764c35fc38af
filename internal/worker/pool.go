package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aurlink/waitlist/internal/engine"
)

// JobHandler processes one email job.
type JobHandler interface {
	Handle(ctx context.Context, job engine.EmailJob)
}

// Pool manages a fixed number of worker goroutines that process email jobs.
type Pool struct {
	numWorkers int
	jobs       chan engine.EmailJob
	handler    JobHandler
	logger     *slog.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, handler JobHandler, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan engine.EmailJob, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches the workers. Jobs already claimed from the queue are
// finished even after ctx is cancelled, so workers only exit once Stop
// closes the jobs channel.
func (p *Pool) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a job to the workers, giving up if ctx is done first.
func (p *Pool) Submit(ctx context.Context, job engine.EmailJob) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the jobs channel and waits for in-flight jobs to finish.
// Submit must not be called after Stop.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.handler.Handle(ctx, job)
	}
}
