package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"triage_server/core/port/out"
)

var (
	ErrPoolStopped   = errors.New("worker pool is not running")
	ErrPoolQueueFull = errors.New("worker pool queue is full")
)

// BatchRunner executes one batch job to completion.
type BatchRunner interface {
	Run(ctx context.Context, job *out.BatchJob) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers      int           // concurrent batch jobs
	QueueSize    int           // queued jobs before Launch is refused
	CloseTimeout time.Duration // drain time on Stop
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      4,
		QueueSize:    100,
		CloseTimeout: 30 * time.Second,
	}
}

// Pool runs batch jobs detached from the request that submitted them.
// Jobs get the pool's context, so they outlive the HTTP call and stop only
// when the pool does.
type Pool struct {
	runner BatchRunner
	config PoolConfig

	group *pool.WorkerGroup[*out.BatchJob]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsSubmitted int64 `json:"jobs_submitted"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
	JobsRejected  int64 `json:"jobs_rejected"`
	Queued        int64 `json:"queued"`
	Running       int64 `json:"running"`
}

// batchWorker implements pool.Worker.
type batchWorker struct {
	pool *Pool
}

func (w *batchWorker) Do(ctx context.Context, job *out.BatchJob) error {
	return w.pool.processJob(ctx, job)
}

func NewPool(runner BatchRunner, config PoolConfig, log zerolog.Logger) *Pool {
	def := DefaultPoolConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = def.CloseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner: runner,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.group = pool.New[*out.BatchJob](p.config.Workers, &batchWorker{pool: p}).
		WithBatchSize(1).
		WithWorkerChanSize(p.config.QueueSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("queue_size", p.config.QueueSize).
		Msg("worker pool started")
	return nil
}

// Launch queues a job. It never blocks on a full queue.
func (p *Pool) Launch(_ context.Context, job *out.BatchJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolStopped
	}
	if atomic.LoadInt64(&p.metrics.Queued) >= int64(p.config.QueueSize) {
		atomic.AddInt64(&p.metrics.JobsRejected, 1)
		p.log.Warn().Str("session_id", job.SessionID).Msg("job rejected, queue full")
		return ErrPoolQueueFull
	}

	atomic.AddInt64(&p.metrics.Queued, 1)
	atomic.AddInt64(&p.metrics.JobsSubmitted, 1)
	p.group.Submit(job)
	return nil
}

func (p *Pool) processJob(ctx context.Context, job *out.BatchJob) (err error) {
	atomic.AddInt64(&p.metrics.Queued, -1)
	atomic.AddInt64(&p.metrics.Running, 1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Interface("panic", r).
				Str("session_id", job.SessionID).
				Str("stack", string(debug.Stack())).
				Msg("batch job panicked")
			err = errors.New("batch job panicked")
		}
		atomic.AddInt64(&p.metrics.Running, -1)
		if err != nil {
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
		} else {
			atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		}
	}()

	err = p.runner.Run(ctx, job)
	if err != nil {
		p.log.Error().
			Err(err).
			Str("session_id", job.SessionID).
			Dur("elapsed", time.Since(start)).
			Msg("batch job failed")
		return err
	}

	p.log.Debug().
		Str("session_id", job.SessionID).
		Dur("elapsed", time.Since(start)).
		Msg("batch job finished")
	return nil
}

// Stop closes the pool, waiting up to CloseTimeout for running jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	p.log.Info().Msg("stopping worker pool...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), p.config.CloseTimeout)
	defer closeCancel()

	if err := p.group.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsSubmitted: atomic.LoadInt64(&p.metrics.JobsSubmitted),
		JobsProcessed: atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:    atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRejected:  atomic.LoadInt64(&p.metrics.JobsRejected),
		Queued:        atomic.LoadInt64(&p.metrics.Queued),
		Running:       atomic.LoadInt64(&p.metrics.Running),
	}
}

var _ out.BatchLauncher = (*Pool)(nil)
