package bootstrap

import (
	"context"
	"errors"
	"sync"

	"triage_server/adapter/in/worker"
	"triage_server/adapter/out/messaging"
	"triage_server/adapter/out/session"
	"triage_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs batch jobs: a local pool, the session sweeper and, in split
// deployments, the Redis stream consumer feeding the pool.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	gc       *worker.SessionGC
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

// NewWorker builds the worker. consume attaches the stream consumer; the
// single-process mode launches straight into the pool instead.
func NewWorker(deps *Dependencies, consume bool) (*Worker, error) {
	cfg := deps.Config
	zlog := logger.Component("worker")

	pool := worker.NewPool(deps.Orchestrator, worker.PoolConfig{
		Workers:      cfg.WorkerCount,
		QueueSize:    cfg.WorkerQueueSize,
		CloseTimeout: cfg.WorkerCloseTimeout,
	}, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	// Redis keys expire on their own; only the memory store needs sweeping.
	if _, ok := deps.Store.(*session.MemoryStore); ok {
		gc, err := worker.NewSessionGC(deps.Store, cfg.SessionGCSpec, cfg.SessionRetention, zlog)
		if err != nil {
			cancel()
			return nil, err
		}
		w.gc = gc
	}

	if consume {
		if deps.Redis == nil {
			cancel()
			return nil, errors.New("stream consumer requires redis")
		}
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                cfg.ConsumerGroup,
			Consumer:             cfg.WorkerID,
			Target:               pool,
			Logger:               zlog,
			PendingCheckInterval: cfg.ConsumerPendingCheck,
			PendingIdleTime:      cfg.ConsumerPendingIdle,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis stream consumer configured (group=%s, consumer=%s)", cfg.ConsumerGroup, cfg.WorkerID)
	}

	return w, nil
}

// Start starts the pool and background loops. It does not block.
func (w *Worker) Start() error {
	if err := w.pool.Start(); err != nil {
		return err
	}

	if w.gc != nil {
		w.gc.Start()
		w.zlog.Info().Str("schedule", w.deps.Config.SessionGCSpec).Msg("session gc started")
	}

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("stream consumer stopped")
			}
		}()
	}
	return nil
}

// Stop stops consuming, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()

	if w.gc != nil {
		w.gc.Stop()
	}
	w.pool.Stop()
}

// Pool returns the local pool, which doubles as the launcher in
// single-process mode.
func (w *Worker) Pool() *worker.Pool {
	return w.pool
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
