package processing

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// Processor processes one sequencing object. *Chain satisfies it.
type Processor interface {
	Process(ctx context.Context, objectID int64) error
}

// StateStore records that an object is waiting for processing.
type StateStore interface {
	SetProcessingState(ctx context.Context, objectID int64, state models.ProcessingState) error
}

// Executor processes submitted objects on a bounded pool of workers.
type Executor struct {
	processor Processor
	store     StateStore
	logger    *zap.Logger

	queue  chan int64
	sem    *semaphore.Weighted
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewExecutor starts an executor with cfg.Workers concurrent workers
// (capped by cfg.MaxWorkers) and a queue of cfg.QueueCapacity objects.
func NewExecutor(processor Processor, store StateStore, cfg config.FileProcessingConfig, logger *zap.Logger) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if cfg.MaxWorkers > 0 && workers > cfg.MaxWorkers {
		workers = cfg.MaxWorkers
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 100
	}

	ctx, cancel := context.WithCancel(security.AsSystem(context.Background()))
	group, ctx := errgroup.WithContext(ctx)
	e := &Executor{
		processor: processor,
		store:     store,
		logger:    logging.OrNop(logger),
		queue:     make(chan int64, capacity),
		sem:       semaphore.NewWeighted(int64(workers)),
		group:     group,
		ctx:       ctx,
		cancel:    cancel,
	}
	group.Go(e.dispatch)
	return e
}

// Submit queues objectID. It fails with KindIllegalState when the queue is
// full or the executor has been shut down.
func (e *Executor) Submit(ctx context.Context, objectID int64) error {
	const op errors.Op = "processing.Executor.Submit"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.E(op, errors.KindIllegalState, "executor is shut down")
	}
	// Only Submit sends, under e.mu, so the queue cannot fill up between
	// this check and the send below.
	if len(e.queue) == cap(e.queue) {
		return errors.E(op, errors.KindIllegalState, "processing queue is full")
	}
	if err := e.store.SetProcessingState(ctx, objectID, models.ProcessingQueued); err != nil {
		e.logger.Warn("failed to mark object queued", zap.Int64("sequencing_object_id", objectID), zap.Error(err))
	}
	e.queue <- objectID
	return nil
}

func (e *Executor) dispatch() error {
	for id := range e.queue {
		id := id
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			return nil
		}
		e.group.Go(func() error {
			defer e.sem.Release(1)
			if err := e.processor.Process(e.ctx, id); err != nil {
				e.logger.Warn("processing failed", zap.Int64("sequencing_object_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return nil
}

// Shutdown stops accepting work and waits for queued objects to finish. If
// ctx ends first the running processors are cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()
	select {
	case err := <-done:
		e.cancel()
		return err
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

// SyncExecutor processes each object as it is submitted.
type SyncExecutor struct {
	processor Processor
}

// NewSyncExecutor returns an executor that runs on the caller's goroutine.
func NewSyncExecutor(processor Processor) *SyncExecutor {
	return &SyncExecutor{processor: processor}
}

func (e *SyncExecutor) Submit(ctx context.Context, objectID int64) error {
	return e.processor.Process(ctx, objectID)
}
