package parawork

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Worker pulls jobs off a shared channel and runs each one's ProcessFunc.
type Worker struct {
	id          int
	jobsChan    <-chan *Job
	resultsChan chan<- *Result
	logger      *zap.Logger
}

func (w *Worker) run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("worker_id", w.id))
	defer w.logger.Info("worker stopped", zap.Int("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobsChan:
			if job == nil {
				return
			}
			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *Job) {
	start := time.Now()
	err := w.invoke(ctx, job)
	duration := time.Since(start)

	result := &Result{
		Partition: job.Partition,
		Offset:    job.Offset,
		Success:   err == nil,
		Error:     err,
		Attempt:   job.Attempt,
		Job:       job,
	}

	if err != nil {
		w.logger.Error("job failed",
			zap.Int("worker_id", w.id),
			zap.Int32("partition", job.Partition),
			zap.Int64("offset", job.Offset),
			zap.Int("attempt", job.Attempt),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		w.logger.Debug("job succeeded",
			zap.Int("worker_id", w.id),
			zap.Int32("partition", job.Partition),
			zap.Int64("offset", job.Offset),
			zap.Duration("duration", duration))
	}

	select {
	case w.resultsChan <- result:
	case <-ctx.Done():
	}
}

// invoke runs the job's ProcessFunc, converting a panic into
// ErrUserFunctionFailure so one bad record can't take down a worker
// goroutine.
func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUserFunctionFailure, r)
		}
	}()
	return job.ProcessFunc(ctx, job.Record)
}

// WorkerPool runs a fixed number of Worker goroutines sharing one job
// queue and one result queue.
type WorkerPool struct {
	numWorkers  int
	jobsChan    chan *Job
	resultsChan chan *Result
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewWorkerPool creates a worker pool; call Start to launch its goroutines.
func NewWorkerPool(numWorkers, jobQueueSize, resultQueueSize int, logger *zap.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		numWorkers:  numWorkers,
		jobsChan:    make(chan *Job, jobQueueSize),
		resultsChan: make(chan *Result, resultQueueSize),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches numWorkers goroutines draining the job queue.
func (wp *WorkerPool) Start() {
	wp.logger.Info("starting worker pool", zap.Int("num_workers", wp.numWorkers))
	for i := 0; i < wp.numWorkers; i++ {
		worker := &Worker{id: i, jobsChan: wp.jobsChan, resultsChan: wp.resultsChan, logger: wp.logger}
		go worker.run(wp.ctx)
	}
}

// Stop cancels all workers and closes the job queue.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("stopping worker pool")
	wp.cancel()
	close(wp.jobsChan)
}

// SubmitJob enqueues a job, blocking (applying backpressure) while the
// queue is full.
func (wp *WorkerPool) SubmitJob(ctx context.Context, job *Job) error {
	select {
	case wp.jobsChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel workers publish outcomes to.
func (wp *WorkerPool) Results() <-chan *Result {
	return wp.resultsChan
}
