package parawork

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Runner is the entry point tying a Kafka consumer to an Engine and a
// WorkerPool: it polls records, drains them into the engine, dispatches
// eligible work to workers, retries or fails results, and commits
// advancing offsets on a ticker. Grounded directly in the teacher's Pool.
type Runner struct {
	consumer   *kafka.Consumer
	cfg        Config
	engine     *Engine
	workerPool *WorkerPool
	logger     *zap.Logger
	metrics    *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pendingProcessFunc holds the ProcessFunc passed to Run, so the
	// dispatch loop (which only sees WorkContainers from the engine) can
	// still build a Job for each one.
	pendingProcessFunc atomic.Value
	// containers tracks in-flight WorkContainers by (partition, offset)
	// so resultLoop can report outcomes back to the engine.
	containers sync.Map

	statsMessagesProcessed int64
	statsMessagesFailed    int64
	statsOffsetsCommitted  int64
}

// NewRunner creates a Runner around a connected consumer and a validated
// Config. It does not install a rebalance callback; build one with
// Engine().RebalanceCallback and pass it when subscribing.
func NewRunner(consumer *kafka.Consumer, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(cfg)
	r := &Runner{
		consumer:   consumer,
		cfg:        cfg,
		engine:     engine,
		workerPool: NewWorkerPool(cfg.NumWorkers, cfg.JobQueueSize, cfg.ResultQueueSize, engine.Logger()),
		logger:     engine.Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
	return r, nil
}

// Engine exposes the underlying engine, mainly for metrics registration.
func (r *Runner) Engine() *Engine { return r.engine }

// WithMetrics attaches a Metrics instance the runner will update as it
// processes and commits work. Optional; nil-safe if never called.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.metrics = m
	return r
}

// Run polls, processes, and commits until ctx is cancelled or the error
// tracker halts processing.
func (r *Runner) Run(ctx context.Context, processFunc ProcessFunc) error {
	r.logger.Info("starting runner",
		zap.Int("num_workers", r.cfg.NumWorkers),
		zap.Duration("commit_interval", r.cfg.CommitInterval),
		zap.String("ordering", r.cfg.Ordering.String()))

	r.workerPool.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.commitLoop()
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.dispatchLoop()
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.resultLoop()
	}()

	err := r.pollLoop(ctx, processFunc)

	r.logger.Info("shutting down runner")
	r.cancel()
	r.wg.Wait()
	r.workerPool.Stop()
	return err
}

// pollLoop reads messages from Kafka and registers them with the engine.
// The Kafka consumer is single-threaded by contract, so this is the only
// goroutine that calls ReadMessage.
func (r *Runner) pollLoop(ctx context.Context, processFunc ProcessFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.ctx.Done():
			return r.ctx.Err()
		default:
		}

		if r.engine.ShouldThrottle() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		msg, err := r.consumer.ReadMessage(100 * time.Millisecond)
		if err != nil {
			if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			r.logger.Warn("kafka read error", zap.Error(err))
			continue
		}

		key := ""
		if msg.Key != nil {
			key = string(msg.Key)
		}
		record := &Record{
			Topic:     *msg.TopicPartition.Topic,
			Partition: msg.TopicPartition.Partition,
			Offset:    int64(msg.TopicPartition.Offset),
			Key:       key,
			Message:   msg,
		}

		r.engine.DrainAndRegister(record)
		r.pendingProcessFunc.Store(processFunc)
	}
}

// dispatchLoop periodically asks the engine for takeable work and submits
// it to the worker pool, applying the engine's own backpressure signal
// (ShouldThrottle) rather than polling Kafka unboundedly.
func (r *Runner) dispatchLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			processFunc, _ := r.pendingProcessFunc.Load().(ProcessFunc)
			if processFunc == nil {
				continue
			}
			containers := r.engine.TakeWork(r.cfg.NumWorkers)
			for _, wc := range containers {
				job := &Job{
					Partition:   wc.Record().Partition,
					Offset:      wc.Record().Offset,
					Record:      wc.Record(),
					ProcessFunc: processFunc,
					Attempt:     wc.Attempt(),
				}
				r.containers.Store(containerKey{job.Partition, job.Offset}, wc)
				if err := r.workerPool.SubmitJob(r.ctx, job); err != nil {
					return
				}
			}
		}
	}
}

type containerKey struct {
	partition int32
	offset    int64
}

// resultLoop consumes worker results and reports success/failure back to
// the engine.
func (r *Runner) resultLoop() {
	for {
		var result *Result
		select {
		case <-r.ctx.Done():
			return
		case result = <-r.workerPool.Results():
		}
		v, ok := r.containers.LoadAndDelete(containerKey{result.Partition, result.Offset})
		if !ok {
			continue
		}
		wc := v.(*WorkContainer)

		if result.Success {
			r.engine.Success(wc)
			atomic.AddInt64(&r.statsMessagesProcessed, 1)
			if r.metrics != nil {
				r.metrics.MessagesProcessed.Inc()
			}
			continue
		}

		atomic.AddInt64(&r.statsMessagesFailed, 1)
		if r.metrics != nil {
			r.metrics.MessagesFailed.Inc()
		}
		if result.Attempt < r.cfg.MaxRetries && isRetriable(result.Error) {
			shouldHalt := r.engine.Failed(wc, result.Error)
			if shouldHalt {
				r.logger.Error("error threshold exceeded, halting runner")
				r.cancel()
			}
			continue
		}

		shouldHalt := r.engine.Failed(wc, result.Error)
		r.logger.Error("permanent message failure",
			zap.Int32("partition", result.Partition),
			zap.Int64("offset", result.Offset),
			zap.Int("attempts", result.Attempt+1),
			zap.Error(result.Error))
		if shouldHalt {
			r.logger.Error("error threshold exceeded, halting runner")
			r.cancel()
		}
	}
}

// commitLoop periodically asks the engine to plan commits and applies
// them to the broker.
func (r *Runner) commitLoop() {
	ticker := time.NewTicker(r.cfg.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.tryCommit()
			return
		case <-ticker.C:
			r.tryCommit()
			if r.metrics != nil {
				r.metrics.Observe(r.engine)
			}
		}
	}
}

func (r *Runner) tryCommit() {
	if !r.engine.IsDirty() {
		return
	}
	plans := r.engine.PlanAndAdvanceCommits()
	if len(plans) == 0 {
		return
	}

	offsets := make([]kafka.TopicPartition, 0, len(plans))
	for _, plan := range plans {
		topic := plan.TopicPartition.Topic
		offsets = append(offsets, kafka.TopicPartition{
			Topic:     &topic,
			Partition: plan.TopicPartition.Partition,
			Offset:    kafka.Offset(plan.CommitOffset),
			Metadata:  &plan.Metadata,
		})
	}

	r.logger.Info("committing offsets", zap.Int("partitions", len(offsets)))
	if _, err := r.consumer.CommitOffsets(offsets); err != nil {
		r.logger.Error("failed to commit offsets", zap.Error(err))
		return
	}
	atomic.AddInt64(&r.statsOffsetsCommitted, int64(len(offsets)))
	if r.metrics != nil {
		r.metrics.RecordCommitPlans(plans)
	}
}

// Stats returns runtime statistics.
func (r *Runner) Stats() Stats {
	r.engine.mu.RLock()
	inFlight := int(r.engine.inFlight)
	r.engine.mu.RUnlock()
	return Stats{
		MessagesProcessed: atomic.LoadInt64(&r.statsMessagesProcessed),
		MessagesFailed:    atomic.LoadInt64(&r.statsMessagesFailed),
		OffsetsCommitted:  atomic.LoadInt64(&r.statsOffsetsCommitted),
		InFlight:          inFlight,
		WorkRemaining:     r.engine.PendingWork(),
	}
}
