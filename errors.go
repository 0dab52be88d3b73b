package parawork

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// The error categories are the taxonomy from spec.md §7: everything
// outside of a corrupt offset map (offsetcodec.ErrCorruptOffsetMap) is
// recoverable by the engine itself, without operator intervention.
var (
	// ErrRebalanceHandlerFailure names a failure inside a rebalance
	// handler (Assigned/Revoked/Lost). No code in this package returns or
	// wraps it: the handlers log their failures and carry on.
	ErrRebalanceHandlerFailure = errors.New("parawork: rebalance handler failed")

	// ErrUserFunctionFailure wraps a panic recovered from a ProcessFunc.
	// The work container is still marked failed and retried like any
	// other processing error.
	ErrUserFunctionFailure = errors.New("parawork: process function panicked")

	// ErrShuttingDown reports that the engine is shutting down. No function
	// in this package returns it: TakeWork has no error result, and
	// WorkerPool.SubmitJob returns the context's error once cancelled.
	ErrShuttingDown = errors.New("parawork: engine is shutting down")
)

// ErrorTracker halts processing once too many consecutive failures
// accumulate, independent of any one work container's own retry policy.
// It exists to catch systemic failures (a downstream dependency down,
// a poison message shape) that per-record backoff won't fix.
type ErrorTracker struct {
	mu                sync.Mutex
	consecutiveErrors int
	maxConsecutive    int
	totalErrors       int64
	logger            *zap.Logger
}

// NewErrorTracker creates a new error tracker. A maxConsecutive of 0
// disables the halt check entirely.
func NewErrorTracker(maxConsecutive int, logger *zap.Logger) *ErrorTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorTracker{
		maxConsecutive: maxConsecutive,
		logger:         logger,
	}
}

// RecordError records a failure and reports whether the tracker's
// consecutive-error threshold has now been reached.
func (et *ErrorTracker) RecordError(tp TopicPartition, offset int64, err error) bool {
	et.mu.Lock()
	defer et.mu.Unlock()

	et.consecutiveErrors++
	et.totalErrors++

	shouldHalt := et.maxConsecutive > 0 && et.consecutiveErrors >= et.maxConsecutive

	if shouldHalt {
		et.logger.Error("consecutive error threshold exceeded, halting",
			zap.Int("consecutive_errors", et.consecutiveErrors),
			zap.Int("max_consecutive", et.maxConsecutive),
			zap.Int64("total_errors", et.totalErrors),
			zap.String("topic", tp.Topic),
			zap.Int32("partition", tp.Partition),
			zap.Int64("offset", offset),
			zap.Error(err))
	} else {
		et.logger.Warn("processing error",
			zap.Int("consecutive_errors", et.consecutiveErrors),
			zap.String("topic", tp.Topic),
			zap.Int32("partition", tp.Partition),
			zap.Int64("offset", offset),
			zap.Error(err))
	}

	return shouldHalt
}

// RecordSuccess resets the consecutive-error counter.
func (et *ErrorTracker) RecordSuccess() {
	et.mu.Lock()
	defer et.mu.Unlock()

	if et.consecutiveErrors > 0 {
		et.logger.Debug("resetting consecutive error counter",
			zap.Int("was", et.consecutiveErrors))
		et.consecutiveErrors = 0
	}
}

// Stats returns the current consecutive and lifetime error counts.
func (et *ErrorTracker) Stats() (consecutive int, total int64) {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.consecutiveErrors, et.totalErrors
}
