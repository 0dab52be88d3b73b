package parawork

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parawork/parawork/commitqueue"
	"github.com/parawork/parawork/offsetcodec"
	"github.com/parawork/parawork/shardmap"
	"go.uber.org/zap"
)

// Engine is the work manager: it owns the shard map workers take from,
// the per-partition commit queues the commit planner reads, and the
// high/low-water marks that bound both. It has no knowledge of Kafka's
// wire protocol; Runner is the collaborator that talks to the broker.
type Engine struct {
	cfg    Config
	runID  uuid.UUID
	logger *zap.Logger
	clock  Clock

	shards   *shardmap.Map[*WorkContainer]
	cursor   shardmap.Cursor
	cursorMu sync.Mutex

	mu                sync.RWMutex
	commitQueues      map[TopicPartition]*commitqueue.Queue[*WorkContainer]
	highWaterMarks    map[TopicPartition]int64
	lowWaterMarks     map[TopicPartition]int64
	incompleteOffsets map[TopicPartition]map[int64]struct{}
	dirty             bool

	inFlight     int64
	errorTracker *ErrorTracker
}

// NewEngine creates an Engine from a validated Config. Each engine gets a
// fresh run ID attached to its logger so log aggregation across restarts
// can distinguish one run's lines from another's.
func NewEngine(cfg Config) *Engine {
	runID := uuid.New()
	logger := cfg.Logger.With(zap.String("run_id", runID.String()))
	return &Engine{
		cfg:               cfg,
		runID:             runID,
		logger:            logger,
		clock:             SystemClock,
		shards:            shardmap.New[*WorkContainer](),
		commitQueues:      make(map[TopicPartition]*commitqueue.Queue[*WorkContainer]),
		highWaterMarks:    make(map[TopicPartition]int64),
		lowWaterMarks:     make(map[TopicPartition]int64),
		incompleteOffsets: make(map[TopicPartition]map[int64]struct{}),
		errorTracker:      NewErrorTracker(cfg.MaxConsecutiveErrors, logger),
	}
}

// RunID returns the engine's run identity, generated once at construction.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Logger returns the engine's logger, pre-tagged with its run ID, so
// collaborators (Runner, WorkerPool) can share one tagged logger instance.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// WithClock overrides the engine's time source, for deterministic retry
// and throttling tests.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

func (e *Engine) tp(r *Record) TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// DrainAndRegister admits a freshly polled record into the engine: it is
// inserted into its shard (keyed by the configured ordering) and into its
// partition's commit queue, and the partition high-water mark is raised
// if this is the newest offset seen (spec.md §4.3).
//
// Replay suppression (spec.md §4.1 rule 1 / invariant #2): a record whose
// offset already falls below the partition's high-water mark is only
// admitted if it's a member of the partition's restored incomplete set
// (spec.md §4.6's Assigned path); otherwise it is a redelivery of an
// already-committed offset and is dropped. Returns nil when dropped.
func (e *Engine) DrainAndRegister(r *Record) *WorkContainer {
	tp := e.tp(r)
	wc := newWorkContainer(r)

	e.mu.Lock()
	hwm := e.highWaterMarks[tp]
	_, incomplete := e.incompleteOffsets[tp][r.Offset]
	if r.Offset < hwm && !incomplete {
		e.mu.Unlock()
		e.logger.Debug("dropping replayed offset below high-water mark",
			zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition),
			zap.Int64("offset", r.Offset), zap.Int64("high_water_mark", hwm))
		return nil
	}

	queue, ok := e.commitQueues[tp]
	if !ok {
		queue = commitqueue.New[*WorkContainer]()
		e.commitQueues[tp] = queue
	}
	queue.Put(r.Offset, wc)
	e.raiseHighWaterMarkLocked(tp, r.Offset+1)
	e.dirty = true
	e.mu.Unlock()

	shardKey := ShardKey(e.cfg.Ordering, r)
	e.shards.Put(shardKey, r.Offset, wc)

	return wc
}

func (e *Engine) raiseHighWaterMarkLocked(tp TopicPartition, candidate int64) {
	if candidate > e.highWaterMarks[tp] {
		e.highWaterMarks[tp] = candidate
	}
}

// HighWaterMark returns the highest next-offset seen for a partition.
func (e *Engine) HighWaterMark(tp TopicPartition) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.highWaterMarks[tp]
}

// headOfLineBlocking reports whether the configured ordering mode blocks
// a shard's traversal at the first non-takeable container.
func (e *Engine) headOfLineBlocking() bool {
	return e.cfg.Ordering != Unordered
}

// TakeWork hands out up to budget work containers that are currently
// eligible (spec.md §3's Takeable rule), advancing the engine's fair
// resumable cursor for the configured ordering mode.
func (e *Engine) TakeWork(budget int) []*WorkContainer {
	if e.ShouldThrottle() {
		return nil
	}

	now := e.clock.Now()
	e.cursorMu.Lock()
	cursor := e.cursor
	e.cursorMu.Unlock()

	results, next := e.shards.Take(cursor, budget, e.headOfLineBlocking(),
		func(wc *WorkContainer) bool { return wc.Takeable(now) },
		func(wc *WorkContainer) { wc.take() },
	)

	e.cursorMu.Lock()
	e.cursor = next
	e.cursorMu.Unlock()

	out := make([]*WorkContainer, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	if len(out) > 0 {
		e.addInFlight(int64(len(out)))
	}
	return out
}

func (e *Engine) addInFlight(delta int64) {
	e.mu.Lock()
	e.inFlight += delta
	e.mu.Unlock()
}

// Success marks a work container's record as processed. If its ordering
// mode shards by key, the shard is dropped once it is empty to bound
// memory growth (spec.md §4.6).
func (e *Engine) Success(wc *WorkContainer) {
	wc.succeed()
	e.addInFlight(-1)
	e.errorTracker.RecordSuccess()

	r := wc.Record()
	shardKey := ShardKey(e.cfg.Ordering, r)
	if _, empty := e.shards.Remove(shardKey, r.Offset); empty && e.cfg.Ordering == Key {
		e.shards.DropShard(shardKey, false)
	}

	tp := e.tp(r)
	e.mu.Lock()
	if incomplete := e.incompleteOffsets[tp]; incomplete != nil {
		delete(incomplete, r.Offset)
	}
	e.dirty = true
	e.mu.Unlock()
}

// Failed records a failed attempt and schedules a retry via backoff: the
// container stays in its shard and becomes takeable again once the delay
// elapses, whatever its attempt count (MaxRetries is not checked here).
// It reports whether the engine's consecutive-error threshold has now
// been reached.
func (e *Engine) Failed(wc *WorkContainer, err error) (shouldHalt bool) {
	now := e.clock.Now()
	backoff := backoffForAttempt(wc.Attempt(), e.cfg.RetryBackoffBase)
	wc.fail(now, backoff)
	e.addInFlight(-1)

	r := wc.Record()
	tp := e.tp(r)
	shouldHalt = e.errorTracker.RecordError(tp, r.Offset, err)

	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
	return shouldHalt
}

// ShouldThrottle reports whether the number of in-flight work containers
// has reached MaxQueue × LoadingFactor, at which point polling more
// records would only grow memory without improving throughput (spec.md
// §4.5). Registered work that has not been taken is not counted, and
// MaxBeyondBase is not consulted.
func (e *Engine) ShouldThrottle() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	limit := float64(e.cfg.MaxQueue) * e.cfg.LoadingFactor
	return float64(e.inFlight) >= limit
}

// PendingWork returns the total number of work containers tracked across
// all shards, taken or not.
func (e *Engine) PendingWork() int {
	return e.shards.Len()
}

// HasUnprocessedWork reports whether any container is still held in a
// shard, i.e. has not succeeded (pending, in flight, or failed and
// awaiting retry).
func (e *Engine) HasUnprocessedWork() bool {
	return e.PendingWork() > 0
}

// IsClean reports whether every partition's commit queue is empty and no
// commit is pending (spec.md §9's "clean
// shutdown" notion, supplemented from the original's isClean()).
func (e *Engine) IsClean() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dirty {
		return false
	}
	for _, q := range e.commitQueues {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

// IsDirty is the negation of IsClean.
func (e *Engine) IsDirty() bool { return !e.IsClean() }

// HasCommittableOffsets reports whether any partition has advanced its
// contiguous prefix past its last committed low-water mark.
func (e *Engine) HasCommittableOffsets() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	queues := make(map[TopicPartition]*commitqueue.Queue[*WorkContainer], len(e.commitQueues))
	lowWater := make(map[TopicPartition]int64, len(e.lowWaterMarks))
	for tp, q := range e.commitQueues {
		queues[tp] = q
	}
	for tp, lw := range e.lowWaterMarks {
		lowWater[tp] = lw
	}

	for tp, q := range queues {
		plan := planPartition(tp, q, lowWater[tp])
		if plan.CommitOffset > lowWater[tp] {
			return true
		}
	}
	return false
}

// PlanAndAdvanceCommits runs the commit planner over every partition,
// removes the committed prefix from each commit queue, advances the
// low-water marks, and clears the dirty flag. Callers (Runner) are
// responsible for actually committing the returned plans to the broker;
// this method assumes that has already succeeded.
func (e *Engine) PlanAndAdvanceCommits() []PartitionPlan {
	e.mu.Lock()
	queues := make(map[TopicPartition]*commitqueue.Queue[*WorkContainer], len(e.commitQueues))
	lowWater := make(map[TopicPartition]int64, len(e.lowWaterMarks))
	for tp, q := range e.commitQueues {
		queues[tp] = q
	}
	for tp, lw := range e.lowWaterMarks {
		lowWater[tp] = lw
	}

	// Planning reads the commit queues, which DrainAndRegister writes under
	// e.mu, so the lock is held for the whole pass.
	plans := PlanCommits(queues, lowWater, DefaultMetadataBudget)

	for _, plan := range plans {
		if plan.CommitOffset <= lowWater[plan.TopicPartition] {
			continue
		}
		if q, ok := e.commitQueues[plan.TopicPartition]; ok {
			q.RemoveUpTo(plan.CommitOffset - 1)
		}
		e.lowWaterMarks[plan.TopicPartition] = plan.CommitOffset
	}
	e.dirty = false
	e.mu.Unlock()

	return plans
}

// WaitForInFlight blocks until the in-flight counter reaches zero or
// timeout elapses, used during rebalance and shutdown (grounded in the
// teacher's SequenceTracker.WaitForInflight).
func (e *Engine) WaitForInFlight(timeout time.Duration) bool {
	deadline := e.clock.Now().Add(timeout)
	for {
		e.mu.RLock()
		n := e.inFlight
		e.mu.RUnlock()
		if n <= 0 {
			return true
		}
		if e.clock.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// restoreIncompleteSet re-admits the incomplete offsets decoded from a
// partition's committed metadata, so a newly assigned consumer retries
// exactly the records its predecessor hadn't finished (spec.md §4.7,
// supplemented from WorkManager.onPartitionsAssigned).
func (e *Engine) restoreIncompleteSet(tp TopicPartition, nextExpectedOffset int64, incomplete []int64, fetch func(offset int64) (*Record, bool)) {
	set := make(map[int64]struct{}, len(incomplete))
	for _, offset := range incomplete {
		set[offset] = struct{}{}
	}

	e.mu.Lock()
	e.lowWaterMarks[tp] = nextExpectedOffset
	e.raiseHighWaterMarkLocked(tp, nextExpectedOffset)
	e.incompleteOffsets[tp] = set
	e.mu.Unlock()

	for _, offset := range incomplete {
		if r, ok := fetch(offset); ok {
			e.DrainAndRegister(r)
		}
	}
}

// decodeCommittedMetadata is a thin wrapper around offsetcodec.DecodeBase64
// used by rebalance handling, kept here so Engine owns its one dependency
// on the codec's error types.
func decodeCommittedMetadata(base int64, metadata string) (int64, []int64, error) {
	if metadata == "" {
		return base, nil, nil
	}
	next, incomplete, err := offsetcodec.DecodeBase64(base, metadata)
	if err != nil {
		return base, nil, err
	}
	return next, incomplete, nil
}
