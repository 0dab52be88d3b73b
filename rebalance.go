package parawork

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/parawork/parawork/commitqueue"
	"go.uber.org/zap"
)

// CommittedOffsetFetcher looks up the last committed offset and metadata
// for a partition, so Assigned can restore its incomplete set. The
// cmd/parawork binary implements this via the consumer's Committed() call.
type CommittedOffsetFetcher func(tp TopicPartition) (offset int64, metadata string, ok error)

// RecordFetcher re-reads a single previously-seen record by offset, used
// to re-admit incomplete offsets restored from commit metadata. No real
// fetch exists in this module: the cmd/parawork binary passes one that
// always reports false.
type RecordFetcher func(tp TopicPartition, offset int64) (*Record, bool)

// Assigned handles newly assigned partitions: it seeds each partition's
// low-water mark from its last committed offset and, if that commit
// carried offset-map metadata, restores the incomplete set so those
// records are retried rather than silently skipped (spec.md §4.7,
// supplemented from WorkManager.onPartitionsAssigned).
func (e *Engine) Assigned(partitions []TopicPartition, fetchCommitted CommittedOffsetFetcher, fetchRecord RecordFetcher) {
	for _, tp := range partitions {
		committed, metadata, err := fetchCommitted(tp)
		if err != nil {
			e.logger.Warn("failed to fetch committed offset on assignment",
				zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition), zap.Error(err))
			continue
		}

		nextExpected, incomplete, decodeErr := decodeCommittedMetadata(committed, metadata)
		if decodeErr != nil {
			e.logger.Error("corrupt offset map on assignment, dropping incomplete set",
				zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition), zap.Error(decodeErr))
			nextExpected, incomplete = committed, nil
		}

		e.logger.Info("partition assigned",
			zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition),
			zap.Int64("committed", committed), zap.Int("restored_incomplete", len(incomplete)))

		e.restoreIncompleteSet(tp, nextExpected, incomplete, func(offset int64) (*Record, bool) {
			return fetchRecord(tp, offset)
		})
	}
}

// Revoked handles cooperative revocation: for each revoked partition it
// waits up to shutdownTimeout for the engine's in-flight count to reach
// zero, then drops the partitions' tracked state. The in-flight count
// covers every partition, not only the revoked ones, and Revoked does not
// commit anything itself. Returns the partitions for which that wait
// timed out.
func (e *Engine) Revoked(partitions []TopicPartition, shutdownTimeout time.Duration) (timedOut []TopicPartition) {
	for _, tp := range partitions {
		e.logger.Info("partition revoked, waiting for inflight work",
			zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition))
		if !e.WaitForInFlight(shutdownTimeout) {
			e.logger.Error("timed out waiting for inflight work during revoke",
				zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition))
			timedOut = append(timedOut, tp)
		}
	}
	e.dropPartitions(partitions)
	return timedOut
}

// Lost handles involuntary loss (spec.md's supplemented path, distinct
// from Revoked per WorkManager.onPartitionsLost): the engine no longer
// owns these partitions at all, so there is no final commit to attempt
// and in-flight work is abandoned rather than waited on — any successful
// result that arrives afterward is a no-op (WorkContainer.succeed is
// idempotent).
func (e *Engine) Lost(partitions []TopicPartition) {
	for _, tp := range partitions {
		e.logger.Warn("partition lost",
			zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition))
	}
	e.dropPartitions(partitions)
}

func (e *Engine) dropPartitions(partitions []TopicPartition) {
	e.mu.Lock()
	queues := make(map[TopicPartition]*commitqueue.Queue[*WorkContainer], len(partitions))
	for _, tp := range partitions {
		if q, ok := e.commitQueues[tp]; ok {
			queues[tp] = q
		}
		delete(e.commitQueues, tp)
		delete(e.highWaterMarks, tp)
		delete(e.lowWaterMarks, tp)
		delete(e.incompleteOffsets, tp)
	}
	e.mu.Unlock()

	if e.cfg.Ordering != Key {
		// Unordered/Partition shard keys are exactly the TopicPartition,
		// so they can be dropped directly.
		for _, tp := range partitions {
			e.shards.DropShard(TopicPartition(tp), true)
		}
		return
	}

	// Key-mode shards aren't addressable by partition: scan each revoked
	// partition's commit queue (captured above, before deletion) and erase
	// the matching shard entries so they don't stay reachable/takeable
	// after their partition is no longer owned (spec.md §4.6).
	for _, q := range queues {
		for _, entry := range q.Ascend() {
			r := entry.Value.Record()
			shardKey := ShardKey(e.cfg.Ordering, r)
			if _, empty := e.shards.Remove(shardKey, r.Offset); empty {
				e.shards.DropShard(shardKey, false)
			}
		}
	}
}

// RebalanceCallback builds a kafka.RebalanceCb that drives the engine's
// Assigned/Revoked/Lost handlers from confluent-kafka-go's rebalance
// events. Install it via kafka.ConfigMap{"go.application.rebalance.enable": true}
// and consumer.Subscribe(topics, cb).
func (e *Engine) RebalanceCallback(shutdownTimeout time.Duration, fetchCommitted CommittedOffsetFetcher, fetchRecord RecordFetcher) kafka.RebalanceCb {
	return func(c *kafka.Consumer, event kafka.Event) error {
		switch ev := event.(type) {
		case kafka.AssignedPartitions:
			e.Assigned(kafkaTopicPartitions(ev.Partitions), fetchCommitted, fetchRecord)
			return c.Assign(ev.Partitions)

		case kafka.RevokedPartitions:
			// confluent-kafka-go folds "lost" into the same event type:
			// c.AssignmentLost() reports whether the assignment was
			// lost involuntarily rather than cleanly revoked (spec.md's
			// supplemented distinction between onPartitionsRevoked and
			// onPartitionsLost).
			if c.AssignmentLost() {
				e.Lost(kafkaTopicPartitions(ev.Partitions))
			} else {
				e.Revoked(kafkaTopicPartitions(ev.Partitions), shutdownTimeout)
			}
			return c.Unassign()
		}
		return nil
	}
}

// kafkaTopicPartitions converts confluent-kafka-go's rebalance event
// partitions into the engine's own TopicPartition type.
func kafkaTopicPartitions(partitions []kafka.TopicPartition) []TopicPartition {
	out := make([]TopicPartition, len(partitions))
	for i, p := range partitions {
		topic := ""
		if p.Topic != nil {
			topic = *p.Topic
		}
		out[i] = TopicPartition{Topic: topic, Partition: p.Partition}
	}
	return out
}
