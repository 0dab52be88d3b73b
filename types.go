package parawork

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Ordering selects how records are sharded for parallel processing.
type Ordering int

const (
	// Unordered shards by (topic, partition) but never blocks on head-of-line:
	// every takeable container in a shard is taken in one pass.
	Unordered Ordering = iota
	// Partition shards by (topic, partition) and blocks at the first
	// non-takeable container in a shard (head-of-line blocking).
	Partition
	// Key shards by the record key and blocks at the first non-takeable
	// container in a shard.
	Key
)

func (o Ordering) String() string {
	switch o {
	case Unordered:
		return "unordered"
	case Partition:
		return "partition"
	case Key:
		return "key"
	default:
		return "unknown"
	}
}

// UnmarshalText lets Ordering be loaded from a YAML/env string value
// (e.g. "key") via koanf/mapstructure's text-unmarshaler hook.
func (o *Ordering) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unordered":
		*o = Unordered
	case "partition":
		*o = Partition
	case "key":
		*o = Key
	default:
		return fmt.Errorf("parawork: unknown ordering %q", text)
	}
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (o Ordering) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Record is the unit of work the engine tracks: (topic, partition, offset)
// plus the underlying broker message and a caller-supplied key used for
// Key-ordering mode.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Message   *kafka.Message
}

// ShardKey computes the routing key for a record under the given ordering.
func ShardKey(ordering Ordering, r *Record) any {
	switch ordering {
	case Key:
		return r.Key
	default: // Unordered, Partition
		return TopicPartition{r.Topic, r.Partition}
	}
}

// TopicPartition is the shard/commit-queue key for Unordered and Partition
// ordering modes.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// ProcessFunc is the user-defined function that processes one record.
// The executor that calls it is an external collaborator (see spec.md
// §1 Out of scope); the engine only tracks the outcome it reports back
// via Success/Failed.
type ProcessFunc func(context.Context, *Record) error

// Job is a unit of dispatched work handed to a worker goroutine by Runner.
type Job struct {
	Partition   int32
	Offset      int64
	Record      *Record
	ProcessFunc ProcessFunc
	Attempt     int
}

// Result is the outcome of processing a Job, reported back to the engine.
type Result struct {
	Partition int32
	Offset    int64
	Success   bool
	Error     error
	Attempt   int
	Job       *Job
}

// CommitEntry is one partition's emitted commit: the next offset to read,
// plus optional base64-encoded incomplete-offset metadata.
type CommitEntry struct {
	Offset   int64
	Metadata string
}

// Stats summarizes runtime state, as returned by Runner.Stats.
type Stats struct {
	MessagesProcessed int64
	MessagesFailed    int64
	OffsetsCommitted  int64
	InFlight          int
	WorkRemaining     int
}
