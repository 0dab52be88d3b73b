package parawork

import (
	"testing"

	"github.com/parawork/parawork/commitqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerAt(offset int64) *WorkContainer {
	return newWorkContainer(&Record{Topic: "t", Partition: 0, Offset: offset})
}

// TestPlanPartition_OutOfOrderCompletion walks records 0..4 completing out
// of order and checks the commit offset and incomplete set after each step,
// mirroring the out-of-order scenario from spec.md §8.
func TestPlanPartition_OutOfOrderCompletion(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	queue := commitqueue.New[*WorkContainer]()
	containers := make(map[int64]*WorkContainer, 5)
	for o := int64(0); o <= 4; o++ {
		c := containerAt(o)
		containers[o] = c
		queue.Put(o, c)
	}

	steps := []struct {
		completeOffset int64
		wantCommit     int64
		wantIncomplete []int64
	}{
		{1, 0, []int64{0, 2, 3, 4}}, // 1 done out of order: 0 still blocks the prefix
		{0, 2, []int64{2, 3, 4}},    // 0 and 1 both done: commit jumps to 2
		{3, 2, []int64{2, 4}},       // 3 done out of order: 2 still blocks the prefix
		{2, 4, []int64{4}},          // 2 done: commit catches up through 3
		{4, 5, nil},                 // everything done
	}

	for i, step := range steps {
		containers[step.completeOffset].succeed()
		plan := planPartition(tp, queue, 0)
		assert.Equalf(t, step.wantCommit, plan.CommitOffset, "step %d: commit offset after completing %d", i, step.completeOffset)
		assert.ElementsMatchf(t, step.wantIncomplete, plan.Incomplete, "step %d: incomplete set after completing %d", i, step.completeOffset)
	}
}

func TestPlanPartition_EmptyQueueYieldsLowWaterMark(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	queue := commitqueue.New[*WorkContainer]()
	plan := planPartition(tp, queue, 42)
	assert.Equal(t, int64(42), plan.CommitOffset)
	assert.Empty(t, plan.Incomplete)
	assert.Empty(t, plan.Metadata)
}

func TestPlanPartition_MetadataEncodesIncompleteSet(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	queue := commitqueue.New[*WorkContainer]()
	for o := int64(0); o <= 5; o++ {
		c := containerAt(o)
		if o != 3 {
			c.succeed()
		}
		queue.Put(o, c)
	}

	plan := planPartition(tp, queue, 0)
	assert.Equal(t, int64(3), plan.CommitOffset)
	assert.Equal(t, []int64{3}, plan.Incomplete)
	assert.NotEmpty(t, plan.Metadata)
}

// TestPlanCommits_MetadataBudgetStripsAllOnOverflow covers spec.md §4.4:
// when the summed metadata across many partitions would exceed the
// budget, every partition's metadata is stripped, not just the largest.
func TestPlanCommits_MetadataBudgetStripsAllOnOverflow(t *testing.T) {
	const numPartitions = 200
	queues := make(map[TopicPartition]*commitqueue.Queue[*WorkContainer], numPartitions)
	lowWater := make(map[TopicPartition]int64, numPartitions)

	// Offsets 0..200 with every odd offset pending: each partition commits
	// at 1 and its bitset metadata is 40 base64 characters, 8000 in total,
	// well over the 4096-character budget.
	for p := int32(0); p < numPartitions; p++ {
		tp := TopicPartition{Topic: "t", Partition: p}
		queue := commitqueue.New[*WorkContainer]()
		for o := int64(0); o <= 200; o++ {
			c := containerAt(o)
			if o%2 == 0 {
				c.succeed()
			}
			queue.Put(o, c)
		}
		queues[tp] = queue
		lowWater[tp] = 0
	}

	plans := PlanCommits(queues, lowWater, DefaultMetadataBudget)
	require.Len(t, plans, numPartitions)

	total := 0
	for _, p := range plans {
		total += len(p.Metadata)
	}
	assert.Zero(t, total, "metadata should be stripped from every partition once the combined budget overflows")

	for _, p := range plans {
		assert.NotZero(t, p.CommitOffset, "commit offsets are preserved even when metadata is stripped")
	}
}

func TestPlanCommits_UnderBudgetKeepsMetadata(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	queue := commitqueue.New[*WorkContainer]()
	for o := int64(0); o <= 3; o++ {
		c := containerAt(o)
		if o != 2 {
			c.succeed()
		}
		queue.Put(o, c)
	}
	queues := map[TopicPartition]*commitqueue.Queue[*WorkContainer]{tp: queue}
	lowWater := map[TopicPartition]int64{tp: 0}

	plans := PlanCommits(queues, lowWater, DefaultMetadataBudget)
	require.Len(t, plans, 1)
	assert.NotEmpty(t, plans[0].Metadata)
}
