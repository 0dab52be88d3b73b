package parawork

import (
	"github.com/parawork/parawork/commitqueue"
	"github.com/parawork/parawork/offsetcodec"
)

// DefaultMetadataBudget is the total UTF-8 character budget across every
// partition's commit metadata in one commit call (spec.md §4.4), inherited
// from the offset-map codec's own Kafka-imposed limit.
const DefaultMetadataBudget = offsetcodec.DefaultMaxMetadataSizeChars

// PartitionPlan is one partition's commit decision: the offset to commit
// (exclusive, i.e. "next record to read") and the incomplete offsets still
// outstanding above it, encoded as wire metadata once the budget check
// passes.
type PartitionPlan struct {
	TopicPartition TopicPartition
	CommitOffset   int64
	Incomplete     []int64
	Metadata       string
	CodecFormat    offsetcodec.Format
}

// planPartition is the pure, gap.go-style scan: it walks a partition's
// commit queue in ascending offset order, tracking the highest fully
// contiguous prefix (commitCandidate) and every incomplete offset seen
// past the low-water mark. It never mutates the queue; callers decide
// whether and how much to prune with RemoveUpTo.
//
// lowWaterMark is the partition's last committed offset (exclusive): the
// queue is expected to hold only entries at or above it. The offset-map
// metadata is encoded relative to the new commit offset itself.
func planPartition(tp TopicPartition, queue *commitqueue.Queue[*WorkContainer], lowWaterMark int64) PartitionPlan {
	commitCandidate := lowWaterMark
	pastLowWater := false
	var incomplete []int64

	for _, entry := range queue.Ascend() {
		offset := entry.Offset
		if offset < lowWaterMark {
			continue
		}
		pastLowWater = true

		if entry.Value.Succeeded() {
			if offset == commitCandidate {
				commitCandidate = offset + 1
			}
			continue
		}

		// Not yet succeeded: either still in flight, pending a retry, or
		// terminally failed. Either way it blocks the contiguous prefix
		// from advancing past it and must be recorded as incomplete.
		incomplete = append(incomplete, offset)
	}

	commitOffset := commitCandidate
	if len(incomplete) > 0 && incomplete[0] < commitOffset {
		// Shouldn't happen given the scan above, but guards against a
		// commit offset that would re-deliver an incomplete record.
		commitOffset = incomplete[0]
	}

	plan := PartitionPlan{
		TopicPartition: tp,
		CommitOffset:   commitOffset,
		Incomplete:     incomplete,
	}
	if !pastLowWater {
		return plan
	}

	if len(incomplete) > 0 {
		payload, format, err := offsetcodec.EncodeBase64(commitOffset, highestIncompletePlusOne(incomplete), toIncompleteSet(incomplete))
		if err == nil {
			plan.Metadata = payload
			plan.CodecFormat = format
		}
	}
	return plan
}

// PlanCommits runs planPartition over every partition's queue, then
// enforces the total metadata budget across all of them: if the summed
// metadata length would exceed maxMetadataChars, every partition's
// metadata is stripped (spec.md §4.4 "fail safe by omission" rule) while
// the commit offsets themselves are left untouched.
func PlanCommits(queues map[TopicPartition]*commitqueue.Queue[*WorkContainer], lowWaterMarks map[TopicPartition]int64, maxMetadataChars int) []PartitionPlan {
	plans := make([]PartitionPlan, 0, len(queues))
	total := 0
	for tp, queue := range queues {
		plan := planPartition(tp, queue, lowWaterMarks[tp])
		plans = append(plans, plan)
		total += len(plan.Metadata)
	}

	if maxMetadataChars > 0 && total > maxMetadataChars {
		for i := range plans {
			plans[i].Metadata = ""
			plans[i].CodecFormat = 0
		}
	}
	return plans
}

func toIncompleteSet(offsets []int64) map[int64]struct{} {
	s := make(map[int64]struct{}, len(offsets))
	for _, o := range offsets {
		s[o] = struct{}{}
	}
	return s
}

func highestIncompletePlusOne(offsets []int64) int64 {
	max := offsets[0]
	for _, o := range offsets[1:] {
		if o > max {
			max = o
		}
	}
	return max + 1
}
