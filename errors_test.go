package parawork_test

import (
	"errors"
	"testing"

	"github.com/parawork/parawork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestErrorTracker_HaltsAtThreshold(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	et := parawork.NewErrorTracker(3, logger)
	tp := parawork.TopicPartition{Topic: "t", Partition: 0}
	testErr := errors.New("boom")

	assert.False(t, et.RecordError(tp, 0, testErr))
	assert.False(t, et.RecordError(tp, 1, testErr))
	assert.True(t, et.RecordError(tp, 2, testErr), "third consecutive error should hit the threshold")

	consecutive, total := et.Stats()
	assert.Equal(t, 3, consecutive)
	assert.Equal(t, int64(3), total)
}

func TestErrorTracker_SuccessResetsConsecutiveCount(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	et := parawork.NewErrorTracker(3, logger)
	tp := parawork.TopicPartition{Topic: "t", Partition: 0}
	testErr := errors.New("boom")

	et.RecordError(tp, 0, testErr)
	et.RecordError(tp, 1, testErr)
	et.RecordSuccess()

	consecutive, total := et.Stats()
	assert.Zero(t, consecutive)
	assert.Equal(t, int64(2), total, "lifetime total is not reset by success")

	assert.False(t, et.RecordError(tp, 2, testErr), "counter restarted after the reset")
}

func TestErrorTracker_ZeroMaxConsecutiveNeverHalts(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	et := parawork.NewErrorTracker(0, logger)
	tp := parawork.TopicPartition{Topic: "t", Partition: 0}
	testErr := errors.New("boom")

	for i := 0; i < 100; i++ {
		assert.False(t, et.RecordError(tp, int64(i), testErr))
	}
}
