package parawork_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parawork/parawork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_ProcessesJobs(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	wp := parawork.NewWorkerPool(4, 10, 10, logger)
	wp.Start()
	defer wp.Stop()

	var processed int64
	processFunc := func(ctx context.Context, r *parawork.Record) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		job := &parawork.Job{
			Partition:   0,
			Offset:      int64(i),
			Record:      &parawork.Record{Topic: "t", Partition: 0, Offset: int64(i)},
			ProcessFunc: processFunc,
		}
		require.NoError(t, wp.SubmitJob(ctx, job))
	}

	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < 20 {
		select {
		case <-wp.Results():
			seen++
		case <-deadline:
			t.Fatalf("timed out waiting for results, got %d/20", seen)
		}
	}
	assert.Equal(t, int64(20), atomic.LoadInt64(&processed))
}

func TestWorkerPool_ErrorResultCarriesError(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	wp := parawork.NewWorkerPool(1, 1, 1, logger)
	wp.Start()
	defer wp.Stop()

	boom := errors.New("boom")
	job := &parawork.Job{
		Record:      &parawork.Record{Topic: "t", Partition: 0, Offset: 0},
		ProcessFunc: func(ctx context.Context, r *parawork.Record) error { return boom },
	}
	require.NoError(t, wp.SubmitJob(context.Background(), job))

	select {
	case result := <-wp.Results():
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Error, boom)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestWorkerPool_PanicIsRecoveredAsUserFunctionFailure(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	wp := parawork.NewWorkerPool(1, 1, 1, logger)
	wp.Start()
	defer wp.Stop()

	job := &parawork.Job{
		Record:      &parawork.Record{Topic: "t", Partition: 0, Offset: 0},
		ProcessFunc: func(ctx context.Context, r *parawork.Record) error { panic("kaboom") },
	}
	require.NoError(t, wp.SubmitJob(context.Background(), job))

	select {
	case result := <-wp.Results():
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Error, parawork.ErrUserFunctionFailure)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}
