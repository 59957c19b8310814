package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerCancelStopsTask(t *testing.T) {
	r := NewRunner(context.Background())
	stopped := make(chan struct{})
	cancel := r.Go("wait", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
	r.Shutdown()
	assert.Zero(t, r.Running())
}

func TestRunnerShutdownWaitsAndSurvivesPanics(t *testing.T) {
	r := NewRunner(context.Background())
	var done atomic.Int32
	for i := 0; i < 3; i++ {
		r.Go("loop", func(ctx context.Context) {
			<-ctx.Done()
			done.Add(1)
		})
	}
	r.Go("boom", func(context.Context) { panic("boom") })

	r.Shutdown()
	assert.Equal(t, int32(3), done.Load())
	assert.Zero(t, r.Running())
}

func TestSchedulerAfterRunsOnce(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	defer s.Shutdown()

	fired := make(chan struct{}, 2)
	require.NoError(t, s.After("once", 20*time.Millisecond, func() { fired <- struct{}{} }))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
	select {
	case <-fired:
		t.Fatal("one-time job fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))
}
