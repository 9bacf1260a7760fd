package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordedRun struct {
	job     string
	success bool
}

type stubRecorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (r *stubRecorder) RecordJobRun(job string, _ time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{job: job, success: success})
}

func TestAddValidatesJobs(t *testing.T) {
	s := New(Config{})
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, s.Add(Job{Schedule: EveryMinute, Run: noop}), ErrInvalidJob)
	assert.ErrorIs(t, s.Add(Job{Name: "a", Run: noop}), ErrInvalidJob)
	assert.ErrorIs(t, s.Add(Job{Name: "a", Schedule: EveryMinute}), ErrInvalidJob)
	assert.ErrorIs(t, s.Add(Job{Name: "a", Schedule: "not a schedule", Run: noop}), ErrInvalidJob)

	require.NoError(t, s.Add(Job{Name: "a", Schedule: "0 3 * * *", Run: noop}))
	assert.ErrorIs(t, s.Add(Job{Name: "a", Schedule: EveryMinute, Run: noop}), ErrInvalidJob)
	assert.Equal(t, 1, s.Jobs())
}

func TestRunNowRecordsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	recorder := &stubRecorder{}
	s := New(Config{Logger: zap.New(core), Recorder: recorder})

	swept := 0
	require.NoError(t, s.Add(SweepJob("sweep_states", EveryMinute, zap.New(core), func() int {
		swept++
		return 2
	})))
	require.NoError(t, s.Add(Job{Name: "clean_sessions", Schedule: EveryMinute, Run: func(context.Context) error {
		return errors.New("database locked")
	}}))

	require.NoError(t, s.RunNow(context.Background(), "sweep_states"))
	assert.Error(t, s.RunNow(context.Background(), "clean_sessions"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)

	assert.Equal(t, 1, swept)
	assert.Equal(t, []recordedRun{{job: "sweep_states", success: true}, {job: "clean_sessions", success: false}}, recorder.runs)
	assert.Equal(t, 1, logs.FilterMessage("expired entries swept").Len())
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())
}

func TestStartAndStop(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Add(Job{Name: "noop", Schedule: EveryMinute, Run: func(context.Context) error { return nil }}))
	s.Start(context.Background())
	s.Stop()
}
