package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jward/paddock/internal/job"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStreamPublisher_JobCompleted(t *testing.T) {
	t.Parallel()
	_, client := setup(t)
	p := NewStreamPublisher(client, "paddock:jobs", "run-1", nil)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.JobCompleted(job.Completed{Name: "Wheat", Success: true, Elapsed: 1500 * time.Millisecond, Finished: 1, Total: 2})
	p.JobCompleted(job.Completed{Name: "Barley", Err: errors.New("no clock"), Finished: 2, Total: 2})

	events, err := Read(context.Background(), client, "paddock:jobs")
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, TypeJobCompleted, first.Type)
	assert.Equal(t, "Wheat", first.Job)
	assert.True(t, first.Success)
	assert.Equal(t, int64(1500), first.ElapsedMS)
	assert.True(t, first.Time.Equal(fixed))

	assert.False(t, events[1].Success)
	assert.Equal(t, "no clock", events[1].Error)
	assert.NotEqual(t, first.ID, events[1].ID)
}

func TestStreamPublisher_AllJobsCompleted(t *testing.T) {
	t.Parallel()
	_, client := setup(t)
	p := NewStreamPublisher(client, "jobs", "run-2", nil)

	p.AllJobsCompleted(job.Summary{
		Results: []job.Result{{Name: "A"}, {Name: "B", Err: errors.New("boom")}},
		Errors:  []error{errors.New("B: boom")},
		Skipped: []string{"C"},
		Elapsed: time.Second,
	})

	events, err := Read(context.Background(), client, "jobs")
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, TypeAllJobsCompleted, ev.Type)
	assert.False(t, ev.Success)
	assert.Equal(t, 3, ev.Total)
	assert.Equal(t, 2, ev.Finished)
	assert.Equal(t, 1, ev.Failed)
	assert.Equal(t, []string{"B: boom"}, ev.Errors)
	assert.Equal(t, []string{"C"}, ev.Skipped)
}

func TestStreamPublisher_FailureIsLogged(t *testing.T) {
	t.Parallel()
	mr, client := setup(t)
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewStreamPublisher(client, "jobs", "run-3", zap.New(core))
	p.timeout = 200 * time.Millisecond

	mr.Close()
	p.JobCompleted(job.Completed{Name: "Wheat", Success: true})

	require.Equal(t, 1, logs.FilterMessage("failed to publish job event, dropping the rest of the run").Len())
}

func TestStreamPublisher_DropsEventsAfterFailure(t *testing.T) {
	t.Parallel()
	mr, client := setup(t)
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewStreamPublisher(client, "jobs", "run-4", zap.New(core))
	p.timeout = time.Hour

	mr.Close()
	p.JobCompleted(job.Completed{Name: "A", Success: true})

	start := time.Now()
	for _, name := range []string{"B", "C", "D"} {
		p.JobCompleted(job.Completed{Name: name, Success: true})
	}
	p.AllJobsCompleted(job.Summary{})
	assert.Less(t, time.Since(start), time.Second, "later events never reach redis")
	assert.Equal(t, 1, logs.Len())
}

func TestRead_RejectsForeignEntries(t *testing.T) {
	t.Parallel()
	_, client := setup(t)
	ctx := context.Background()
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "jobs",
		Values: map[string]interface{}{"other": "x"},
	}).Err())

	_, err := Read(ctx, client, "jobs")
	require.Error(t, err)
}
