// Package notify publishes job completion events to a Redis stream so
// other processes can follow a run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jward/paddock/internal/job"
)

// Event types.
const (
	TypeJobCompleted     = "job_completed"
	TypeAllJobsCompleted = "all_jobs_completed"
)

// Event is the JSON document stored in each stream entry's data field.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	Job       string    `json:"job,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Finished  int       `json:"finished,omitempty"`
	Total     int       `json:"total,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	Skipped   []string  `json:"skipped,omitempty"`
}

// StreamPublisher implements job.Listener by appending events to a Redis
// stream. Listener calls run on the runner's aggregator, so the first
// failure is logged and every later event of the run is dropped.
type StreamPublisher struct {
	client  *redis.Client
	stream  string
	runID   string
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
	down    atomic.Bool
}

var _ job.Listener = (*StreamPublisher)(nil)

// NewStreamPublisher creates a publisher for one run.
func NewStreamPublisher(client *redis.Client, stream, runID string, logger *zap.Logger) *StreamPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamPublisher{
		client:  client,
		stream:  stream,
		runID:   runID,
		logger:  logger,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

func (p *StreamPublisher) JobCompleted(c job.Completed) {
	ev := p.event(TypeJobCompleted)
	ev.Job = c.Name
	ev.Success = c.Success
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	ev.ElapsedMS = c.Elapsed.Milliseconds()
	ev.Finished = c.Finished
	ev.Total = c.Total
	p.publish(ev)
}

func (p *StreamPublisher) AllJobsCompleted(s job.Summary) {
	ev := p.event(TypeAllJobsCompleted)
	ev.Success = !s.Failed()
	ev.ElapsedMS = s.Elapsed.Milliseconds()
	ev.Total = len(s.Results) + len(s.Skipped)
	ev.Finished = len(s.Results)
	ev.Failed = s.Failures()
	for _, err := range s.Errors {
		ev.Errors = append(ev.Errors, err.Error())
	}
	ev.Skipped = s.Skipped
	p.publish(ev)
}

func (p *StreamPublisher) event(typ string) Event {
	return Event{
		ID:    uuid.NewString(),
		RunID: p.runID,
		Type:  typ,
		Time:  p.now().UTC(),
	}
}

func (p *StreamPublisher) publish(ev Event) {
	if p.down.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		p.down.Store(true)
		p.logger.Warn("failed to publish job event, dropping the rest of the run",
			zap.String("type", ev.Type),
			zap.String("job", ev.Job),
			zap.Error(err))
	}
}

// Publish appends ev to the stream.
func (p *StreamPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type": ev.Type,
			"data": string(data),
		},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	p.logger.Debug("event published",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("stream", p.stream))
	return nil
}

// Read returns every event in stream, oldest first.
func Read(ctx context.Context, client *redis.Client, stream string) ([]Event, error) {
	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid message format in %s", m.ID)
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", m.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
