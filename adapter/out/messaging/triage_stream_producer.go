// Package messaging provides message queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"triage_server/core/port/out"
)

// Stream names
const (
	StreamTriageBatch = "triage:batches"
	deadLetterPrefix  = "dlq:"
	dataField         = "data"
)

// StreamLauncher hands batch jobs to worker processes over a Redis stream.
type StreamLauncher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamLauncher creates a launcher. maxLen caps the stream length
// (approximate trimming); zero leaves it unbounded.
func NewStreamLauncher(client redis.UniversalClient, maxLen int64) *StreamLauncher {
	return &StreamLauncher{client: client, stream: StreamTriageBatch, maxLen: maxLen}
}

// Launch publishes the job. It returns once the job is durably queued.
func (p *StreamLauncher) Launch(ctx context.Context, job *out.BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal batch job: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{dataField: data, "session_id": job.SessionID},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return nil
}

var _ out.BatchLauncher = (*StreamLauncher)(nil)
