// Package redisstream publishes stream.Event values to a per-session Redis
// pub/sub channel. It replaces the teacher's Pulse-backed sink
// (features/stream/pulse/sink.go): Pulse itself is a goa.design-internal
// library layered on Redis, not an independently fetchable dependency, so
// this kernel talks to Redis directly via go-redis/v9 while keeping the
// teacher's envelope-publish shape (wrap the event, marshal JSON, publish,
// invoke an optional post-publish hook).
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldnote-ai/homeagent/internal/stream"
)

// Envelope wraps a stream.Event for transmission over a Redis channel.
type Envelope struct {
	Type          stream.EventType `json:"type"`
	SessionID     string           `json:"session_id"`
	InteractionID string           `json:"interaction_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Payload       any              `json:"payload"`
}

// ChannelFunc derives the Redis pub/sub channel name for an event. The
// default is "homeagent/session/<session_id>" so subscribers can fan out
// per session without a shared firehose channel.
type ChannelFunc func(stream.Event) string

func defaultChannel(e stream.Event) string {
	return fmt.Sprintf("homeagent/session/%s", e.Session())
}

// Sink publishes events to Redis. Safe for concurrent Send calls; ordering
// per session is the caller's responsibility (spec §5: "single writer per
// session"), since Redis PUBLISH does not itself serialize concurrent
// publishers.
type Sink struct {
	client  *redis.Client
	channel ChannelFunc
}

// Option configures a Sink.
type Option func(*Sink)

// WithChannelFunc overrides the channel-naming strategy.
func WithChannelFunc(fn ChannelFunc) Option {
	return func(s *Sink) { s.channel = fn }
}

// NewSink constructs a Sink publishing through client.
func NewSink(client *redis.Client, opts ...Option) (*Sink, error) {
	if client == nil {
		return nil, errors.New("redisstream: redis client is required")
	}
	s := &Sink{client: client, channel: defaultChannel}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Send publishes event as a JSON envelope on its derived channel.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	env := Envelope{
		Type:          event.Type(),
		SessionID:     event.Session(),
		InteractionID: event.Interaction(),
		Timestamp:     time.Now().UTC(),
		Payload:       event.Payload(),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisstream: marshal envelope: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(event), b).Err(); err != nil {
		return fmt.Errorf("redisstream: publish to %s: %w", s.channel(event), err)
	}
	return nil
}

// Close is a no-op: the Redis client's lifecycle is owned by the caller that
// constructed it, since the same client is typically shared with session
// persistence.
func (s *Sink) Close(context.Context) error { return nil }
