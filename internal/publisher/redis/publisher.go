// Package redis publishes run summaries onto a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Config locates the Redis server and stream.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream approximately; zero leaves it unbounded.
	MaxLen int64
}

// Publisher appends each message as a stream entry with event_type, data and
// trace context fields.
type Publisher struct {
	client goredis.UniversalClient
	stream string
	maxLen int64
}

// New wraps an existing client.
func New(client goredis.UniversalClient, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Dial connects to cfg.Addr, verifies the connection and returns a Publisher
// with a close function for the client.
func Dial(ctx context.Context, cfg Config) (*Publisher, func() error, error) {
	if cfg.Addr == "" || cfg.Stream == "" {
		return nil, nil, fmt.Errorf("redis address and stream are required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return New(client, cfg.Stream, cfg.MaxLen), client.Close, nil
}

// Publish marshals payload to JSON and returns the stream entry ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("redis publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	values := make(map[string]any, len(carrier)+2)
	for k, v := range carrier {
		values[k] = v
	}
	values["data"] = string(data)
	if topic != "" {
		values["event_type"] = topic
	}

	args := &goredis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("append to stream %s: %w", p.stream, err)
	}
	return id, nil
}
