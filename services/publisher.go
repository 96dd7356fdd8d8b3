package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressEvent is published after every worker flush.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Worker    int       `json:"worker"`
	Processed int       `json:"processed"`
	Persisted int       `json:"persisted"`
	Lost      int       `json:"lost"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Time      time.Time `json:"time"`
}

// Publisher represents a service for publishing progress events
type Publisher interface {
	Publish(ctx context.Context, event ProgressEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ProgressEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

// RedisPublisher appends events to a Redis stream, trimmed to roughly
// maxLen entries.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(addr string, db int, stream string, maxLen int64) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(ctx context.Context, event ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"run":   event.RunID,
			"event": payload,
		},
	}).Err()
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
