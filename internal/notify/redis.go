package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/jobs"
)

const publishTimeout = 250 * time.Millisecond

type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// RedisBridge relays job events between API replicas over Redis Pub/Sub.
// Events are always delivered locally first; Redis failures only cost
// cross-replica delivery.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	origin  string
	local   jobs.Publisher
	log     *slog.Logger
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(addr, password string, db int, channel string, local jobs.Publisher, logger *slog.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newBridge(client, channel, local, logger), nil
}

func newBridge(client redis.UniversalClient, channel string, local jobs.Publisher, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		log:     logger,
	}
}

// Publish implements jobs.Publisher.
func (b *RedisBridge) Publish(event domain.Event) {
	b.local.Publish(event)
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: event})
	if err != nil {
		b.log.Error("encode job event envelope", "job_id", event.JobID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("redis publish failed", "job_id", event.JobID, "error", err)
	}
}

// Run relays events from other replicas until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	b.log.Info("job event relay subscribed", "channel", b.channel)
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *RedisBridge) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn("discarding malformed job event", "error", err)
		return
	}
	if env.Origin == b.origin || env.Event.JobID == "" {
		return
	}
	b.local.Publish(env.Event)
}

// Close releases the Redis connection.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
