package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/goldstream/internal/model"
)

// Redis keeps the latest tick per epic under prefix+epic and publishes
// every tick on a pub/sub channel.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	channel   string
}

// Compile-time check to ensure Redis implements Publisher
var _ Publisher = (*Redis)(nil)

// NewRedis creates a Redis publisher.
func NewRedis(client *redis.Client, keyPrefix, channel string) *Redis {
	return &Redis{client: client, keyPrefix: keyPrefix, channel: channel}
}

func (r *Redis) Name() string { return "redis" }

// Publish pipelines one PUBLISH per tick and a SET of the newest tick per epic.
func (r *Redis) Publish(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	latest := make(map[string][]byte)
	pipe := r.client.Pipeline()
	for _, tick := range ticks {
		payload, err := json.Marshal(redisTick{Epic: tick.Epic, TickPayload: tick.Payload()})
		if err != nil {
			return fmt.Errorf("marshal tick: %w", err)
		}
		pipe.Publish(ctx, r.channel, payload)
		latest[tick.Epic] = payload
	}
	for epic, payload := range latest {
		pipe.Set(ctx, r.keyPrefix+epic, payload, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Latest returns the stored JSON of the newest tick for epic.
func (r *Redis) Latest(ctx context.Context, epic string) ([]byte, error) {
	return r.client.Get(ctx, r.keyPrefix+epic).Bytes()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisTick struct {
	Epic string `json:"epic"`
	model.TickPayload
}
