package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/npezzotti/portal-chat/internal/types"
	"github.com/redis/go-redis/v9"
)

const DefaultRelayChannel = "portal-chat:events"

type relayEnvelope struct {
	Origin string          `json:"origin"`
	RoomId string          `json:"room_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay shares published events between server processes over a redis
// pub/sub channel. Each process ignores the envelopes it sent itself.
type RedisRelay struct {
	log     *log.Logger
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisRelay(logger *log.Logger, client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}

	return &RedisRelay{
		log:     logger,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func (r *RedisRelay) Forward(ctx context.Context, scope types.Scope, data []byte) error {
	payload, err := json.Marshal(relayEnvelope{
		Origin: r.origin,
		RoomId: scope.RoomId,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", types.ErrTransport, err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(scope types.Scope, data []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %q: %w", r.channel, err)
	}
	r.log.Printf("relay subscribed to %q", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Printf("decode relay envelope: %v", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}

			deliver(types.Scope{RoomId: env.RoomId}, env.Data)
		}
	}
}
