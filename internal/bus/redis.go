package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hama-jp/koubou-go/internal/logger"
)

// Redis is a durable remote Bus using go-redis/v9 pub/sub for live fan-out
// plus LPUSH/LTRIM against a queue:{channel} list capped at replaySize,
// matching the Python source's RedisQueue replay semantics exactly.
type Redis struct {
	client     *redis.Client
	replaySize int

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedis builds a Redis-backed Bus over an already-constructed client.
func NewRedis(client *redis.Client, replaySize int) *Redis {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	return &Redis{client: client, replaySize: replaySize}
}

func (r *Redis) Connect(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.Close()
	}
	r.subs = nil
	return r.client.Close()
}

func (r *Redis) queueKey(channel string) string {
	return fmt.Sprintf("queue:%s", channel)
}

func (r *Redis) Publish(ctx context.Context, channel string, message Message) error {
	message.Channel = channel
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("bus.redis: marshal message: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("bus.redis: publish: %w", err)
	}

	key := r.queueKey(channel)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.replaySize-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bus.redis: replay list update: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string, handler func(Message)) (func(), error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("bus.redis: subscribe: %w", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var decoded Message
				if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
					logger.WithComponent("bus.redis").Warn().Err(err).Msg("failed to decode message")
					continue
				}
				handler(decoded)
			case <-done:
				sub.Close()
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (r *Redis) QueueSize(ctx context.Context, channel string) (int, error) {
	n, err := r.client.LLen(ctx, r.queueKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("bus.redis: queue size: %w", err)
	}
	return int(n), nil
}
