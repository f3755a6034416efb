package bus

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewRedis_DefaultsReplaySize(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0)
	assert.Equal(t, defaultReplaySize, r.replaySize)
}

func TestNewRedis_KeepsExplicitReplaySize(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 50)
	assert.Equal(t, 50, r.replaySize)
}

func TestRedis_QueueKey(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 10)
	assert.Equal(t, "queue:task.status", r.queueKey(ChannelTaskStatus))
}
