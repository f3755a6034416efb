package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSpool_PublishSubscribe(t *testing.T) {
	dir := t.TempDir()
	f := NewFileSpool(dir)
	f.PollInterval = 10 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, f.Connect(ctx))

	received := make(chan Message, 1)
	unsub, err := f.Subscribe(ctx, ChannelTaskStatus, func(msg Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer unsub()

	msg, err := NewMessage(ChannelTaskStatus, "completed", TaskStatusPayload{TaskID: "t1", Status: "completed"})
	require.NoError(t, err)
	require.NoError(t, f.Publish(ctx, ChannelTaskStatus, msg))

	select {
	case got := <-received:
		assert.Equal(t, "completed", got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for spooled message")
	}
}

func TestFileSpool_QueueSizeReflectsUnprocessedFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFileSpool(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg, _ := NewMessage(ChannelPoolStats, "tick", nil)
		require.NoError(t, f.Publish(ctx, ChannelPoolStats, msg))
	}

	size, err := f.QueueSize(ctx, ChannelPoolStats)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestFileSpool_QueueSizeMissingChannelIsZero(t *testing.T) {
	dir := t.TempDir()
	f := NewFileSpool(dir)
	size, err := f.QueueSize(context.Background(), "never-published")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestFileSpool_DrainDeletesProcessedFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFileSpool(dir)
	f.PollInterval = 10 * time.Millisecond
	ctx := context.Background()

	msg, _ := NewMessage(ChannelWorkerStatus, "offline", nil)
	require.NoError(t, f.Publish(ctx, ChannelWorkerStatus, msg))

	unsub, err := f.Subscribe(ctx, ChannelWorkerStatus, func(Message) {})
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		size, _ := f.QueueSize(ctx, ChannelWorkerStatus)
		return size == 0
	}, 2*time.Second, 20*time.Millisecond)
}
