package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Execute_Success(t *testing.T) {
	l := NewLocal("cat")
	result, err := l.Execute(context.Background(), ExecRequest{
		TaskID: "t1",
		Prompt: "hello world",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello world", result.Output)
}

func TestLocal_Execute_NonZeroExitRetriesThenFails(t *testing.T) {
	l := NewLocal("false")
	l.Backoff = BackoffPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond}

	result, err := l.Execute(context.Background(), ExecRequest{TaskID: "t1", Prompt: "x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestLocal_Execute_Timeout(t *testing.T) {
	l := NewLocal("sleep", "5")
	result, err := l.Execute(context.Background(), ExecRequest{
		TaskID:  "t1",
		Prompt:  "x",
		Options: ExecOptions{Timeout: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "timeout", result.Error)
}
