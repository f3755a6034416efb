package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusPending, "pending"},
		{StatusInProgress, "in_progress"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCancelled, "cancelled"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected Status
	}{
		{"pending", StatusPending},
		{"in_progress", StatusInProgress},
		{"completed", StatusCompleted},
		{"failed", StatusFailed},
		{"cancelled", StatusCancelled},
		{"invalid", StatusPending},
		{"", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseStatus(tt.input))
		})
	}
}

func TestStatus_IsFinal(t *testing.T) {
	final := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	nonFinal := []Status{StatusPending, StatusInProgress}

	for _, s := range final {
		assert.True(t, s.IsFinal(), "expected %s to be final", s)
	}
	for _, s := range nonFinal {
		assert.False(t, s.IsFinal(), "expected %s to not be final", s)
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},

		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusPending, true},
		{StatusInProgress, StatusCancelled, false},

		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Claim(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	sm := NewStateMachine(tsk)

	err := sm.Claim("worker-123")
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, tsk.Status)
	assert.Equal(t, "worker-123", tsk.AssignedTo)
}

func TestStateMachine_Claim_Invalid(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	tsk.Status = StatusCompleted
	sm := NewStateMachine(tsk)

	err := sm.Claim("worker-123")
	assert.Equal(t, ErrInvalidTransition, err)
}

func TestStateMachine_Complete_Success(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Claim("worker-1"))

	result := &Result{Success: true, Output: "done"}
	err := sm.Complete(result)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, tsk.Status)
	assert.Equal(t, result, tsk.Result)
}

func TestStateMachine_Complete_Failure(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Claim("worker-1"))

	result := &Result{Success: false, Error: "boom"}
	err := sm.Complete(result)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, tsk.Status)
	assert.Equal(t, result, tsk.Result)
}

func TestStateMachine_Cancel(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	sm := NewStateMachine(tsk)

	err := sm.Cancel()
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tsk.Status)
}

func TestStateMachine_Cancel_InvalidOnceAssigned(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Claim("worker-1"))

	err := sm.Cancel()
	assert.Equal(t, ErrInvalidTransition, err)
}

func TestStateMachine_Requeue(t *testing.T) {
	tsk := New("", Content{}, DefaultPriority, "")
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Claim("worker-1"))

	err := sm.Requeue()
	require.NoError(t, err)

	assert.Equal(t, StatusPending, tsk.Status)
	assert.Empty(t, tsk.AssignedTo)
}
