package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hama-jp/koubou-go/internal/deliverable"
	"github.com/hama-jp/koubou-go/internal/executor"
	"github.com/hama-jp/koubou-go/internal/store"
	"github.com/hama-jp/koubou-go/internal/task"
)

type fakeExecutor struct {
	result executor.ExecResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, req executor.ExecRequest) (executor.ExecResult, error) {
	f.calls++
	return f.result, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Options{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestWorker(t *testing.T, st *store.Store, exec executor.Executor) *Worker {
	t.Helper()
	extractDir := t.TempDir()
	w := New("worker-1", st, exec, deliverable.New(extractDir), SecurityPolicy{}, task.WorkerMeta{
		Location:          task.LocationLocal,
		PerformanceFactor: 1.0,
		Capabilities:      []string{"general"},
	})
	return w
}

func TestWorker_CheckAuthToken_EmptyExpectedSkips(t *testing.T) {
	assert.NoError(t, CheckAuthToken(""))
}

func TestWorker_CheckAuthToken_Mismatch(t *testing.T) {
	os.Setenv("WORKER_AUTH_TOKEN", "actual")
	defer os.Unsetenv("WORKER_AUTH_TOKEN")

	err := CheckAuthToken("expected")
	assert.ErrorIs(t, err, ErrAuthMismatch)
}

func TestWorker_CheckAuthToken_Match(t *testing.T) {
	os.Setenv("WORKER_AUTH_TOKEN", "secret")
	defer os.Unsetenv("WORKER_AUTH_TOKEN")

	assert.NoError(t, CheckAuthToken("secret"))
}

func TestWorker_Execute_EmptyPromptShortCircuits(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{}
	w := newTestWorker(t, st, exec)

	_, err := st.RegisterWorker(w.ID, w.Meta)
	require.NoError(t, err)

	result := w.execute(context.Background(), &task.Task{ID: "t1", Content: task.Content{Prompt: ""}})
	assert.False(t, result.Success)
	assert.Equal(t, "Prompt is empty", result.Error)
	assert.Equal(t, 0, exec.calls)
}

func TestWorker_Execute_RejectsDisallowedFile(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{}
	w := newTestWorker(t, st, exec)
	w.Security = SecurityPolicy{AllowedDirs: []string{t.TempDir()}, AllowedExtensions: []string{".go"}}

	_, err := st.RegisterWorker(w.ID, w.Meta)
	require.NoError(t, err)

	result := w.execute(context.Background(), &task.Task{
		ID:      "t1",
		Content: task.Content{Prompt: "do work", Files: []string{"/etc/passwd"}},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "outside allowed directories")
	assert.Equal(t, 0, exec.calls)
}

func TestWorker_Execute_InvokesExecutorOnValidTask(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{result: executor.ExecResult{Success: true, Output: "done"}}
	w := newTestWorker(t, st, exec)

	_, err := st.RegisterWorker(w.ID, w.Meta)
	require.NoError(t, err)

	result := w.execute(context.Background(), &task.Task{ID: "t1", Content: task.Content{Prompt: "hello"}})
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 1, exec.calls)
}

func TestWorker_HandleAssignment_CompletesTaskAndReleasesAssignment(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{result: executor.ExecResult{Success: true, Output: "result text"}}
	w := newTestWorker(t, st, exec)

	_, err := st.RegisterWorker(w.ID, w.Meta)
	require.NoError(t, err)

	_, err = st.CreateTask("t1", task.Content{Type: "general", Prompt: "hello"}, 5, "user")
	require.NoError(t, err)

	claimed, err := st.AcquireNextTask(w.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w.handleAssignment(context.Background(), "t1")

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, w.ID, got.AssignedTo)

	worker, err := st.GetWorker(w.ID)
	require.NoError(t, err)
	assert.Equal(t, task.WorkerIdle, worker.Status)
	assert.Equal(t, 1, worker.TasksCompleted)
}

func TestWorker_HandleAssignment_FailureStillReleasesAssignment(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{result: executor.ExecResult{Success: false, Error: "boom"}}
	w := newTestWorker(t, st, exec)

	_, err := st.RegisterWorker(w.ID, w.Meta)
	require.NoError(t, err)

	_, err = st.CreateTask("t1", task.Content{Type: "general", Prompt: "hello"}, 5, "user")
	require.NoError(t, err)

	_, err = st.AcquireNextTask(w.ID)
	require.NoError(t, err)

	w.handleAssignment(context.Background(), "t1")

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)

	worker, err := st.GetWorker(w.ID)
	require.NoError(t, err)
	assert.Equal(t, task.WorkerIdle, worker.Status)
	assert.Equal(t, 1, worker.TasksFailed)
}

func TestWorker_Run_ProcessesNotifiedTaskAndStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	exec := &fakeExecutor{result: executor.ExecResult{Success: true, Output: "ok"}}
	w := newTestWorker(t, st, exec)

	_, err := st.CreateTask("t1", task.Content{Type: "general", Prompt: "hello"}, 5, "user")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Register happens inside Run; wait for it before assigning.
	require.Eventually(t, func() bool {
		_, err := st.GetWorker(w.ID)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	ok, err := st.AssignTaskToWorker("t1", w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.EnqueueNotification(w.ID, task.NotificationTaskAssigned, "t1"))

	require.Eventually(t, func() bool {
		got, err := st.GetTask("t1")
		return err == nil && got.Status == task.StatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}

	worker, err := st.GetWorker(w.ID)
	require.NoError(t, err)
	assert.Equal(t, task.WorkerOffline, worker.Status)
}
