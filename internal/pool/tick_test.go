package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/task"
)

func TestManager_DispatchPending_AssignsToIdleWorker(t *testing.T) {
	m := newTestManager(t, 30)

	_, err := m.store.RegisterWorker("w1", task.WorkerMeta{Location: task.LocationLocal, PerformanceFactor: 1})
	require.NoError(t, err)
	_, err = m.store.CreateTask("t1", task.Content{Type: "general", Prompt: "hi"}, 5, "user")
	require.NoError(t, err)

	m.dispatchPending()

	got, err := m.store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Equal(t, "w1", got.AssignedTo)

	w, err := m.store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, task.WorkerBusy, w.Status)
}

func TestManager_DispatchPending_NoIdleWorkersLeavesTaskPending(t *testing.T) {
	m := newTestManager(t, 30)

	_, err := m.store.CreateTask("t1", task.Content{Type: "general", Prompt: "hi"}, 5, "user")
	require.NoError(t, err)

	m.dispatchPending()

	got, err := m.store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestManager_ScaleUp_SpawnsImmediatelyWhenNoWorkers(t *testing.T) {
	m := newTestManager(t, 30)

	m.scaleUp(3, 0, 0, 5)
	assert.Equal(t, 1, m.ProcessCount())
}

func TestManager_ScaleUp_RespectsHeadroomAndSlack(t *testing.T) {
	m := newTestManager(t, 30)
	m.cfg.MaxActiveTasks = 2

	// pending=5, active=1 (slack=1), activeWorkers=1, max=3 (headroom=2)
	// expected spawn = min(pending=5, slack=1, headroom=2) = 1
	m.scaleUp(5, 1, 1, 3)
	assert.Equal(t, 1, m.ProcessCount())
}

func TestManager_ScaleUp_NoopWhenBackPressured(t *testing.T) {
	m := newTestManager(t, 30)
	m.cfg.MaxActiveTasks = 2

	m.scaleUp(5, 2, 1, 3) // active >= MaxActiveTasks
	assert.Equal(t, 0, m.ProcessCount())
}

func TestManager_ScaleDown_TerminatesIdleWorkersAboveMin(t *testing.T) {
	m := newTestManager(t, 30)

	id1, err := m.SpawnWorker("")
	require.NoError(t, err)
	_, err = m.store.RegisterWorker(id1, task.WorkerMeta{Location: task.LocationLocal, PerformanceFactor: 1})
	require.NoError(t, err)

	m.scaleDown(0, 1, 0)

	assert.Eventually(t, func() bool { return m.ProcessCount() == 0 }, time.Second, 10*time.Millisecond)
	w, err := m.store.GetWorker(id1)
	require.NoError(t, err)
	assert.Equal(t, task.WorkerOffline, w.Status)
}

func TestManager_ScaleDown_NoopWithPendingWork(t *testing.T) {
	m := newTestManager(t, 30)

	id1, err := m.SpawnWorker("")
	require.NoError(t, err)
	_, err = m.store.RegisterWorker(id1, task.WorkerMeta{Location: task.LocationLocal, PerformanceFactor: 1})
	require.NoError(t, err)

	m.scaleDown(1, 1, 0) // pending != 0
	assert.Equal(t, 1, m.ProcessCount())
}

func TestManager_EmitStats_PublishesToBus(t *testing.T) {
	m := newTestManager(t, 30)

	received := make(chan bus.Message, 1)
	unsubscribe, err := m.bus.Subscribe(context.Background(), bus.ChannelPoolStats, func(msg bus.Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer unsubscribe()

	m.emitStats(context.Background())

	select {
	case msg := <-received:
		assert.Equal(t, "pool_stats", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected pool stats message to be published")
	}
}
