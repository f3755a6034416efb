package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hama-jp/koubou-go/internal/task"
)

func idleLocal(id string) *task.Worker {
	return &task.Worker{ID: id, Location: task.LocationLocal, Status: task.WorkerIdle, PerformanceFactor: 1.0}
}

func busyLocal(id string) *task.Worker {
	return &task.Worker{ID: id, Location: task.LocationLocal, Status: task.WorkerBusy, PerformanceFactor: 1.0}
}

func idleRemote(id string) *task.Worker {
	return &task.Worker{ID: id, Location: task.LocationRemote, Status: task.WorkerIdle, PerformanceFactor: 1.0}
}

func TestRoute_EmptyWorkers(t *testing.T) {
	r := New(DefaultConfig())
	assert.Nil(t, r.Route(&task.Task{}, nil))
}

func TestRoute_PreferredWorkerWhenIdle(t *testing.T) {
	r := New(DefaultConfig())
	w1 := idleLocal("w1")
	w2 := idleRemote("w2")
	tk := &task.Task{PreferredWorker: "w2"}

	got := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, got)
	assert.Equal(t, "w2", *got)
}

func TestRoute_PreferredWorkerSkippedWhenBusy(t *testing.T) {
	r := New(DefaultConfig())
	w1 := idleLocal("w1")
	w2 := busyLocal("w2")
	tk := &task.Task{PreferredWorker: "w2"}

	got := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, got)
	assert.Equal(t, "w1", *got)
}

func TestRoute_FastPathToRemoteWhenLocalBusy(t *testing.T) {
	r := New(DefaultConfig())
	w1 := busyLocal("w1")
	w2 := idleRemote("w2")
	tk := &task.Task{}

	got := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, got)
	assert.Equal(t, "w2", *got)
}

func TestRoute_ScoresIdleHigherThanBusy(t *testing.T) {
	idle := idleLocal("w1")
	busy := busyLocal("w2")
	assert.Greater(t, Score(idle), Score(busy))
}

func TestRoute_Determinism(t *testing.T) {
	r := New(DefaultConfig())
	w1 := idleLocal("w1")
	w2 := idleLocal("w2")
	w2.PerformanceFactor = 2.0
	tk := &task.Task{}

	got1 := r.Route(tk, []*task.Worker{w1, w2})
	got2 := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, got1)
	require.NotNil(t, got2)
	assert.Equal(t, *got1, *got2)
	assert.Equal(t, "w2", *got1)
}

func TestRoute_BusyingWorkerWorsensSelectionChance(t *testing.T) {
	r := New(DefaultConfig())
	w1 := idleLocal("w1")
	w2 := idleLocal("w2")
	tk := &task.Task{}

	before := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, before)

	w2.Status = task.WorkerBusy
	after := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, after)

	if *before == "w2" {
		assert.Equal(t, "w1", *after)
	}
}

func TestRoute_PriorityRuleRestrictsToClass(t *testing.T) {
	cfg := Config{
		Strategy: StrategyLoadBalanced,
		Rules: []PriorityRule{
			{Min: 8, Max: 10, Prefer: []Class{ClassRemote}},
		},
	}
	r := New(cfg)
	w1 := idleLocal("w1")
	w2 := idleRemote("w2")
	tk := &task.Task{Priority: 9}

	got := r.Route(tk, []*task.Worker{w1, w2})
	require.NotNil(t, got)
	assert.Equal(t, "w2", *got)
}

func TestRoute_FallsBackToFirstWorker(t *testing.T) {
	r := New(DefaultConfig())
	w1 := &task.Worker{ID: "w1", Status: task.WorkerOffline}
	tk := &task.Task{}

	got := r.Route(tk, []*task.Worker{w1})
	require.NotNil(t, got)
	assert.Equal(t, "w1", *got)
}
