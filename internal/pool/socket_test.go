package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("unix", path)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req request) response {
	t.Helper()
	require.NoError(t, json.NewEncoder(conn).Encode(req))
	var resp response
	require.NoError(t, json.NewDecoder(bufio.NewReader(conn)).Decode(&resp))
	return resp
}

func TestManager_MonitorSocket_GetStatus(t *testing.T) {
	m := newTestManager(t, 30)
	path := filepath.Join(t.TempDir(), "monitor.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ServeMonitor(ctx, path)

	conn := dial(t, path)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Command: "get_status"})
	assert.Equal(t, true, resp["success"])
	assert.Contains(t, resp, "active_workers")
	assert.Contains(t, resp, "min_workers")
}

func TestManager_MonitorSocket_UnknownCommand(t *testing.T) {
	m := newTestManager(t, 30)
	path := filepath.Join(t.TempDir(), "monitor.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ServeMonitor(ctx, path)

	conn := dial(t, path)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Command: "not_a_real_command"})
	assert.Equal(t, false, resp["success"])
}

func TestManager_ControlSocket_RejectsBadToken(t *testing.T) {
	m := newTestManager(t, 30)
	path := filepath.Join(t.TempDir(), "control.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ServeControl(ctx, path)

	conn := dial(t, path)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Command: "shutdown_all", AuthToken: "wrong"})
	assert.Equal(t, false, resp["success"])
}

func TestManager_ControlSocket_SpawnWorkerWithValidToken(t *testing.T) {
	m := newTestManager(t, 30)
	path := filepath.Join(t.TempDir(), "control.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ServeControl(ctx, path)

	conn := dial(t, path)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Command: "spawn_worker", AuthToken: "test-control-token"})
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["worker_id"])
	assert.Equal(t, 1, m.ProcessCount())
}

func TestManager_ControlSocket_ScaleUpdatesBounds(t *testing.T) {
	m := newTestManager(t, 30)
	path := filepath.Join(t.TempDir(), "control.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ServeControl(ctx, path)

	conn := dial(t, path)
	defer conn.Close()

	minW, maxW := 2, 9
	req := request{Command: "scale", AuthToken: "test-control-token", MinWorkers: &minW, MaxWorkers: &maxW}
	resp := roundTrip(t, conn, req)
	assert.Equal(t, true, resp["success"])

	gotMin, gotMax := m.Bounds()
	assert.Equal(t, 2, gotMin)
	assert.Equal(t, 9, gotMax)
}
