package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeartbeatRefresher struct {
	calls int
}

func (f *fakeHeartbeatRefresher) UpdateWorkerHeartbeat(workerID string) error {
	f.calls++
	return nil
}

func TestRemote_Execute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteResponse{Success: true, Output: "ok"})
	}))
	defer srv.Close()

	refresher := &fakeHeartbeatRefresher{}
	r := NewRemote(srv.URL, "worker-1", refresher)

	result, err := r.Execute(context.Background(), ExecRequest{TaskID: "t1", Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Output)
}

func TestRemote_Execute_RefreshesHeartbeatDuringLongCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(remoteResponse{Success: true, Output: "slow"})
	}))
	defer srv.Close()

	refresher := &fakeHeartbeatRefresher{}
	r := NewRemote(srv.URL, "worker-1", refresher)
	r.HeartbeatInterval = 5 * time.Millisecond

	_, err := r.Execute(context.Background(), ExecRequest{TaskID: "t1", Prompt: "hi"})
	require.NoError(t, err)
	assert.Greater(t, refresher.calls, 0)
}
