package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hama-jp/koubou-go/internal/logger"
)

// HeartbeatRefresher is the minimal slice of Store the Remote executor
// needs to keep a worker's liveness fresh during a long-running call,
// without importing the whole store package.
type HeartbeatRefresher interface {
	UpdateWorkerHeartbeat(workerID string) error
}

// Remote issues an HTTP request to a LAN worker endpoint and refreshes the
// calling worker's heartbeat in the Store for the duration of the call, so
// a slow-but-alive remote invocation is never mistaken for a dead worker
// by orphan recovery.
type Remote struct {
	Endpoint   string
	WorkerID   string
	Store      HeartbeatRefresher
	HTTPClient *http.Client

	// HeartbeatInterval defaults to 10s, safely under the <= 15s bound.
	HeartbeatInterval time.Duration
}

// NewRemote builds a Remote executor posting to endpoint on behalf of
// workerID, refreshing its heartbeat through store.
func NewRemote(endpoint, workerID string, store HeartbeatRefresher) *Remote {
	return &Remote{
		Endpoint:          endpoint,
		WorkerID:          workerID,
		Store:             store,
		HTTPClient:        &http.Client{},
		HeartbeatInterval: 10 * time.Second,
	}
}

type remoteRequest struct {
	Prompt       string   `json:"prompt"`
	ContextFiles []string `json:"files,omitempty"`
	OutputFile   string   `json:"output_file,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	NumCtx       int      `json:"num_ctx,omitempty"`
}

type remoteResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execute performs the HTTP call, running a background heartbeat goroutine
// for its duration.
func (r *Remote) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The heartbeat loop has its own child context, so stopping it neither
	// cancels the request nor hides whether runCtx itself expired.
	hbCtx, stopHeartbeat := context.WithCancel(runCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go r.heartbeatLoop(hbCtx, &wg)

	body, err := json.Marshal(remoteRequest{
		Prompt:       req.Prompt,
		ContextFiles: req.ContextFiles,
		OutputFile:   req.OutputFile,
		MaxTokens:    req.Options.MaxTokens,
		Temperature:  req.Options.Temperature,
		NumCtx:       req.Options.NumCtx,
	})
	if err != nil {
		stopHeartbeat()
		wg.Wait()
		return ExecResult{}, fmt.Errorf("remote executor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		stopHeartbeat()
		wg.Wait()
		return ExecResult{}, fmt.Errorf("remote executor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(httpReq)
	stopHeartbeat()
	wg.Wait()

	if err != nil {
		if runCtx.Err() != nil {
			return TimeoutResult(), nil
		}
		return ExecResult{}, fmt.Errorf("remote executor: request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ExecResult{}, fmt.Errorf("remote executor: decode response: %w", err)
	}

	return ExecResult{Success: decoded.Success, Output: decoded.Output, Error: decoded.Error}, nil
}

func (r *Remote) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Store.UpdateWorkerHeartbeat(r.WorkerID); err != nil {
				logger.WithWorker(r.WorkerID).Warn().Err(err).Msg("heartbeat refresh during remote execution failed")
			}
		}
	}
}
