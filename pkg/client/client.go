// Package client provides a thin Go SDK for MasterAPI, the HTTP surface
// clients use to delegate tasks, poll status, and inspect the pool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hama-jp/koubou-go/internal/api/handlers"
	"github.com/hama-jp/koubou-go/internal/task"
)

// Client is a thin HTTP wrapper around MasterAPI's task/worker/admin
// surface, plus an optional WebSocket event stream.
type Client struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a Client bound to baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{baseURL: baseURL, opts: o}, nil
}

// Delegate submits a new task. In sync mode the call blocks server-side
// until the task reaches a terminal status or MasterAPI's own timeout
// elapses; in async mode it returns as soon as the task is persisted.
func (c *Client) Delegate(ctx context.Context, req task.CreateTaskRequest) (*task.TaskResponse, error) {
	var resp task.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/task/delegate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches a task's current state.
func (c *Client) Status(ctx context.Context, taskID string) (*task.TaskResponse, error) {
	var resp task.TaskResponse
	path := "/api/v1/task/status/" + url.PathEscape(taskID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPending returns up to limit pending tasks, priority-ordered.
func (c *Client) ListPending(ctx context.Context, limit int) (*handlers.ListResponse, error) {
	return c.listTasks(ctx, "/api/v1/tasks/pending", limit)
}

// ListActive returns up to limit in-progress tasks.
func (c *Client) ListActive(ctx context.Context, limit int) (*handlers.ListResponse, error) {
	return c.listTasks(ctx, "/api/v1/tasks/active", limit)
}

// ListCompleted returns up to limit completed tasks.
func (c *Client) ListCompleted(ctx context.Context, limit int) (*handlers.ListResponse, error) {
	return c.listTasks(ctx, "/api/v1/tasks/completed", limit)
}

func (c *Client) listTasks(ctx context.Context, path string, limit int) (*handlers.ListResponse, error) {
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp handlers.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkerStatus returns every worker row known to Store.
func (c *Client) WorkerStatus(ctx context.Context) (*WorkersResponse, error) {
	var resp WorkersResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SystemInfo returns the aggregate task/worker counters MasterAPI exposes
// for dashboards and health checks.
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfoResponse, error) {
	var resp SystemInfoResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/system/info", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks MasterAPI's liveness endpoint.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// WorkersResponse is MasterAPI's /workers/status body.
type WorkersResponse struct {
	Workers []*task.Worker `json:"workers"`
	Count   int            `json:"count"`
}

// SystemInfoResponse is MasterAPI's /system/info body.
type SystemInfoResponse struct {
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	WorkersByStatus map[string]int `json:"workers_by_status"`
	PendingTasks    int            `json:"pending_tasks"`
	ActiveTasks     int            `json:"active_tasks"`
	ActiveWorkers   int            `json:"active_workers"`
}

// --- Admin surface (proxied by MasterAPI to PoolManager's control socket) ---

// SpawnWorker requests a new worker be spawned, optionally with a specific id.
func (c *Client) SpawnWorker(ctx context.Context, workerID string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	body := map[string]string{}
	if workerID != "" {
		body["worker_id"] = workerID
	}
	if err := c.adminDo(ctx, http.MethodPost, "/admin/workers/spawn", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ShutdownWorker requests the named worker be gracefully terminated.
func (c *Client) ShutdownWorker(ctx context.Context, workerID string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	path := "/admin/workers/" + url.PathEscape(workerID) + "/shutdown"
	if err := c.adminDo(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RestartWorker requests the named worker be shut down and respawned.
func (c *Client) RestartWorker(ctx context.Context, workerID string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	path := "/admin/workers/" + url.PathEscape(workerID) + "/restart"
	if err := c.adminDo(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ShutdownAllWorkers terminates every local worker the pool owns.
func (c *Client) ShutdownAllWorkers(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.adminDo(ctx, http.MethodPost, "/admin/workers/shutdown_all", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Scale adjusts the pool's min/max worker bounds.
func (c *Client) Scale(ctx context.Context, min, max *int) (map[string]interface{}, error) {
	var resp map[string]interface{}
	body := handlers.ScaleRequest{MinWorkers: min, MaxWorkers: max}
	if err := c.adminDo(ctx, http.MethodPost, "/admin/scale", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RetryTask resets a failed task back to pending for re-dispatch.
func (c *Client) RetryTask(ctx context.Context, taskID string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	path := "/admin/tasks/" + url.PathEscape(taskID) + "/retry"
	if err := c.adminDo(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// do issues an unauthenticated request against the /api/v1 or top-level surface.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.request(ctx, method, path, body, out, false)
}

// adminDo issues a request against the /admin surface, which requires
// whatever auth the server is configured with (API key or JWT, applied by
// the configured header options).
func (c *Client) adminDo(ctx context.Context, method, path string, body, out interface{}) error {
	return c.request(ctx, method, path, body, out, true)
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}, admin bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp handlers.ErrorResponse
		if jsonErr := json.Unmarshal(data, &errResp); jsonErr == nil && errResp.Message != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, errResp.Error, errResp.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ConnectWebSocket opens the real-time event stream.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns the channel of relayed bus events. Call ConnectWebSocket first.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the event stream, if open.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeChannels narrows the event stream to the given bus channels
// (e.g. "task.status", "worker.status", "pool.stats"); with none
// subscribed the server sends every channel.
func (c *Client) SubscribeChannels(channels ...string) error {
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.ws.Subscribe(channels...)
}
