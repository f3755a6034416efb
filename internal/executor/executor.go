// Package executor wraps the actual invocation of a task's model runtime,
// either as a local subprocess or a remote HTTP call. It is the one
// component allowed to block a goroutine for minutes; everything above it
// (Worker) treats Execute as synchronous and structures its heartbeat
// around that.
package executor

import (
	"context"
	"time"
)

// ExecOptions tunes a single invocation.
type ExecOptions struct {
	MaxTokens   int
	Temperature float64
	NumCtx      int
	Timeout     time.Duration
}

// ExecRequest is everything an Executor needs to run one task.
type ExecRequest struct {
	TaskID       string
	Prompt       string
	ContextFiles []string
	OutputFile   string
	Options      ExecOptions
}

// ExecResult is always returned on success, timeout, and ordinary failure;
// the error return of Execute is reserved for infrastructure failures that
// prevented any attempt at all.
type ExecResult struct {
	Success bool
	Output  string
	Error   string
}

// Executor is the capability contract both the local and remote
// implementations satisfy.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// TimeoutResult is the canonical result for a context deadline expiry.
func TimeoutResult() ExecResult {
	return ExecResult{Success: false, Error: "timeout"}
}
