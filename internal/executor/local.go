package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime/debug"
	"time"

	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
)

// Local execs a subprocess wrapping the configured model runtime,
// passing the prompt on stdin and reading stdout, with retry up to the
// configured number of attempts on transient failure.
type Local struct {
	// Command is the executable invoked for every task; Args are appended
	// after the configured binary (e.g. a model name flag).
	Command string
	Args    []string
	Backoff BackoffPolicy
}

// NewLocal builds a Local executor with the default backoff policy.
func NewLocal(command string, args ...string) *Local {
	return &Local{Command: command, Args: args, Backoff: DefaultBackoffPolicy()}
}

// Execute runs the subprocess, retrying transient (non-zero-exit,
// non-context-canceled) failures per the backoff policy.
func (l *Local) Execute(ctx context.Context, req ExecRequest) (result ExecResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error().
				Str("task_id", req.TaskID).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("local executor panicked")
			result = ExecResult{Success: false, Error: fmt.Sprintf("executor panicked: %v", r)}
			err = nil
		}
	}()

	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logger.WithTask(req.TaskID)

	var lastErr error
	for attempt := 0; attempt < l.Backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.Backoff.Delay(attempt)):
			case <-runCtx.Done():
				return l.classifyContextErr(runCtx), nil
			}
		}

		out, runErr := l.runOnce(runCtx, req)
		if runErr == nil {
			return ExecResult{Success: true, Output: out}, nil
		}
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
			return l.classifyContextErr(runCtx), nil
		}
		lastErr = runErr
		metrics.RecordExecutorRetry("local")
		log.Warn().Err(runErr).Int("attempt", attempt+1).Msg("local executor attempt failed, retrying")
	}

	return ExecResult{Success: false, Error: lastErr.Error()}, nil
}

func (l *Local) classifyContextErr(ctx context.Context) ExecResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimeoutResult()
	}
	return ExecResult{Success: false, Error: "canceled"}
}

func (l *Local) runOnce(ctx context.Context, req ExecRequest) (string, error) {
	cmd := exec.CommandContext(ctx, l.Command, l.Args...)
	cmd.Stdin = bytes.NewBufferString(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%w: %s", err, stderr.String())
		}
		return "", err
	}
	return stdout.String(), nil
}
