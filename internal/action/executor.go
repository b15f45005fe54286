package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doridoridoriand/tunnelwatch/internal/state"
)

const (
	// DefaultTimeout bounds a single action run.
	DefaultTimeout = 60 * time.Second

	waitDelay      = 2 * time.Second
	maxLoggedBytes = 16 << 10
)

// ErrTimeout means the action was killed after exceeding its timeout.
var ErrTimeout = errors.New("action timed out")

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("action exited with status %d", e.Code)
}

// Result is the outcome of one Execute call.
type Result struct {
	State    state.DesiredState
	Action   string
	RunID    string
	ExitCode int
	Stdout   string
	Stderr   string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// OK is true only when the process ran and exited zero.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Config holds what every action run receives.
type Config struct {
	ServerName string
	APIHost    string
	Timeout    time.Duration
	InheritEnv bool
	ExtraEnv   map[string]string
}

// Executor resolves a desired state to its Action and runs it under a timeout.
type Executor struct {
	actions  map[state.DesiredState]Action
	timeout  time.Duration
	env      []string
	logger   *zap.Logger
	newRunID func() string
}

// NewExecutor registers one action per state; a state may only be registered once.
func NewExecutor(cfg Config, logger *zap.Logger, actions ...Action) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := &Executor{
		actions:  make(map[state.DesiredState]Action, len(actions)),
		timeout:  timeout,
		env:      buildEnv(cfg),
		logger:   logger,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, a := range actions {
		if !a.State().Valid() {
			return nil, fmt.Errorf("action %q: invalid state %q", a.Name(), a.State())
		}
		if _, dup := e.actions[a.State()]; dup {
			return nil, fmt.Errorf("action for state %s registered twice", a.State())
		}
		e.actions[a.State()] = a
	}
	return e, nil
}

// Timeout returns the per-run limit.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute runs the action for desired. Cancelling ctx kills the process the same
// way the timeout does.
func (e *Executor) Execute(ctx context.Context, desired state.DesiredState) Result {
	res := Result{State: desired, RunID: e.newRunID(), ExitCode: -1, Started: time.Now()}
	logger := e.logger.With(zap.String("run_id", res.RunID), zap.String("state", desired.String()))

	act, ok := e.actions[desired]
	if !ok {
		res.Err = fmt.Errorf("no action registered for state %s", desired)
		logger.Error("action lookup failed", zap.Error(res.Err))
		return res
	}
	res.Action = act.Name()
	logger = logger.With(zap.String("action", act.Name()))

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := act.Command(runCtx)
	cmd.Env = e.env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	logger.Info("executing action", zap.Strings("argv", cmd.Args), zap.Duration("timeout", e.timeout))
	err := cmd.Run()
	res.Duration = time.Since(res.Started)
	res.Stdout = trimOutput(stdout.String())
	res.Stderr = trimOutput(stderr.String())

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	case err == nil:
		res.ExitCode = 0
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success():
		// A child left running in the background kept the output pipes open.
		res.ExitCode = 0
		logger.Warn("action exited 0 but its output pipes were still held open; output may be truncated",
			zap.Duration("wait_delay", waitDelay))
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = &ExitError{Code: res.ExitCode}
	default:
		res.Err = fmt.Errorf("launch action: %w", err)
	}

	fields := []zap.Field{
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
		zap.String("stdout", res.Stdout),
		zap.String("stderr", res.Stderr),
	}
	if res.OK() {
		logger.Info("action succeeded", fields...)
	} else {
		logger.Error("action failed", append(fields, zap.Error(res.Err))...)
	}
	return res
}

func buildEnv(cfg Config) []string {
	var env []string
	if cfg.InheritEnv {
		env = append(env, os.Environ()...)
	}
	keys := make([]string, 0, len(cfg.ExtraEnv))
	for k := range cfg.ExtraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.ExtraEnv[k])
	}
	// Later entries win in exec, so the fixed parameters go last.
	return append(env, "SERVER_NAME="+cfg.ServerName, "API_HOST="+cfg.APIHost)
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLoggedBytes {
		return s
	}
	start := len(s) - maxLoggedBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
