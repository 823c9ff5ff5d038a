package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// outputTailSize bounds the output kept for Result.Output.
	outputTailSize = 4096

	defaultGracefulTimeout = 10 * time.Second
)

// ErrNoCommand is returned when a Command has an empty Argv.
var ErrNoCommand = errors.New("process: no command configured")

// Command describes a one-shot subprocess.
type Command struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Argv is the executable followed by its arguments.
	Argv []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory. If empty, inherits from parent.
	WorkDir string

	// Timeout bounds the whole run. Zero means no limit beyond ctx.
	Timeout time.Duration

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Result describes a finished command.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner starts commands.
type Runner struct {
	logger Logger
}

// NewRunner returns a Runner. A nil logger discards output.
func NewRunner(logger Logger) *Runner {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Runner{logger: logger}
}

// Handle is a started command.
type Handle struct {
	name   string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	start  time.Time
	tail   *tailBuffer
	logger Logger

	result Result
	err    error
	copied chan struct{}
}

// Start launches c and returns once the process is running. Cancelling ctx
// terminates the process group.
func (r *Runner) Start(ctx context.Context, c Command) (*Handle, error) {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return nil, ErrNoCommand
	}
	name := c.Name
	if name == "" {
		name = c.Argv[0]
	}
	graceful := c.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(runCtx, c.Argv[0], c.Argv[1:]...) //nolint:gosec // argv comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the process group created via Setpgid.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = graceful
	if c.Env != nil {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.logger.Info("starting command", "name", name, "argv", c.Argv)
	if err := cmd.Start(); err != nil {
		cancel()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	h := &Handle{
		name:   name,
		cmd:    cmd,
		cancel: cancel,
		start:  time.Now(),
		tail:   &tailBuffer{max: outputTailSize},
		logger: r.logger,
		copied: make(chan struct{}),
	}
	go h.captureOutput(pr)
	go func() {
		h.finish(cmd.Wait())
		pw.Close()
	}()

	r.logger.Info("command started", "name", name, "pid", cmd.Process.Pid)
	return h, nil
}

// Run starts c and waits for it to finish.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	h, err := r.Start(ctx, c)
	if err != nil {
		return Result{}, err
	}
	return h.Wait()
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Wait blocks until the command exits. A non-zero exit returns an error
// alongside the Result.
func (h *Handle) Wait() (Result, error) {
	<-h.copied
	return h.result, h.err
}

// Stop terminates the process group and waits for exit.
func (h *Handle) Stop() (Result, error) {
	h.cancel()
	return h.Wait()
}

func (h *Handle) finish(waitErr error) {
	h.result = Result{
		ExitCode: h.cmd.ProcessState.ExitCode(),
		Duration: time.Since(h.start),
	}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		h.err = fmt.Errorf("%s exited with code %d: %w", h.name, h.result.ExitCode, waitErr)
	default:
		h.err = fmt.Errorf("waiting for %s: %w", h.name, waitErr)
	}
	h.cancel()
}

// captureOutput logs each output line and keeps the tail. The pipe closes
// only after finish has run, so the deferred report sees the result.
func (h *Handle) captureOutput(r io.Reader) {
	defer func() {
		h.result.Output = h.tail.String()
		if h.err != nil {
			h.logger.Warn("command failed", "name", h.name, "error", h.err, "duration", h.result.Duration)
		} else {
			h.logger.Info("command finished", "name", h.name, "duration", h.result.Duration)
		}
		close(h.copied)
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		h.tail.WriteLine(line)
		h.logger.Debug("command output", "name", h.name, "output", line)
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("output stream closed", "name", h.name, "error", err)
		// Drain so the writer side never blocks.
		io.Copy(io.Discard, r) //nolint:errcheck // best effort
	}
}

// tailBuffer keeps the last max bytes of output, on line boundaries.
type tailBuffer struct {
	max   int
	lines []string
	size  int
}

func (t *tailBuffer) WriteLine(line string) {
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.max && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tailBuffer) String() string {
	var out []byte
	for i, l := range t.lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return string(out)
}
