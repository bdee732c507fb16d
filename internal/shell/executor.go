package shell

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/infrastructure/logging"
)

// EventKind discriminates output stream events.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventExit
)

// OutputEvent is one fragment of a command's output stream. The PTY merges
// the child's stdout and stderr into a single ordered byte stream, so line
// events arrive as Stdout in emission order; Exit is always the final event
// before the channel closes and is the authoritative end-of-stream signal.
type OutputEvent struct {
	Kind EventKind
	Text string
	Code int
}

const (
	readChunkSize  = 8192
	flushThreshold = 4096
	pollInterval   = 10 * time.Millisecond
	killGrace      = 3 * time.Second
)

// Executor runs command strings inside the configured shell with a
// pseudo-terminal attached, so children behave as they would interactively.
type Executor struct {
	shellPath        string
	workingDirectory string
	logger           *logging.Logger
}

// NewExecutor creates an executor for the given shell path, rooted at the
// current working directory. The shell path is not validated beyond the
// eventual spawn attempt.
func NewExecutor(shellPath string, logger *logging.Logger) (*Executor, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		shellPath:        shellPath,
		workingDirectory: wd,
		logger:           logger,
	}, nil
}

// NewDefaultExecutor uses $SHELL, falling back to /bin/bash.
func NewDefaultExecutor(logger *logging.Logger) (*Executor, error) {
	shellPath := os.Getenv("SHELL")
	if shellPath == "" {
		shellPath = "/bin/bash"
	}
	return NewExecutor(shellPath, logger)
}

// SetWorkingDirectory changes the directory future commands run in.
func (e *Executor) SetWorkingDirectory(path string) {
	e.workingDirectory = path
}

// WorkingDirectory returns the directory commands run in.
func (e *Executor) WorkingDirectory() string {
	return e.workingDirectory
}

// ShellPath returns the configured shell.
func (e *Executor) ShellPath() string {
	return e.shellPath
}

// rcWrapped prefixes the command with a best-effort source of the user's
// interactive rc file, suppressing its errors so they never pollute output.
func (e *Executor) rcWrapped(command string) string {
	rc := "~/.bashrc"
	if strings.Contains(e.shellPath, "zsh") {
		rc = "~/.zshrc"
	}
	return fmt.Sprintf("[ -f %s ] && source %s 2>/dev/null; %s", rc, rc, command)
}

// Execute runs the command asynchronously and returns a live, ordered event
// stream plus the process handle for cancellation. The call never blocks:
// PTY I/O runs on a dedicated worker, and the returned channel is fed through
// an unbounded queue so the worker never stalls on a slow consumer. All
// failure modes (PTY allocation, spawn, read errors) terminate the stream
// with a best-effort Exit(-1) rather than hanging.
func (e *Executor) Execute(command string) (<-chan OutputEvent, *ProcessHandle) {
	q := newEventQueue()
	handle := NewProcessHandle(command)

	go func() {
		defer q.close()
		e.run(command, handle, q)
	}()

	return q.events(), handle
}

func (e *Executor) run(command string, handle *ProcessHandle, q *eventQueue) {
	cmd := exec.Command(e.shellPath, "-c", e.rcWrapped(command))
	cmd.Dir = e.workingDirectory
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		e.logger.Error("command execution error", zap.String("command", command), zap.Error(err))
		q.push(OutputEvent{Kind: EventStdout, Text: fmt.Sprintf("Error: %v\n", err)})
		q.push(OutputEvent{Kind: EventExit, Code: -1})
		handle.SetExit(-1)
		return
	}
	defer ptmx.Close()

	// Watchdog: on cancellation send a graceful signal first, force-kill
	// after the grace period. Signals go to the process group (the shell is
	// a session leader under the PTY) so grandchildren holding the slave
	// open die too; otherwise the read loop would never see EIO. Runs off
	// the read loop so a child that ignores SIGTERM and goes silent still
	// dies.
	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !handle.Cancelled() {
					continue
				}
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
				select {
				case <-done:
				case <-time.After(killGrace):
					_ = syscall.Kill(-pgid, syscall.SIGKILL)
				}
				return
			}
		}
	}()

	var pending []byte
	chunk := make([]byte, readChunkSize)

	for {
		n, err := ptmx.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)

			// Forward completed lines.
			for {
				nl := bytes.IndexByte(pending, '\n')
				if nl < 0 {
					break
				}
				line := string(pending[:nl+1])
				pending = pending[nl+1:]
				q.push(OutputEvent{Kind: EventStdout, Text: line})
			}

			// Output without newlines (progress bars, spinners) would sit
			// in the buffer forever; flush past the threshold to bound
			// latency.
			if len(pending) > flushThreshold {
				q.push(OutputEvent{Kind: EventStdout, Text: string(pending)})
				pending = pending[:0]
			}
		}
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				// PTY descriptors are not reliably pollable through the
				// runtime's netpoller on every platform; bounded sleep and
				// retry instead.
				time.Sleep(pollInterval)
				continue
			}
			// EIO is the normal Linux signal that the slave side closed.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) {
				e.logger.Error("error reading from PTY", zap.Error(err))
			}
			break
		}
	}

	if len(pending) > 0 {
		q.push(OutputEvent{Kind: EventStdout, Text: string(pending)})
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			e.logger.Error("failed to wait for child process", zap.Error(err))
			exitCode = -1
		}
	}
	if exitCode < 0 {
		// Signal-terminated or unretrievable status maps to -1.
		exitCode = -1
	}

	e.logger.Debug("command exited",
		zap.String("command", command),
		zap.Int("exit_code", exitCode),
	)
	handle.SetExit(exitCode)
	q.push(OutputEvent{Kind: EventExit, Code: exitCode})
}

// ExecuteSync runs the command to completion and returns combined
// stdout+stderr plus the exit code, for callers that cannot consume a
// stream. It sources the rc file the same way Execute does.
func (e *Executor) ExecuteSync(command string) (string, int, error) {
	cmd := exec.Command(e.shellPath, "-c", e.rcWrapped(command))
	cmd.Dir = e.workingDirectory

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = -1
			}
			return string(out), code, nil
		}
		return "", -1, fmt.Errorf("failed to execute command: %w", err)
	}
	return string(out), 0, nil
}
