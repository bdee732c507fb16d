package shell

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status describes where a spawned process is in its lifecycle.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFailed
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusKilled:
		return "Killed"
	}
	return "Unknown"
}

// ProcessHandle is the cancellation and status token for one execution. It is
// created per execution and discarded once the process ends; it is never
// persisted. The status cell is the only state shared between the caller and
// the executor's worker, so it sits behind a mutex; the cancellation flag is
// an atomic checked by the executor's watchdog.
type ProcessHandle struct {
	ID      string
	Command string

	mu       sync.Mutex
	status   Status
	exitCode int

	cancelled atomic.Bool
}

// NewProcessHandle creates a handle in Running state.
func NewProcessHandle(command string) *ProcessHandle {
	return &ProcessHandle{
		ID:      uuid.NewString(),
		Command: command,
		status:  StatusRunning,
	}
}

// Cancel requests cooperative cancellation and marks the handle Killed. The
// executor observes the flag and escalates from SIGTERM to SIGKILL to
// guarantee the child actually dies.
func (h *ProcessHandle) Cancel() {
	h.cancelled.Store(true)
	h.mu.Lock()
	h.status = StatusKilled
	h.mu.Unlock()
}

// Cancelled reports whether cancellation was requested.
func (h *ProcessHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// IsRunning reports whether the process is still running.
func (h *ProcessHandle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == StatusRunning
}

// Status returns the current status and, for Completed/Failed, the exit code.
func (h *ProcessHandle) Status() (Status, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exitCode
}

// SetExit records the terminal status for the given exit code. A handle
// already marked Killed stays Killed.
func (h *ProcessHandle) SetExit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusKilled {
		return
	}
	h.exitCode = code
	if code == 0 {
		h.status = StatusCompleted
	} else {
		h.status = StatusFailed
	}
}
