// Package workspace coordinates the active session: it owns the block
// manager, feeds commands to the executor, drains output events into the
// running block, and schedules auto-save. Exactly one command runs at a
// time; a new command is refused while one is active.
package workspace

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/core"
	"github.com/blockterm/blockterm/internal/infrastructure/logging"
	"github.com/blockterm/blockterm/internal/infrastructure/monitoring"
	"github.com/blockterm/blockterm/internal/shared/id"
	"github.com/blockterm/blockterm/internal/shell"
	"github.com/blockterm/blockterm/internal/store"
)

// ErrCommandRunning is returned when a command is submitted while another is
// still active.
var ErrCommandRunning = errors.New("a command is already running")

// ErrNotPending is returned when approving or rejecting a block that is not
// awaiting approval.
var ErrNotPending = errors.New("block is not pending approval")

// Workspace binds one session to an executor and a store.
type Workspace struct {
	mu sync.Mutex

	session  *core.Session
	manager  *core.BlockManager
	executor *shell.Executor
	sessions *store.SessionStore // nil disables persistence
	metrics  *monitoring.Metrics // nil disables metrics
	logger   *logging.Logger

	events    <-chan shell.OutputEvent
	handle    *shell.ProcessHandle
	runningID id.BlockID

	saveNeeded   bool
	lastSave     time.Time
	saveInterval time.Duration

	subscribers map[int]chan shell.OutputEvent
	nextSubID   int
}

// New creates a workspace over the given session. Blocks already present on
// the session (a restored one) become resident in the manager.
func New(session *core.Session, executor *shell.Executor, sessions *store.SessionStore,
	metrics *monitoring.Metrics, logger *logging.Logger, saveInterval time.Duration) *Workspace {
	if logger == nil {
		logger = logging.NewNop()
	}
	manager := core.NewBlockManager()
	for _, b := range session.Blocks {
		manager.AddBlock(b)
	}
	executor.SetWorkingDirectory(session.WorkingDirectory)

	return &Workspace{
		session:      session,
		manager:      manager,
		executor:     executor,
		sessions:     sessions,
		metrics:      metrics,
		logger:       logger,
		lastSave:     time.Now(),
		saveInterval: saveInterval,
		subscribers:  make(map[int]chan shell.OutputEvent),
	}
}

// Session returns the bound session.
func (w *Workspace) Session() *core.Session {
	return w.session
}

// SnapshotBlocks returns deep copies of the block sequence in order, safe to
// read while the poll loop keeps mutating the live blocks.
func (w *Workspace) SnapshotBlocks() []*core.Block {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.Snapshot()
}

// BlockSnapshot returns a deep copy of one block, nil if absent.
func (w *Workspace) BlockSnapshot(blockID id.BlockID) *core.Block {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b := w.manager.GetBlock(blockID); b != nil {
		return b.Clone()
	}
	return nil
}

// BlockCount reports the number of resident blocks.
func (w *Workspace) BlockCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manager.Count()
}

// ClearBlocks drops every block. Refused while a command is running.
func (w *Workspace) ClearBlocks() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runningID != "" {
		return ErrCommandRunning
	}
	w.manager.ClearAll()
	w.saveNeeded = true
	return nil
}

// ToggleCollapsed flips the collapse flag on the given block. Missing IDs
// are no-ops.
func (w *Workspace) ToggleCollapsed(blockID id.BlockID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.manager.GetBlock(blockID) == nil {
		return
	}
	w.manager.ToggleCollapsed(blockID)
	w.saveNeeded = true
}

// IsRunning reports whether a command is currently executing.
func (w *Workspace) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runningID != ""
}

// RunningBlockID returns the ID of the running block, "" when idle.
func (w *Workspace) RunningBlockID() id.BlockID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runningID
}

// Run creates a block for the command and starts executing it. Refused while
// another command is running.
func (w *Workspace) Run(command string) (id.BlockID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runLocked(command)
}

// runLocked starts execution. Callers hold w.mu.
func (w *Workspace) runLocked(command string) (id.BlockID, error) {
	if w.runningID != "" {
		w.logger.Warn("command already running, ignoring new command",
			zap.String("command", command))
		return "", ErrCommandRunning
	}

	block := core.NewBlock(command, w.executor.WorkingDirectory())
	if err := block.StartExecution(); err != nil {
		return "", err
	}
	w.manager.AddBlock(block)
	w.session.Touch()
	w.saveNeeded = true

	w.logger.Info("executing command", zap.String("command", command))
	events, handle := w.executor.Execute(command)
	w.events = events
	w.handle = handle
	w.runningID = block.ID
	if w.metrics != nil {
		w.metrics.RecordCommandStart()
	}
	return block.ID, nil
}

// SubmitForApproval adds a PendingApproval block for an AI-suggested command.
// Nothing executes until Approve.
func (w *Workspace) SubmitForApproval(originalInput, command string) id.BlockID {
	w.mu.Lock()
	defer w.mu.Unlock()

	block := core.NewPendingApproval(originalInput, command, w.executor.WorkingDirectory())
	w.manager.AddBlock(block)
	w.session.Touch()
	w.saveNeeded = true
	return block.ID
}

// Approve executes a pending block's command as a fresh execution and
// removes the pending block. Returns the new running block's ID. A refusal
// (another command running) leaves the pending block in place so approval
// can be retried.
func (w *Workspace) Approve(blockID id.BlockID) (id.BlockID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	block := w.manager.GetBlock(blockID)
	if block == nil || block.State != core.StatePendingApproval {
		return "", ErrNotPending
	}
	if w.runningID != "" {
		return "", ErrCommandRunning
	}
	command := block.Command
	w.manager.RemoveBlock(blockID)
	return w.runLocked(command)
}

// Reject discards a pending block. Rejecting anything else is refused.
func (w *Workspace) Reject(blockID id.BlockID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	block := w.manager.GetBlock(blockID)
	if block == nil || block.State != core.StatePendingApproval {
		return ErrNotPending
	}
	w.manager.RemoveBlock(blockID)
	return nil
}

// CancelRunning cancels the active command. The handle escalates from
// SIGTERM to SIGKILL; the block settles into Cancelled immediately and any
// output that still trickles in is dropped.
func (w *Workspace) CancelRunning() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.runningID == "" {
		return nil
	}
	if block := w.manager.GetBlock(w.runningID); block != nil {
		if err := block.Cancel(); err != nil {
			return err
		}
	}
	w.handle.Cancel()
	w.saveNeeded = true
	return nil
}

// PollOutput drains pending output events without blocking, appending them
// to the running block. Returns true when the running command finished on
// this poll. Called on every tick of the caller's loop.
func (w *Workspace) PollOutput() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.events == nil {
		return false
	}

	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				w.finishRun()
				return true
			}
			w.applyEvent(ev)
			if ev.Kind == shell.EventExit {
				w.finishRun()
				return true
			}
		default:
			return false
		}
	}
}

// applyEvent mutates the running block for one event and fans it out to
// subscribers. Stale events against a block that was cancelled or removed
// are dropped.
func (w *Workspace) applyEvent(ev shell.OutputEvent) {
	block := w.manager.GetBlock(w.runningID)

	switch ev.Kind {
	case shell.EventStdout, shell.EventStderr:
		if block != nil {
			if err := block.AppendOutput(ev.Text); err == nil {
				w.saveNeeded = true
			}
		}
	case shell.EventExit:
		if block != nil && block.State == core.StateRunning {
			if err := block.CompleteExecution(ev.Code); err != nil {
				w.logger.Error("failed to complete block", zap.Error(err))
			}
			if w.metrics != nil {
				w.metrics.RecordCommandEnd(string(block.State), block.Metadata.Duration)
			}
		} else if w.metrics != nil {
			w.metrics.RecordCommandEnd(string(core.StateCancelled), 0)
		}
		w.session.Touch()
		w.saveNeeded = true
		w.logger.Info("command exited", zap.Int("exit_code", ev.Code))
	}

	for _, sub := range w.subscribers {
		select {
		case sub <- ev:
		default:
			// Slow subscriber: drop rather than stall the drain.
		}
	}
}

func (w *Workspace) finishRun() {
	w.events = nil
	w.handle = nil
	w.runningID = ""
}

// Subscribe registers a live output-event feed (used by streaming clients).
// The returned cancel function must be called to release it.
func (w *Workspace) Subscribe() (<-chan shell.OutputEvent, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	subID := w.nextSubID
	w.nextSubID++
	ch := make(chan shell.OutputEvent, 256)
	w.subscribers[subID] = ch

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subscribers[subID]; ok {
			delete(w.subscribers, subID)
			close(ch)
		}
	}
	return ch, cancel
}

// CloseSubscribers closes every subscriber channel, signaling end-of-stream.
// Called when the workspace is retired so streaming clients can reconnect to
// its replacement instead of hanging.
func (w *Workspace) CloseSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for subID, ch := range w.subscribers {
		delete(w.subscribers, subID)
		close(ch)
	}
}

// SaveNeeded reports whether unsaved mutations are pending.
func (w *Workspace) SaveNeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveNeeded
}

// MarkDirty flags the workspace for the next auto-save round.
func (w *Workspace) MarkDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saveNeeded = true
}
