package core

import (
	"fmt"
	"time"

	"github.com/blockterm/blockterm/internal/shared/id"
)

// BlockState is the lifecycle state of a block.
//
// Editing and PendingApproval are the only non-terminal, non-running states.
// Completed, Failed, and Cancelled are terminal.
type BlockState string

const (
	StateEditing         BlockState = "Editing"
	StatePendingApproval BlockState = "PendingApproval"
	StateRunning         BlockState = "Running"
	StateCompleted       BlockState = "Completed"
	StateFailed          BlockState = "Failed"
	StateCancelled       BlockState = "Cancelled"
)

// ParseState maps a persisted state string back to a BlockState. Unknown
// strings degrade to Completed so a corrupt row never aborts a session load.
func ParseState(s string) BlockState {
	switch BlockState(s) {
	case StateEditing, StatePendingApproval, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return BlockState(s)
	default:
		return StateCompleted
	}
}

// Metadata carries the execution context captured alongside a block.
type Metadata struct {
	Duration         time.Duration     `json:"duration"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// Block is one command's full lifecycle: the text executed, its accumulated
// output, exit status, and timing metadata.
type Block struct {
	ID          id.BlockID `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Command     string     `json:"command"`
	Output      string     `json:"output"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	State       BlockState `json:"state"`
	Metadata    Metadata   `json:"metadata"`
	IsCollapsed bool       `json:"is_collapsed"`
	IsSelected  bool       `json:"is_selected"`

	// OriginalInput holds the natural-language request a generated command
	// came from. Empty for commands typed directly.
	OriginalInput string `json:"original_input,omitempty"`
}

// NewBlock creates a block in Editing with empty output and no exit code.
func NewBlock(command, workingDirectory string) *Block {
	return &Block{
		ID:        id.NewBlockID(),
		Timestamp: time.Now().UTC(),
		Command:   command,
		State:     StateEditing,
		Metadata: Metadata{
			WorkingDirectory: workingDirectory,
			Environment:      make(map[string]string),
		},
	}
}

// NewPendingApproval creates a block for an AI-suggested command that must be
// confirmed before it runs.
func NewPendingApproval(originalInput, command, workingDirectory string) *Block {
	b := NewBlock(command, workingDirectory)
	b.State = StatePendingApproval
	b.OriginalInput = originalInput
	return b
}

// StartExecution transitions the block to Running and records the start time.
// Valid only from Editing or PendingApproval; callers serialize executions.
func (b *Block) StartExecution() error {
	if b.State != StateEditing && b.State != StatePendingApproval {
		return fmt.Errorf("cannot start execution from state %s", b.State)
	}
	now := time.Now().UTC()
	b.State = StateRunning
	b.Metadata.StartedAt = &now
	return nil
}

// AppendOutput concatenates text to the output buffer. Only valid while
// Running; the executor decides chunking, no line buffering is imposed here.
func (b *Block) AppendOutput(text string) error {
	if b.State != StateRunning {
		return fmt.Errorf("cannot append output in state %s", b.State)
	}
	b.Output += text
	return nil
}

// CompleteExecution records the exit code and timing, then settles the block
// into Completed (exit code 0) or Failed (anything else). The exit code is
// the sole success/failure policy.
func (b *Block) CompleteExecution(exitCode int) error {
	if b.State != StateRunning {
		return fmt.Errorf("cannot complete execution in state %s", b.State)
	}
	now := time.Now().UTC()
	b.ExitCode = &exitCode
	b.Metadata.CompletedAt = &now
	if exitCode == 0 {
		b.State = StateCompleted
	} else {
		b.State = StateFailed
	}
	if b.Metadata.StartedAt != nil {
		b.Metadata.Duration = now.Sub(*b.Metadata.StartedAt)
	}
	return nil
}

// Cancel moves a running block to Cancelled. The exit code stays unset.
func (b *Block) Cancel() error {
	if b.State != StateRunning {
		return fmt.Errorf("cannot cancel in state %s", b.State)
	}
	b.State = StateCancelled
	return nil
}

// ToggleCollapsed flips the presentation collapse flag.
func (b *Block) ToggleCollapsed() {
	b.IsCollapsed = !b.IsCollapsed
}

// SetSelected sets the selection flag. Mutated only by the manager.
func (b *Block) SetSelected(selected bool) {
	b.IsSelected = selected
}

// IsRunning reports whether the block is currently executing.
func (b *Block) IsRunning() bool {
	return b.State == StateRunning
}

// IsTerminal reports whether the block reached a terminal state.
func (b *Block) IsTerminal() bool {
	switch b.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// DisplayCommand truncates long commands for single-line presentation.
func (b *Block) DisplayCommand() string {
	if len(b.Command) > 100 {
		return b.Command[:97] + "..."
	}
	return b.Command
}

// DisplayOutput returns the output, or nothing when collapsed.
func (b *Block) DisplayOutput() string {
	if b.IsCollapsed {
		return ""
	}
	return b.Output
}

// FormatDuration renders the duration as "Ns" above one second, "Nms" below,
// and empty when the block has not completed.
func (b *Block) FormatDuration() string {
	if b.Metadata.CompletedAt == nil || b.Metadata.StartedAt == nil {
		return ""
	}
	d := b.Metadata.Duration
	if d >= time.Second {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// Clone returns a deep copy, used for persistence snapshots so the saver
// never races with live mutation.
func (b *Block) Clone() *Block {
	cp := *b
	if b.ExitCode != nil {
		code := *b.ExitCode
		cp.ExitCode = &code
	}
	if b.Metadata.StartedAt != nil {
		t := *b.Metadata.StartedAt
		cp.Metadata.StartedAt = &t
	}
	if b.Metadata.CompletedAt != nil {
		t := *b.Metadata.CompletedAt
		cp.Metadata.CompletedAt = &t
	}
	cp.Metadata.Environment = make(map[string]string, len(b.Metadata.Environment))
	for k, v := range b.Metadata.Environment {
		cp.Metadata.Environment[k] = v
	}
	return &cp
}
