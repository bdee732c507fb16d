package core

import (
	"fmt"

	"github.com/blockterm/blockterm/internal/shared/id"
)

// BlockManager owns the ordered block sequence for the active session and
// mediates all reads and writes to it. At most one block is selected at a
// time.
//
// Every by-ID operation on a missing ID is a no-op returning the zero value.
// Asynchronous completion handlers may race against block removal, so stale
// IDs must be harmless rather than errors.
type BlockManager struct {
	blocks   []*Block
	selected id.BlockID
}

// NewBlockManager creates an empty manager.
func NewBlockManager() *BlockManager {
	return &BlockManager{}
}

// AddBlock appends a block and returns its ID.
func (m *BlockManager) AddBlock(block *Block) id.BlockID {
	m.blocks = append(m.blocks, block)
	return block.ID
}

// GetBlock looks a block up by ID, nil if absent.
func (m *BlockManager) GetBlock(blockID id.BlockID) *Block {
	for _, b := range m.blocks {
		if b.ID == blockID {
			return b
		}
	}
	return nil
}

// Blocks returns the live ordered sequence. Callers must not reorder it.
func (m *BlockManager) Blocks() []*Block {
	return m.blocks
}

// Snapshot returns deep copies of all blocks in order, safe to hand to the
// persistence task while the live sequence keeps mutating.
func (m *BlockManager) Snapshot() []*Block {
	out := make([]*Block, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.Clone()
	}
	return out
}

// RemoveBlock removes and returns the block, nil if absent.
func (m *BlockManager) RemoveBlock(blockID id.BlockID) *Block {
	for i, b := range m.blocks {
		if b.ID == blockID {
			m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
			if m.selected == blockID {
				m.selected = ""
			}
			return b
		}
	}
	return nil
}

// ClearAll drops every block and the selection together.
func (m *BlockManager) ClearAll() {
	m.blocks = nil
	m.selected = ""
}

// Count reports the number of resident blocks.
func (m *BlockManager) Count() int {
	return len(m.blocks)
}

// SelectBlock marks the given block selected and deselects all others.
// Selecting a missing ID leaves nothing selected.
func (m *BlockManager) SelectBlock(blockID id.BlockID) {
	for _, b := range m.blocks {
		b.SetSelected(false)
	}
	m.selected = ""
	if b := m.GetBlock(blockID); b != nil {
		b.SetSelected(true)
		m.selected = blockID
	}
}

// DeselectAll clears the selection.
func (m *BlockManager) DeselectAll() {
	for _, b := range m.blocks {
		b.SetSelected(false)
	}
	m.selected = ""
}

// SelectedBlock returns the selected block, nil when nothing is selected.
func (m *BlockManager) SelectedBlock() *Block {
	if m.selected == "" {
		return nil
	}
	return m.GetBlock(m.selected)
}

// ToggleCollapsed flips the collapse flag on the given block.
func (m *BlockManager) ToggleCollapsed(blockID id.BlockID) {
	if b := m.GetBlock(blockID); b != nil {
		b.ToggleCollapsed()
	}
}

// RunningBlocks returns the blocks currently in Running state.
func (m *BlockManager) RunningBlocks() []*Block {
	var running []*Block
	for _, b := range m.blocks {
		if b.IsRunning() {
			running = append(running, b)
		}
	}
	return running
}

// LastBlock returns the most recently appended block, nil when empty.
func (m *BlockManager) LastBlock() *Block {
	if len(m.blocks) == 0 {
		return nil
	}
	return m.blocks[len(m.blocks)-1]
}

// CopyBlockCommand returns the block's command text.
func (m *BlockManager) CopyBlockCommand(blockID id.BlockID) string {
	if b := m.GetBlock(blockID); b != nil {
		return b.Command
	}
	return ""
}

// CopyBlockOutput returns the block's accumulated output.
func (m *BlockManager) CopyBlockOutput(blockID id.BlockID) string {
	if b := m.GetBlock(blockID); b != nil {
		return b.Output
	}
	return ""
}

// CopyBlockFull returns a shell-transcript rendering of the block. A missing
// exit code renders as -1.
func (m *BlockManager) CopyBlockFull(blockID id.BlockID) string {
	b := m.GetBlock(blockID)
	if b == nil {
		return ""
	}
	code := -1
	if b.ExitCode != nil {
		code = *b.ExitCode
	}
	return fmt.Sprintf("$ %s\n%s\n[Exit code: %d]", b.Command, b.Output, code)
}

// DuplicateBlockForEdit clones the command and working directory of an
// existing block into a fresh Editing block, leaving the original untouched.
// Returns the new ID, or "" when the source block is missing.
func (m *BlockManager) DuplicateBlockForEdit(blockID id.BlockID) id.BlockID {
	original := m.GetBlock(blockID)
	if original == nil {
		return ""
	}
	fresh := NewBlock(original.Command, original.Metadata.WorkingDirectory)
	m.blocks = append(m.blocks, fresh)
	return fresh.ID
}
