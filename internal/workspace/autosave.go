package workspace

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/core"
	"github.com/blockterm/blockterm/internal/shared/id"
)

// AutoSave persists the block sequence when both gates pass: the save
// interval has elapsed and something is dirty. It writes from a snapshot
// clone so it never races live mutation. The dirty flag resets only after a
// fully successful round; failures leave it set so the next tick retries.
func (w *Workspace) AutoSave() error {
	w.mu.Lock()
	if w.sessions == nil || !w.saveNeeded || time.Since(w.lastSave) < w.saveInterval {
		w.mu.Unlock()
		return nil
	}
	snapshot := w.manager.Snapshot()
	sessionID := w.session.ID
	w.mu.Unlock()

	if err := w.saveSnapshot(snapshot, sessionID); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastSave = time.Now()
	w.saveNeeded = false
	w.mu.Unlock()
	return nil
}

// ForceSave persists immediately, ignoring the interval gate. Used on
// shutdown and session switches.
func (w *Workspace) ForceSave() error {
	w.mu.Lock()
	if w.sessions == nil {
		w.mu.Unlock()
		return nil
	}
	snapshot := w.manager.Snapshot()
	sessionID := w.session.ID
	w.mu.Unlock()

	if err := w.saveSnapshot(snapshot, sessionID); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastSave = time.Now()
	w.saveNeeded = false
	w.mu.Unlock()
	return nil
}

// saveSnapshot writes every block with its position as block_order, then
// bumps the session timestamp. Runs without the workspace lock held.
func (w *Workspace) saveSnapshot(snapshot []*core.Block, sessionID id.SessionID) error {
	for i, block := range snapshot {
		if err := w.sessions.SaveBlock(sessionID, block, i); err != nil {
			if w.metrics != nil {
				w.metrics.SaveErrors.Inc()
			}
			w.logger.Error("failed to save block",
				zap.String("block_id", block.ID.String()), zap.Error(err))
			return err
		}
		if w.metrics != nil {
			w.metrics.BlocksSaved.Inc()
		}
	}
	if err := w.sessions.TouchSession(sessionID); err != nil {
		if w.metrics != nil {
			w.metrics.SaveErrors.Inc()
		}
		return err
	}
	if w.metrics != nil {
		w.metrics.SaveRounds.Inc()
	}
	w.logger.Debug("auto-saved session",
		zap.String("session_id", sessionID.String()),
		zap.Int("blocks", len(snapshot)),
	)
	return nil
}

// Start runs the caller-side loop: on every tick it polls pending output
// into the running block, then gives auto-save a chance. Blocks until ctx is
// cancelled; a final forced save runs on the way out.
func (w *Workspace) Start(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := w.ForceSave(); err != nil {
				w.logger.Error("final save failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			w.PollOutput()
			if err := w.AutoSave(); err != nil {
				w.logger.Error("auto-save failed", zap.Error(err))
			}
		}
	}
}
