package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/core"
	"github.com/blockterm/blockterm/internal/export"
	"github.com/blockterm/blockterm/internal/workspace"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "blockterm",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ws := s.currentWorkspace()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"session_id":     ws.Session().ID,
		"blocks":         ws.BlockCount(),
		"running":        ws.IsRunning(),
		"uptime_seconds": int(s.metrics.Uptime().Seconds()),
	})
}

type createSessionRequest struct {
	Name             string `json:"name" binding:"required"`
	WorkingDirectory string `json:"working_directory"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.WorkingDirectory == "" {
		req.WorkingDirectory = s.config.Shell.WorkingDirectory
	}

	session := core.NewSession(req.Name, req.WorkingDirectory)
	if err := s.sessions.CreateSession(session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.metrics.SessionsCreated.Inc()

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.sessions.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sessionID, ok := parseSessionParam(c)
	if !ok {
		return
	}
	session, err := s.sessions.LoadSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	sessionID, ok := parseSessionParam(c)
	if !ok {
		return
	}
	if sessionID == s.currentWorkspace().Session().ID {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot delete the active session"})
		return
	}
	if err := s.sessions.DeleteSession(sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": sessionID})
}

// handleActivateSession saves the current workspace, flags the target session
// active, and binds a fresh workspace to it.
func (s *Server) handleActivateSession(c *gin.Context) {
	sessionID, ok := parseSessionParam(c)
	if !ok {
		return
	}
	if s.currentWorkspace().IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "a command is running in the active session"})
		return
	}

	session, err := s.sessions.LoadSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.currentWorkspace().ForceSave(); err != nil {
		s.logger.Error("failed to save outgoing session", zap.Error(err))
	}
	if err := s.sessions.SetActiveSession(sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.swapWorkspace(session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": sessionID})
}

func (s *Server) handleExportSession(c *gin.Context) {
	sessionID, ok := parseSessionParam(c)
	if !ok {
		return
	}
	session, err := s.sessions.LoadSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	exported := export.New(session)
	switch c.DefaultQuery("format", "json") {
	case "json":
		data, err := exported.ToJSON()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(data))
	case "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(exported.ToMarkdown()))
	case "text":
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(exported.ToText()))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown format"})
	}
}

type executeRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blockID, err := s.currentWorkspace().Run(req.Command)
	if err != nil {
		if errors.Is(err, workspace.ErrCommandRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"block_id": blockID})
}

func (s *Server) handleCancel(c *gin.Context) {
	ws := s.currentWorkspace()
	blockID := ws.RunningBlockID()
	if err := ws.CancelRunning(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": blockID})
}

func (s *Server) handleListBlocks(c *gin.Context) {
	ws := s.currentWorkspace()
	c.JSON(http.StatusOK, gin.H{
		"blocks":  ws.SnapshotBlocks(),
		"running": ws.IsRunning(),
	})
}

func (s *Server) handleClearBlocks(c *gin.Context) {
	if err := s.currentWorkspace().ClearBlocks(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleToggleCollapse(c *gin.Context) {
	blockID, ok := parseBlockParam(c)
	if !ok {
		return
	}
	s.currentWorkspace().ToggleCollapsed(blockID)
	c.JSON(http.StatusOK, gin.H{"block_id": blockID})
}

type approvalRequest struct {
	OriginalInput string `json:"original_input"`
	Command       string `json:"command" binding:"required"`
}

func (s *Server) handleSubmitApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	blockID := s.currentWorkspace().SubmitForApproval(req.OriginalInput, req.Command)
	c.JSON(http.StatusCreated, gin.H{"block_id": blockID})
}

func (s *Server) handleApprove(c *gin.Context) {
	blockID, ok := parseBlockParam(c)
	if !ok {
		return
	}
	runID, err := s.currentWorkspace().Approve(blockID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotPending) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, workspace.ErrCommandRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"block_id": runID})
}

func (s *Server) handleReject(c *gin.Context) {
	blockID, ok := parseBlockParam(c)
	if !ok {
		return
	}
	if err := s.currentWorkspace().Reject(blockID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": blockID})
}
