package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/core"
	"github.com/blockterm/blockterm/internal/infrastructure/config"
	"github.com/blockterm/blockterm/internal/infrastructure/logging"
	"github.com/blockterm/blockterm/internal/infrastructure/monitoring"
	"github.com/blockterm/blockterm/internal/shared/id"
	"github.com/blockterm/blockterm/internal/shell"
	"github.com/blockterm/blockterm/internal/store"
	"github.com/blockterm/blockterm/internal/workspace"
)

const pollTick = 50 * time.Millisecond

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router   *gin.Engine
	config   *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	db       *store.Database
	sessions *store.SessionStore

	mu        sync.Mutex
	workspace *workspace.Workspace
	stopLoop  context.CancelFunc
}

// NewServer creates a server instance: it opens the database, restores the
// active session (creating a default one on first run), and registers all
// routes. The workspace loop starts immediately.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing blockterm server",
		zap.String("port", cfg.Server.Port),
		zap.String("db_path", cfg.Database.Path),
		zap.String("shell", cfg.Shell.Path),
	)

	metrics := monitoring.NewMetrics()

	db, err := store.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sessions := store.NewSessionStore(db, logger)

	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		db:       db,
		sessions: sessions,
	}

	session, err := sessions.GetActiveSession()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restore active session: %w", err)
	}
	if session == nil {
		session = core.NewSession("default", cfg.Shell.WorkingDirectory)
		if err := sessions.CreateSession(session); err != nil {
			db.Close()
			return nil, err
		}
		if err := sessions.SetActiveSession(session.ID); err != nil {
			db.Close()
			return nil, err
		}
		metrics.SessionsCreated.Inc()
		logger.Info("created default session", zap.String("session_id", session.ID.String()))
	} else {
		logger.Info("restored active session",
			zap.String("session_id", session.ID.String()),
			zap.Int("blocks", len(session.Blocks)),
		)
	}

	if err := s.swapWorkspace(session); err != nil {
		db.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Accept", "Origin", "Cache-Control"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)

	router.POST("/sessions", s.handleCreateSession)
	router.GET("/sessions", s.handleListSessions)
	router.GET("/sessions/:id", s.handleGetSession)
	router.DELETE("/sessions/:id", s.handleDeleteSession)
	router.POST("/sessions/:id/activate", s.handleActivateSession)
	router.GET("/sessions/:id/export", s.handleExportSession)

	router.POST("/execute", s.handleExecute)
	router.POST("/cancel", s.handleCancel)
	router.GET("/blocks", s.handleListBlocks)
	router.DELETE("/blocks", s.handleClearBlocks)
	router.POST("/blocks/:id/collapse", s.handleToggleCollapse)

	router.POST("/approvals", s.handleSubmitApproval)
	router.POST("/approvals/:id/approve", s.handleApprove)
	router.POST("/approvals/:id/reject", s.handleReject)

	router.GET("/stream", s.handleStream)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry(), promhttp.HandlerOpts{})))

	s.router = router
	logger.Info("server initialized")
	return s, nil
}

// Run starts the HTTP listener. Blocks until the listener fails.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close flushes unsaved state and releases resources.
func (s *Server) Close() error {
	s.logger.Info("shutting down server")

	s.mu.Lock()
	stop := s.stopLoop
	ws := s.workspace
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if ws != nil {
		if err := ws.ForceSave(); err != nil {
			s.logger.Error("final save failed", zap.Error(err))
		}
	}

	err := s.db.Close()
	s.logger.Sync()
	return err
}

// currentWorkspace returns the workspace bound to the active session.
func (s *Server) currentWorkspace() *workspace.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// swapWorkspace replaces the active workspace. The old workspace's loop is
// stopped first, which force-saves it on the way out.
func (s *Server) swapWorkspace(session *core.Session) error {
	executor, err := shell.NewExecutor(s.config.Shell.Path, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	saveInterval := time.Duration(s.config.Database.AutoSaveIntervalSec) * time.Second
	ws := workspace.New(session, executor, s.sessions, s.metrics, s.logger, saveInterval)

	s.mu.Lock()
	if s.stopLoop != nil {
		s.stopLoop()
	}
	old := s.workspace
	ctx, cancel := context.WithCancel(context.Background())
	s.workspace = ws
	s.stopLoop = cancel
	s.mu.Unlock()

	if old != nil {
		// Streaming clients of the retired workspace get end-of-stream
		// instead of a silent hang.
		old.CloseSubscribers()
	}
	go ws.Start(ctx, pollTick)
	return nil
}

func parseBlockParam(c *gin.Context) (id.BlockID, bool) {
	blockID, err := id.ParseBlockID(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid block id"})
		return "", false
	}
	return blockID, true
}

func parseSessionParam(c *gin.Context) (id.SessionID, bool) {
	sessionID, err := id.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid session id"})
		return "", false
	}
	return sessionID, true
}
