package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockterm/blockterm/internal/infrastructure/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "server.db")
	cfg.Shell.Path = "/bin/bash"
	cfg.Shell.WorkingDirectory = t.TempDir()
	cfg.Database.AutoSaveIntervalSec = 0

	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// waitForIdle polls /blocks until no command is running.
func waitForIdle(t *testing.T, s *Server, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		w := doRequest(s, http.MethodGet, "/blocks", nil)
		if decode(t, w)["running"] == false {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("command did not finish in time")
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestCreateAndListSessions(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/sessions", gin.H{"name": "work"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(s, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "work")
	assert.Contains(t, w.Body.String(), "default")
}

func TestCreateSessionRequiresName(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteCommand(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/execute", gin.H{"command": "echo 'Hello, World!'"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, decode(t, w)["block_id"])

	waitForIdle(t, s, 10*time.Second)

	w = doRequest(s, http.MethodGet, "/blocks", nil)
	assert.Contains(t, w.Body.String(), "Hello, World!")
	assert.Contains(t, w.Body.String(), "Completed")
}

func TestExecuteConflictWhileRunning(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/execute", gin.H{"command": "sleep 5"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(s, http.MethodPost, "/execute", gin.H{"command": "echo nope"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(s, http.MethodPost, "/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	waitForIdle(t, s, 15*time.Second)
}

func TestExportFormats(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/execute", gin.H{"command": "echo exported"})
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForIdle(t, s, 10*time.Second)
	require.NoError(t, s.currentWorkspace().ForceSave())

	sessionID := s.currentWorkspace().Session().ID.String()

	w = doRequest(s, http.MethodGet, fmt.Sprintf("/sessions/%s/export?format=markdown", sessionID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# Session:"))
	assert.Contains(t, w.Body.String(), "echo exported")

	w = doRequest(s, http.MethodGet, fmt.Sprintf("/sessions/%s/export?format=text", sessionID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "$ echo exported")

	w = doRequest(s, http.MethodGet, fmt.Sprintf("/sessions/%s/export", sessionID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = doRequest(s, http.MethodGet, fmt.Sprintf("/sessions/%s/export?format=docx", sessionID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionLookupErrors(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodGet, "/sessions/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteActiveSessionRefused(t *testing.T) {
	s := newTestServer(t)
	sessionID := s.currentWorkspace().Session().ID.String()
	w := doRequest(s, http.MethodDelete, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestActivateSession(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/sessions", gin.H{"name": "second"})
	require.Equal(t, http.StatusCreated, w.Code)
	session := decode(t, w)["session"].(map[string]any)
	sessionID := session["id"].(string)

	w = doRequest(s, http.MethodPost, "/sessions/"+sessionID+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, sessionID, decode(t, w)["session_id"])
}

func TestApprovalEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/approvals", gin.H{
		"original_input": "say hi",
		"command":        "echo hi",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	blockID := decode(t, w)["block_id"].(string)

	w = doRequest(s, http.MethodPost, "/approvals/"+blockID+"/approve", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForIdle(t, s, 10*time.Second)

	w = doRequest(s, http.MethodGet, "/blocks", nil)
	assert.Contains(t, w.Body.String(), "hi")

	// The pending block was consumed by the approval.
	w = doRequest(s, http.MethodPost, "/approvals/"+blockID+"/reject", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectApproval(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/approvals", gin.H{"command": "rm -rf /"})
	require.Equal(t, http.StatusCreated, w.Code)
	blockID := decode(t, w)["block_id"].(string)

	w = doRequest(s, http.MethodPost, "/approvals/"+blockID+"/reject", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/blocks", nil)
	assert.NotContains(t, w.Body.String(), "rm -rf")
}

func TestClearBlocks(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/execute", gin.H{"command": "echo gone"})
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForIdle(t, s, 10*time.Second)

	w = doRequest(s, http.MethodDelete, "/blocks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/blocks", nil)
	assert.NotContains(t, w.Body.String(), "gone")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blockterm_")
}
