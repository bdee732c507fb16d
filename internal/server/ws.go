package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blockterm/blockterm/internal/shell"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type streamFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Code      *int   `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func frameFor(ev shell.OutputEvent) streamFrame {
	frame := streamFrame{Timestamp: time.Now().Unix()}
	switch ev.Kind {
	case shell.EventStdout:
		frame.Type = "stdout"
		frame.Text = ev.Text
	case shell.EventStderr:
		frame.Type = "stderr"
		frame.Text = ev.Text
	case shell.EventExit:
		frame.Type = "exit"
		code := ev.Code
		frame.Code = &code
	}
	return frame
}

// handleStream upgrades to WebSocket and forwards the active workspace's
// output events as JSON frames. The subscription is bound to the workspace
// active at connect time; clients reconnect after a session switch.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()

	events, cancel := s.currentWorkspace().Subscribe()
	defer cancel()

	conn.WriteJSON(streamFrame{Type: "connected", Timestamp: time.Now().Unix()})

	// Read pump: discard client messages, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Workspace retired (session switch); tell the client to
				// reconnect rather than leaving it hanging.
				conn.WriteJSON(streamFrame{Type: "closed", Timestamp: time.Now().Unix()})
				return
			}
			if err := conn.WriteJSON(frameFor(ev)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
