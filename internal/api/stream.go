package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sandboxd/internal/executor"
	"sandboxd/internal/metrics"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamFrame is one JSON frame pushed over /executions/stream.
type streamFrame struct {
	Type    string              `json:"type"`
	Command *executor.PerCommand `json:"command,omitempty"`
	Result  *executor.Result     `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// handleExecuteStream implements GET /executions/stream (websocket):
// the same "config"/"environment" semantics as POST /execute/, but each
// PerCommand record is pushed as a frame the moment it completes rather
// than batched into one final response.
func (s *Server) handleExecuteStream(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("api: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	in, err := s.buildExecuteInput(c)
	if err != nil {
		writeStreamError(conn, err)
		return
	}

	var writeMu sync.Mutex
	onCommand := func(pc executor.PerCommand) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(streamFrame{Type: "command", Command: &pc})
	}

	start := time.Now()
	slot, err := s.pool.Acquire(c.Request.Context(), s.cfg.WaitForContainerDuration)
	if err != nil {
		writeStreamError(conn, err)
		return
	}
	defer s.pool.Release(slot)

	result, err := s.executor.RunStreaming(c.Request.Context(), slot, in, onCommand)
	duration := time.Since(start)
	if err != nil {
		metrics.Get().RecordExecution("error", duration)
		writeStreamError(conn, err)
		return
	}
	metrics.Get().RecordExecution(executionLabel(result.Status), duration)

	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.WriteJSON(streamFrame{Type: "result", Result: result})
}

func writeStreamError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(streamFrame{Type: "error", Error: err.Error()})
}
