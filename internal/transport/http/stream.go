package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voicestudio-server/internal/domain/training"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleTrainingStream pushes session snapshots over a websocket until the
// run reaches a terminal stage or the client goes away.
func (s *Service) handleTrainingStream(c *gin.Context) {
	sessionID := c.Param("session_id")
	snapshot, ok := s.orchestrator.GetProgress(sessionID)
	if !ok {
		RespondError(c, http.StatusNotFound, "training session not found", nil)
		return
	}

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WarnTag("HTTP", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates := make(chan training.Session, 16)
	handler := func(sess training.Session) {
		select {
		case updates <- sess:
		default:
			// Slow consumer; the periodic poll below catches it up.
		}
	}
	if err := s.orchestrator.Subscribe(sessionID, handler); err != nil {
		s.logger.WarnTag("HTTP", "progress subscribe failed: %v", err)
		return
	}
	defer s.orchestrator.Unsubscribe(sessionID, handler)

	if s.pushSnapshot(conn, snapshot) {
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case sess := <-updates:
			if s.pushSnapshot(conn, sess) {
				return
			}
		case <-ticker.C:
			sess, ok := s.orchestrator.GetProgress(sessionID)
			if !ok {
				return
			}
			if s.pushSnapshot(conn, sess) {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// pushSnapshot writes one snapshot and reports whether the stream is done.
func (s *Service) pushSnapshot(conn *websocket.Conn, sess training.Session) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(sess); err != nil {
		return true
	}
	return sess.Stage == training.StageCompleted || sess.Stage == training.StageError
}
