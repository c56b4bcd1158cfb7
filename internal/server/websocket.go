package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/retroboard/retroboard/internal/protocol"
)

// readLoop reads and dispatches messages until the connection closes.
// It runs in the connection's handler goroutine; returning triggers
// the deferred session teardown. No read deadline is set: the server
// never drops a session for going quiet, only for transport errors.
func (s *Server) readLoop(ctx context.Context, sess *Session) {
	for {
		var msg protocol.Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				sess.logger.Warn("read error", "error", err)
				s.metrics.RecordWebSocketError("read")
			}
			return
		}
		s.gateway.Dispatch(ctx, sess, msg)

		// A logout dispatch closes the session; stop reading instead
		// of surfacing the resulting error.
		if sess.closed.Load() {
			return
		}
	}
}

// writePump is the session's single connection writer. It drains the
// send queue until the session closes.
func (s *Server) writePump(sess *Session) {
	writeTimeout := s.config.WriteTimeout()

	for {
		select {
		case msg := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.conn.WriteJSON(msg); err != nil {
				sess.logger.Debug("write error", "error", err)
				s.metrics.RecordWebSocketError("write")
				sess.Close()
				return
			}

		case <-sess.done:
			return
		}
	}
}
