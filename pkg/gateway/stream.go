package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingPeriod   = 30 * time.Second
)

// handleStream upgrades to WebSocket and forwards telemetry events as JSON
// until the client disconnects. Slow clients lose events rather than slowing
// the pipeline; the broadcaster buffers per subscriber.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry stream is not enabled")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.cfg.Broadcaster.Subscribe()
	defer cancel()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Stream client connected")

	// Reader detects disconnects; inbound frames are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Msg("Stream write failed, dropping client")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
