package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// auth wraps a handler with bearer-token authentication and in-flight
// tracking for graceful shutdown.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.track() {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		defer s.inFlight.Done()

		if !s.authorized(r) {
			s.logger.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).
				Msg("Rejected unauthenticated request")
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		// WebSocket clients cannot always set headers.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}
