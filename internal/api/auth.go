package api

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"notifyreplay/internal/types"
)

// apiKeyHeader carries the caller's key.
const apiKeyHeader = "X-API-Key"

// APIKeyAuth rejects requests whose X-API-Key does not match the configured
// bcrypt hash.
func (s *Server) APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthMissingKey, "X-API-Key header is required", nil))
			return
		}
		if err := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)); err != nil {
			s.logger.Warn("api key rejected",
				"request_id", types.GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthInvalidKey, "invalid API key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
