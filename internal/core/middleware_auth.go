package core

import (
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"crosswatch/internal/types"
)

// operatorKeyHeader carries the shared operator key on configuration
// mutation requests.
const operatorKeyHeader = "X-Operator-Key"

// RequireOperatorKey wraps handlers that mutate runtime configuration.
//
//  1. Extracts the plaintext key from the X-Operator-Key header.
//  2. Compares it against the bcrypt hash from configuration.
//  3. Returns 401 Unauthorized on failure with distinct error codes:
//     - auth_operator_key_missing: No X-Operator-Key header.
//     - auth_operator_key_invalid: Key does not match the configured hash.
//
// If no operator key hash is configured (local development), the middleware
// passes through without authentication. NewServer logs a warning at startup
// when running in that mode.
//
// Read endpoints never pass through this middleware; it is applied per route
// by the configuration handler, not globally.
func (s *Server) RequireOperatorKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no hash is configured, pass through.
		if s.Config == nil || !s.Config.Security.OperatorAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(operatorKeyHeader)
		if key == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthOperatorKeyMissing, "X-Operator-Key header is required")
			return
		}

		hash := s.Config.Security.OperatorKeyHash.Unmask()
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				s.Logger.Warn("operator key rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
			} else {
				// The hash itself is malformed. Still a 401 for the caller,
				// but the operator needs to fix the configured value.
				s.Logger.Error("operator key hash could not be compared",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			s.writeAuthError(w, r, types.ErrCodeAuthOperatorKeyInvalid, "Invalid operator key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeAuthError writes a 401 Unauthorized JSON response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	requestID := types.GetRequestID(r.Context())
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: requestID,
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}
