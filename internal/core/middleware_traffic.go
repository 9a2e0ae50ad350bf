package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crosswatch/internal/types"
)

// defaultRateLimitWindow is the fallback window when the configuration does
// not specify one.
const defaultRateLimitWindow = time.Minute

// defaultRateLimitMax is the fallback maximum number of requests per window.
// The snapshot endpoint triggers a VLM call on every request, so the budget
// protects the analysis backend more than the HTTP layer itself.
const defaultRateLimitMax = 120

// rateLimitExemptPaths lists URL paths that bypass rate limiting. Load
// balancer health probes poll frequently from a single address and must
// never be throttled.
var rateLimitExemptPaths = map[string]bool{
	"/health":       true,
	"/openapi.json": true,
}

// RateLimit enforces a per-client request budget over a fixed window.
//
// The middleware keys the counter on the client IP (X-Forwarded-For aware)
// and calls RateLimitStore.IncrementAndCheck to atomically increment and
// check against the limit. Limit and window come from the Redis section of
// the configuration.
//
// If no RateLimitStore is configured (local development, tests), the
// middleware passes through without rate limiting. Monitoring paths listed
// in rateLimitExemptPaths always pass through.
//
// On store errors the middleware fails open: a Redis outage must not take
// the snapshot API down with it.
//
// On every request (allowed or not), the middleware sets standard rate limit
// response headers:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Unix timestamp when the window resets.
//
// When rate limited, the middleware also sets:
//   - Retry-After: Seconds until the rate limit window resets.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no rate limit store is configured, pass through.
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Skip rate limiting for monitoring paths.
		if rateLimitExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := extractClientIP(r)
		if clientIP == "" {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.rateLimitParams()

		result, err := s.RateLimitStore.IncrementAndCheck(
			r.Context(),
			clientIP,
			limit,
			window,
		)
		if err != nil {
			// Fail open: allow the request through but log the error. A rate
			// limit store outage must not block all API traffic.
			s.Logger.Error("rate limit store error",
				slog.String("client_ip", clientIP),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		// Set rate limit headers on every response (allowed or denied).
		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("client_ip", clientIP),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			// Set Retry-After header for 429 responses.
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			requestID := types.GetRequestID(r.Context())
			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry after the reset time.",
					RequestID: requestID,
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitParams resolves the configured limit and window, falling back to
// package defaults when the configuration does not specify them.
func (s *Server) rateLimitParams() (int, time.Duration) {
	limit := defaultRateLimitMax
	window := defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.Redis.RequestsPerWindow > 0 {
			limit = s.Config.Redis.RequestsPerWindow
		}
		if s.Config.Redis.Window > 0 {
			window = s.Config.Redis.Window
		}
	}
	return limit, window
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers to the response.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP returns the client IP for rate limit keying, preferring the
// X-Forwarded-For header (set by the edge proxy) over the socket address.
func extractClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (standard for proxied requests).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2".
		// The first entry is the original client IP.
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	// Fall back to RemoteAddr, stripping the port if present.
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not have a port (e.g., in tests).
		return r.RemoteAddr
	}
	return ip
}
