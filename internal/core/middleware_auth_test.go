package core

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"crosswatch/internal/config"
	"crosswatch/internal/types"
)

// --- RequireOperatorKey Tests ---

func TestRequireOperatorKey_ValidKey_CallsNext(t *testing.T) {
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "operator-secret-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("next handler should be called for a valid operator key")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestRequireOperatorKey_MissingHeader_Returns401(t *testing.T) {
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	// No X-Operator-Key header.
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if nextCalled {
		t.Error("next handler should NOT be called when the operator key header is missing")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeAuthOperatorKeyMissing) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeAuthOperatorKeyMissing, resp.Error.Code)
	}
}

func TestRequireOperatorKey_WrongKey_Returns401(t *testing.T) {
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "not-the-operator-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if nextCalled {
		t.Error("next handler should NOT be called for a wrong operator key")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeAuthOperatorKeyInvalid) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeAuthOperatorKeyInvalid, resp.Error.Code)
	}
	// The body must not reveal why the comparison failed.
	if resp.Error.Message != "Invalid operator key" {
		t.Errorf("unexpected error message: %q", resp.Error.Message)
	}
}

func TestRequireOperatorKey_EmptyHeaderValue_TreatedAsMissing(t *testing.T) {
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeAuthOperatorKeyMissing) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeAuthOperatorKeyMissing, resp.Error.Code)
	}
}

func TestRequireOperatorKey_NoHashConfigured_PassesThrough(t *testing.T) {
	// When no operator key hash is configured, auth is disabled and the
	// middleware passes every request through unchallenged.
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := &Server{
		Config: &config.Config{},
		Logger: logger,
	}

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	// No header at all.
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("next handler should be called when operator auth is disabled")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestRequireOperatorKey_NilConfig_PassesThrough(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv := &Server{Logger: logger}

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("next handler should be called when Config is nil")
	}
}

func TestRequireOperatorKey_MalformedStoredHash_Returns401(t *testing.T) {
	// A corrupted hash in config must fail closed with 401, never 500,
	// and never accidentally accept the key.
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := &config.Config{}
	cfg.Security.OperatorKeyHash = types.SecretString("not-a-bcrypt-hash")
	srv := &Server{Config: cfg, Logger: logger}

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "any-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if nextCalled {
		t.Error("next handler should NOT be called when the stored hash is malformed")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeAuthOperatorKeyInvalid) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeAuthOperatorKeyInvalid, resp.Error.Code)
	}
}

func TestRequireOperatorKey_MalformedStoredHash_LogsError(t *testing.T) {
	buf := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := &config.Config{}
	cfg.Security.OperatorKeyHash = types.SecretString("not-a-bcrypt-hash")
	srv := &Server{Config: cfg, Logger: logger}

	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "any-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "ERROR") {
		t.Errorf("a malformed hash should be logged at ERROR level, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "operator key hash could not be compared") {
		t.Errorf("log should name the comparison failure, got: %s", logOutput)
	}
}

func TestRequireOperatorKey_WrongKey_LogsWarn(t *testing.T) {
	key := "operator-secret-key"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate test hash: %v", err)
	}

	buf := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := &config.Config{}
	cfg.Security.OperatorKeyHash = types.SecretString(hash)
	srv := &Server{Config: cfg, Logger: logger}

	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "wrong-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "WARN") {
		t.Errorf("a rejected key should be logged at WARN level, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "operator key rejected") {
		t.Errorf("log should record the rejection, got: %s", logOutput)
	}
	// The presented key must never appear in logs.
	if strings.Contains(logOutput, "wrong-key") {
		t.Error("the presented operator key should not be logged")
	}
}

func TestRequireOperatorKey_PreservesRequestID(t *testing.T) {
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "bad-key")
	ctx := types.WithRequestID(req.Context(), "req_auth_test_999")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.RequestID != "req_auth_test_999" {
		t.Errorf("expected request_id %q, got %q", "req_auth_test_999", resp.Error.RequestID)
	}
}

func TestRequireOperatorKey_ErrorResponseContentType(t *testing.T) {
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
}

func TestRequireOperatorKey_AsRouteMiddleware(t *testing.T) {
	// The middleware is applied per-route, not globally: read endpoints on
	// the same router stay open while mutations are gated.
	srv := newTestServerForOperatorKey(t, "operator-secret-key")

	router := chi.NewRouter()
	router.Get("/v1/config", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.With(srv.RequireOperatorKey).Put("/v1/config/threshold", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Read endpoint requires no key.
	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /v1/config without key: expected 200, got %d", rec.Code)
	}

	// Mutation without key is rejected.
	req = httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("PUT /v1/config/threshold without key: expected 401, got %d", rec.Code)
	}

	// Mutation with the correct key succeeds.
	req = httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", "operator-secret-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("PUT /v1/config/threshold with key: expected 200, got %d", rec.Code)
	}
}

func TestRequireOperatorKey_KeyWithSpecialCharacters(t *testing.T) {
	srv := newTestServerForOperatorKey(t, `op/key+with==special&chars?`)

	nextCalled := false
	handler := srv.RequireOperatorKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/config/threshold", nil)
	req.Header.Set("X-Operator-Key", `op/key+with==special&chars?`)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("next handler should be called for a valid key with special characters")
	}
}

// --- Test Helpers ---

// newTestServerForOperatorKey builds a Server whose config carries a bcrypt
// hash of the given operator key. MinCost keeps the hashing fast in tests.
func newTestServerForOperatorKey(t *testing.T, key string) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate test hash: %v", err)
	}

	cfg := &config.Config{}
	cfg.Security.OperatorKeyHash = types.SecretString(hash)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return &Server{
		Config: cfg,
		Logger: logger,
	}
}
