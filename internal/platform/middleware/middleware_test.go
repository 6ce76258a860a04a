package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")

	err := RequestID()(func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return okHandler(c)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, "my-custom-id")

	RequestID()(func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return okHandler(c)
	})(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c, _ := newContext(http.MethodGet, "/api/v1/accounts")
	c.Set("request_id", "req-1")

	if err := Logger(logger)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one json log line, got %q", buf.String())
	}
	if line["request_id"] != "req-1" || line["path"] != "/api/v1/accounts" {
		t.Errorf("unexpected log fields: %v", line)
	}
	if line["level"] != "info" {
		t.Errorf("expected info level, got %v", line["level"])
	}
}

func TestLogger_HandlerError(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c, rec := newContext(http.MethodPost, "/api/v1/accounts/x/close")

	err := Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "account is already closed")
	})(c)
	if err != nil {
		t.Fatalf("expected error to be handled, got %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 written, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected warn log, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/panic")

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/ok")
	if err := Recovery(zerolog.Nop())(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_RecordsClose(t *testing.T) {
	id := "6f1c2a8e-6d0b-4d3c-9a43-6b1f0a7e2c11"
	c, _ := newContext(http.MethodPost, "/api/v1/accounts/"+id+"/close")
	c.Set("request_id", "req-123")
	c.Set("tenant_id", "hospital_norte")
	ctx := auth.WithIdentity(c.Request().Context(), "cashier-1", "Ana", []string{"cashier"})
	c.SetRequest(c.Request().WithContext(ctx))

	var got []AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		got = append(got, e)
		return nil
	})
	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.Action != "close" || e.AccountID != id || e.Resource != "accounts" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.UserID != "cashier-1" || e.TenantID != "hospital_norte" || e.RequestID != "req-123" {
		t.Errorf("unexpected identity fields: %+v", e)
	}
	if e.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", e.StatusCode)
	}
}

func TestAudit_StatusFromError(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/accounts/not-a-uuid")
	var entry AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		entry = e
		return errors.New("store down")
	})
	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if entry.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", entry.StatusCode)
	}
	if entry.AccountID != "" {
		t.Errorf("expected no account id, got %q", entry.AccountID)
	}
}

func TestAudit_SkipsNonAPI(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/health")
	called := false
	rec := AuditRecorderFunc(func(AuditEntry) error {
		called = true
		return nil
	})
	Audit(zerolog.Nop(), rec)(okHandler)(c)
	if called {
		t.Error("expected /health to be skipped")
	}
}

func TestAuditAction(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/accounts", "read"},
		{http.MethodPost, "/api/v1/accounts", "create"},
		{http.MethodPost, "/api/v1/accounts/1/line-items", "create"},
		{http.MethodPost, "/api/v1/accounts/1/close", "close"},
		{http.MethodPut, "/api/v1/accounts/1/close", "close"},
		{http.MethodPatch, "/api/v1/accounts/1", "update"},
		{http.MethodDelete, "/api/v1/accounts/1", "delete"},
	}
	for _, tt := range tests {
		if got := auditAction(tt.method, tt.path); got != tt.want {
			t.Errorf("auditAction(%s, %s) = %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestRateLimit_Exceeded(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	h := mw(okHandler)

	for i := 0; i < 2; i++ {
		c, _ := newContext(http.MethodGet, "/")
		if err := h(c); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	c, rec := newContext(http.MethodGet, "/")
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected X-RateLimit-Remaining: 0")
	}
}

func TestRateLimit_SeparateTenants(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	for _, tenant := range []string{"hospital_a", "hospital_b"} {
		c, _ := newContext(http.MethodGet, "/")
		c.Set("jwt_tenant_id", tenant)
		if err := h(c); err != nil {
			t.Errorf("tenant %s: unexpected error: %v", tenant, err)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	if err := SecurityHeaders()(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s: expected %q, got %q", k, v, got)
		}
	}
}

func TestRequestTimeout_Exceeded(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/slow")
	err := RequestTimeout(10 * time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/fast")
	err := RequestTimeout(time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return okHandler(c)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
