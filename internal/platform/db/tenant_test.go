package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		jwt    string
		header string
		query  string
		want   string
	}{
		{name: "token claim wins", jwt: "hospital_sur", header: "hospital_norte", query: "clinica", want: "hospital_sur"},
		{name: "header over query", header: "hospital_norte", query: "clinica", want: "hospital_norte"},
		{name: "query", query: "clinica", want: "clinica"},
		{name: "default", want: "default"},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?tenant_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			if tt.jwt != "" {
				c.Set("jwt_tenant_id", tt.jwt)
			}
			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("extractTenantID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTenantIDPattern(t *testing.T) {
	for _, v := range []string{"default", "hospital_norte", "H2"} {
		if !tenantIDPattern.MatchString(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range []string{"", "a-b", "a.b", "a b", "'; DROP TABLE account"} {
		if tenantIDPattern.MatchString(v) {
			t.Errorf("expected %q to be invalid", v)
		}
		if err := CreateTenantSchema(context.Background(), nil, v, nil); err == nil {
			t.Errorf("CreateTenantSchema(%q): expected error", v)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil || TxFromContext(ctx) != nil || TenantFromContext(ctx) != "" {
		t.Error("expected empty values from a bare context")
	}

	ctx = context.WithValue(ctx, TenantIDKey, "hospital_norte")
	ctx = context.WithValue(ctx, TxKey, "not-a-tx")
	if got := TenantFromContext(ctx); got != "hospital_norte" {
		t.Errorf("expected hospital_norte, got %q", got)
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx for a value of the wrong type")
	}

	if _, _, err := WithTx(context.Background()); err == nil {
		t.Error("expected error when no connection is in context")
	}
}

func TestTenantMiddleware_Skip(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	mw := TenantMiddleware(nil, "default", func(echo.Context) bool { return true })
	err := mw(func(c echo.Context) error {
		called = true
		if TenantFromContext(c.Request().Context()) != "" {
			t.Error("expected no tenant on skipped request")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected next handler to run")
	}
}

func TestTenantMiddleware_InvalidTenant(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	req.Header.Set("X-Tenant-ID", "bad-tenant")
	c := e.NewContext(req, httptest.NewRecorder())

	err := TenantMiddleware(nil, "default", nil)(func(c echo.Context) error {
		t.Error("handler should not run")
		return nil
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("hospital_norte"); got != "tenant_hospital_norte" {
		t.Errorf("expected tenant_hospital_norte, got %s", got)
	}
}
