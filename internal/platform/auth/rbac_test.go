package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, userRoles []string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, userRoles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	return rec, RequireRole(required...)(handler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runRequireRole(t, []string{"cashier"}, "admin", "cashier")
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	_, err := runRequireRole(t, []string{"admin"}, "cashier")
	if err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runRequireRole(t, []string{"nurse"}, "cashier")
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	_, err := runRequireRole(t, nil, "cashier")
	if err == nil {
		t.Error("expected error without roles")
	}
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		roles    []string
		required []string
		want     bool
	}{
		{[]string{"cashier"}, []string{"cashier"}, true},
		{[]string{"nurse", "cashier"}, []string{"admin", "cashier"}, true},
		{[]string{"admin"}, []string{"cashier"}, true},
		{[]string{"nurse"}, []string{"cashier"}, false},
		{nil, []string{"cashier"}, false},
		{[]string{"cashier"}, nil, false},
	}
	for _, tt := range tests {
		ctx := WithIdentity(context.Background(), "u", "u", tt.roles)
		if got := HasAnyRole(ctx, tt.required...); got != tt.want {
			t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.roles, tt.required, got, tt.want)
		}
	}
}
