package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/marcelo/licita-radar/internal/db"
)

func requestContext(token string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/start", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func mustToken(t *testing.T, role string) (uuid.UUID, string) {
	t.Helper()
	user := &db.User{ID: uuid.New(), Email: "ops@example.com", Role: role}
	token, err := generateToken(user)
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	return user.ID, token
}

func TestMiddlewareSetsOperatorIdentity(t *testing.T) {
	userID, token := mustToken(t, RoleAdmin)
	c := requestContext(token)

	called := false
	h := Middleware(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("middleware rejected a valid token: %v", err)
	}
	if !called {
		t.Fatal("next handler not invoked")
	}

	id, err := OperatorID(c)
	if err != nil {
		t.Fatal(err)
	}
	if id != userID {
		t.Errorf("operator ID = %s, want %s", id, userID)
	}
	if role, _ := c.Get(string(RoleKey)).(string); role != RoleAdmin {
		t.Errorf("role = %q, want %q", role, RoleAdmin)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	c := requestContext("")
	h := Middleware(func(c echo.Context) error { return nil })

	var httpErr *echo.HTTPError
	if err := h(c); !errors.As(err, &httpErr) || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRequireAdminBlocksViewerToken(t *testing.T) {
	_, token := mustToken(t, "viewer")
	c := requestContext(token)

	h := Middleware(RequireAdmin(func(c echo.Context) error {
		t.Fatal("handler must not run for a non-admin token")
		return nil
	}))

	var httpErr *echo.HTTPError
	if err := h(c); !errors.As(err, &httpErr) || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireAdminAllowsAdminToken(t *testing.T) {
	_, token := mustToken(t, RoleAdmin)
	c := requestContext(token)

	called := false
	h := Middleware(RequireAdmin(func(c echo.Context) error {
		called = true
		return nil
	}))
	if err := h(c); err != nil {
		t.Fatalf("admin token rejected: %v", err)
	}
	if !called {
		t.Fatal("handler not invoked for an admin token")
	}
}
