package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}
	return iss
}

func TestIssueVerify(t *testing.T) {
	iss := testIssuer(t)

	token, err := iss.Issue("jane@example.com", RolePatient)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "jane@example.com" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.Role != RolePatient {
		t.Errorf("role = %q", claims.Role)
	}
}

func TestVerifyRejects(t *testing.T) {
	iss := testIssuer(t)

	t.Run("garbage", func(t *testing.T) {
		if _, err := iss.Verify("not.a.token"); err == nil {
			t.Fatal("expected error for malformed token")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := NewIssuer([]byte("other-secret"), time.Hour)
		token, _ := other.Issue("jane@example.com", RolePatient)
		if _, err := iss.Verify(token); err == nil {
			t.Fatal("expected error for foreign signature")
		}
	})

	t.Run("expired", func(t *testing.T) {
		short, _ := NewIssuer([]byte("test-secret"), time.Nanosecond)
		token, _ := short.Issue("jane@example.com", RolePatient)
		time.Sleep(10 * time.Millisecond)
		if _, err := iss.Verify(token); err == nil {
			t.Fatal("expected error for expired token")
		}
	})
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(nil, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestMiddlewareAndRoles(t *testing.T) {
	iss := testIssuer(t)

	e := echo.New()
	e.Use(Middleware(iss))
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, Subject(c)+"/"+Role(c))
	})
	e.GET("/staff", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RequireRole(RoleClinician, RoleAdmin))

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing token", func(t *testing.T) {
		if rec := do("/me", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, _ := iss.Issue("jane@example.com", RolePatient)
		rec := do("/me", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != "jane@example.com/patient" {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("role denied", func(t *testing.T) {
		token, _ := iss.Issue("jane@example.com", RolePatient)
		if rec := do("/staff", token); rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("role allowed", func(t *testing.T) {
		token, _ := iss.Issue("dr@example.com", RoleClinician)
		if rec := do("/staff", token); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}
