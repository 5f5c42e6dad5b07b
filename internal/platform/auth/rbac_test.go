package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func contextWith(sess *Session) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if sess != nil {
		req = req.WithContext(WithSession(req.Context(), sess))
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func staffSession(role string) *Session {
	return &Session{UserID: "staff-1", Kind: KindStaff, Role: role, ExpiresAt: time.Now().Add(time.Hour)}
}

func studentSession() *Session {
	return &Session{UserID: "student-1", Kind: KindStudent, Role: RoleStudent, ExpiresAt: time.Now().Add(time.Hour)}
}

func ok(c echo.Context) error { return c.NoContent(http.StatusOK) }

func httpCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return http.StatusOK
	}
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	return httpErr.Code
}

func TestRequireSession(t *testing.T) {
	if code := httpCode(t, RequireSession()(ok)(contextWith(nil))); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for anonymous, got %d", code)
	}
	if code := httpCode(t, RequireSession()(ok)(contextWith(studentSession()))); code != http.StatusOK {
		t.Errorf("expected 200 with session, got %d", code)
	}
}

func TestRequireStudent(t *testing.T) {
	tests := []struct {
		name string
		sess *Session
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"student", studentSession(), http.StatusOK},
		{"staff", staffSession(RoleStaff), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := httpCode(t, RequireStudent()(ok)(contextWith(tt.sess))); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestRequireStaff(t *testing.T) {
	tests := []struct {
		name string
		sess *Session
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"student", studentSession(), http.StatusForbidden},
		{"staff", staffSession(RoleStaff), http.StatusOK},
		{"admin", staffSession(RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := httpCode(t, RequireStaff()(ok)(contextWith(tt.sess))); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		sess *Session
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"staff lacks admin", staffSession(RoleStaff), http.StatusForbidden},
		{"admin", staffSession(RoleAdmin), http.StatusOK},
		{"student", studentSession(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := httpCode(t, RequireRole(RoleAdmin)(ok)(contextWith(tt.sess))); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestRequireRole_AdminPassesAnyRole(t *testing.T) {
	if code := httpCode(t, RequireRole(RoleStaff)(ok)(contextWith(staffSession(RoleAdmin)))); code != http.StatusOK {
		t.Errorf("expected admin to pass staff role check, got %d", code)
	}
}
