package record

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/campusclinic/clinicq/internal/platform/auth"
)

func newRequest(method, target, body string, sess *auth.Session) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if sess != nil {
		req = req.WithContext(auth.WithSession(req.Context(), sess))
	}
	return req
}

func studentSession(id uuid.UUID) *auth.Session {
	return &auth.Session{UserID: id.String(), Kind: auth.KindStudent, Role: auth.RoleStudent}
}

func staffSession(id uuid.UUID) *auth.Session {
	return &auth.Session{UserID: id.String(), Kind: auth.KindStaff, Role: auth.RoleStaff}
}

func TestHandler_UpdateRecord(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	studentID, staffID := uuid.New(), uuid.New()

	req := newRequest(http.MethodPut, "/", `{"blood_type":"ab-","allergies":"Latex"}`, staffSession(staffID))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("studentID")
	c.SetParamValues(studentID.String())

	if err := h.UpdateRecord(c); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p Precord
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *p.BloodType != "AB-" || *p.Allergies != "Latex" {
		t.Errorf("unexpected precord %+v", p)
	}

	req = newRequest(http.MethodPut, "/", `{"blood_type":"C"}`, staffSession(staffID))
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("studentID")
	c.SetParamValues(studentID.String())
	err := h.UpdateRecord(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetOwnRecord_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	c := echo.New().NewContext(newRequest(http.MethodGet, "/", "", studentSession(uuid.New())), httptest.NewRecorder())

	err := h.GetOwnRecord(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_GetOwnHistory_OnlyOwn(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	owner := uuid.New()
	hist, err := svc.RecordVisit(context.Background(), Visit{AppointmentID: uuid.New(), StudentID: owner, Diagnosis: "Flu"})
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", studentSession(owner)), rec)
	c.SetParamNames("id")
	c.SetParamValues(hist.ID.String())
	if err := h.GetOwnHistory(c); err != nil {
		t.Fatalf("GetOwnHistory: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"diagnosis":"Flu"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", studentSession(uuid.New())), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(hist.ID.String())
	err = h.GetOwnHistory(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another student's history, got %v", err)
	}
}

func TestHandler_ListHistory(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	studentID := uuid.New()

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(newRequest(http.MethodGet, "/?limit=5", "", staffSession(uuid.New())), rec)
	c.SetParamNames("studentID")
	c.SetParamValues(studentID.String())
	if err := h.ListHistory(c); err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) || !strings.Contains(rec.Body.String(), `"limit":5`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	c := echo.New().NewContext(newRequest(http.MethodGet, "/", "", nil), httptest.NewRecorder())
	err := h.ListOwnHistory(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRoutesRequireRoles(t *testing.T) {
	svc, _, _ := newTestService()
	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))

	req := newRequest(http.MethodGet, "/api/v1/staff/records/"+uuid.NewString(), "", studentSession(uuid.New()))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("student on staff route: expected 403, got %d", rec.Code)
	}
}
