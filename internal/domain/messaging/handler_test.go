package messaging

import (
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

func newTestRouter() (*echo.Echo, *Service, *mockNotificationRepo, *mockMessageRepo) {
	svc, n, m, _ := newTestService()
	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))
	return e, svc, n, m
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_StaffNotifiesStudent(t *testing.T) {
	e, _, repo, _ := newTestRouter()
	studentID, staffID := uuid.New(), uuid.New()
	staff := &auth.Session{UserID: staffID.String(), Kind: auth.KindStaff, Role: auth.RoleStaff}
	student := &auth.Session{UserID: studentID.String(), Kind: auth.KindStudent, Role: auth.RoleStudent}

	body := `{"student_id":"` + studentID.String() + `","title":"Reminder","body":"Bring your ID","kind":"appointment"}`
	rec := serve(e, newRequest(http.MethodPost, "/api/v1/staff/notifications", body, staff))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if repo.items[0].StaffID == nil || *repo.items[0].StaffID != staffID {
		t.Error("sender staff id should be taken from the session")
	}

	rec = serve(e, newRequest(http.MethodGet, "/api/v1/student/notifications/unread-count", "", student))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"unread":1}` {
		t.Fatalf("unread count: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, newRequest(http.MethodPost, "/api/v1/student/notifications/"+repo.items[0].ID.String()+"/read", "", student))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read: expected 204, got %d", rec.Code)
	}

	rec = serve(e, newRequest(http.MethodGet, "/api/v1/student/notifications?unread=true", "", student))
	var page struct {
		Data  []Notification `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 0 || page.Data == nil {
		t.Errorf("expected an empty list, got %s", rec.Body.String())
	}

	rec = serve(e, newRequest(http.MethodPost, "/api/v1/student/notifications/"+uuid.NewString()+"/read", "", student))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown notification: expected 404, got %d", rec.Code)
	}
}

func TestHandler_SendNotification_Validation(t *testing.T) {
	e, _, _, _ := newTestRouter()
	staff := &auth.Session{UserID: uuid.NewString(), Kind: auth.KindStaff, Role: auth.RoleStaff}

	if rec := serve(e, newRequest(http.MethodPost, "/api/v1/staff/notifications", `{"title":"x","body":"y"}`, staff)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing student: expected 400, got %d", rec.Code)
	}
	body := `{"student_id":"` + uuid.NewString() + `","title":"","body":"y"}`
	if rec := serve(e, newRequest(http.MethodPost, "/api/v1/staff/notifications", body, staff)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing title: expected 400, got %d", rec.Code)
	}
}

func TestHandler_Chat(t *testing.T) {
	e, _, _, msgs := newTestRouter()
	studentID := uuid.New()
	student := &auth.Session{UserID: studentID.String(), Kind: auth.KindStudent, Role: auth.RoleStudent}
	staff := &auth.Session{UserID: uuid.NewString(), Kind: auth.KindStaff, Role: auth.RoleStaff}

	if rec := serve(e, newRequest(http.MethodPost, "/api/v1/student/messages", `{"body":"Hello"}`, student)); rec.Code != http.StatusCreated {
		t.Fatalf("student send: expected 201, got %d", rec.Code)
	}
	if rec := serve(e, newRequest(http.MethodPost, "/api/v1/student/messages", `{"body":""}`, student)); rec.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", rec.Code)
	}

	rec := serve(e, newRequest(http.MethodGet, "/api/v1/staff/messages", "", staff))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"unread_count":1`) {
		t.Fatalf("inbox: %d %s", rec.Code, rec.Body.String())
	}

	path := "/api/v1/staff/messages/" + studentID.String()
	if rec := serve(e, newRequest(http.MethodPost, path, `{"body":"Hi, how can we help?"}`, staff)); rec.Code != http.StatusCreated {
		t.Fatalf("staff send: expected 201, got %d", rec.Code)
	}
	if rec := serve(e, newRequest(http.MethodPost, path+"/read", "", staff)); rec.Code != http.StatusOK {
		t.Fatalf("staff read: expected 200, got %d", rec.Code)
	}
	if !msgs.items[0].IsRead || msgs.items[1].IsRead {
		t.Error("staff should only mark the student's messages read")
	}

	rec = serve(e, newRequest(http.MethodGet, "/api/v1/student/messages", "", student))
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("student conversation: %s", rec.Body.String())
	}
	if rec := serve(e, newRequest(http.MethodGet, "/api/v1/staff/messages/not-a-uuid", "", staff)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestHandler_RequiresKind(t *testing.T) {
	e, _, _, _ := newTestRouter()
	student := &auth.Session{UserID: uuid.NewString(), Kind: auth.KindStudent, Role: auth.RoleStudent}
	if rec := serve(e, newRequest(http.MethodGet, "/api/v1/staff/messages", "", student)); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if rec := serve(e, newRequest(http.MethodGet, "/api/v1/student/messages", "", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHTTPError(t *testing.T) {
	var he *echo.HTTPError
	if !errors.As(httpError(ErrNotFound), &he) || he.Code != http.StatusNotFound {
		t.Error("ErrNotFound should map to 404")
	}
	plain := errors.New("boom")
	if httpError(plain) != plain {
		t.Error("unmapped errors should pass through")
	}
}
