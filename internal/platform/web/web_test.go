package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type fakeSource struct {
	board *Board
	err   error
}

func (f fakeSource) Board(context.Context, uuid.UUID) (*Board, error) {
	return f.board, f.err
}

func newBoardContext(t *testing.T, id string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	e := echo.New()
	e.Renderer = r
	req := httptest.NewRequest(http.MethodGet, "/board/"+id, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("scheduleID")
	c.SetParamValues(id)
	return c, rec
}

func TestBoardHandler_Show(t *testing.T) {
	board := &Board{
		Date:         "2026-03-02",
		StartTime:    "08:00",
		EndTime:      "12:00",
		NowServing:   []int{7},
		Next:         []int{8, 9},
		WaitingCount: 2,
		UpdatedAt:    time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	h := NewBoardHandler(fakeSource{board: board}, "Campus <Clinic>")
	c, rec := newBoardContext(t, uuid.NewString())

	if err := h.Show(c); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Now serving", `<li class="number">7</li>`, `<li class="number">9</li>`, "2 waiting", "9:30 AM", `content="15"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}
	if strings.Contains(body, "Campus <Clinic>") {
		t.Error("expected clinic name to be escaped")
	}
}

func TestBoardHandler_EmptyQueue(t *testing.T) {
	h := NewBoardHandler(fakeSource{board: &Board{UpdatedAt: time.Now()}}, "Clinic")
	c, rec := newBoardContext(t, uuid.NewString())

	if err := h.Show(c); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "The queue is empty.") {
		t.Error("expected empty queue message")
	}
}

func TestBoardHandler_Errors(t *testing.T) {
	tests := []struct {
		name string
		id   string
		err  error
		code int
	}{
		{"bad id", "not-a-uuid", nil, http.StatusBadRequest},
		{"missing", uuid.NewString(), ErrBoardNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBoardHandler(fakeSource{err: tt.err}, "Clinic")
			c, _ := newBoardContext(t, tt.id)
			err := h.Show(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.code {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	var sb strings.Builder
	if err := r.Render(&sb, "missing.html", nil, nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
