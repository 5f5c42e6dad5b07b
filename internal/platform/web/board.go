package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var ErrBoardNotFound = errors.New("queue board not found")

// Board is the data shown on a queue display.
type Board struct {
	Date         string
	StartTime    string
	EndTime      string
	NowServing   []int
	Next         []int
	WaitingCount int
	UpdatedAt    time.Time
}

// BoardSource loads the current state of a schedule's queue.
type BoardSource interface {
	Board(ctx context.Context, scheduleID uuid.UUID) (*Board, error)
}

type page struct {
	Title      string
	ClinicName string
	Refresh    int
	Board      *Board
}

// BoardHandler serves GET /board/:scheduleID.
type BoardHandler struct {
	source     BoardSource
	clinicName string
	refresh    int
}

func NewBoardHandler(source BoardSource, clinicName string) *BoardHandler {
	return &BoardHandler{source: source, clinicName: clinicName, refresh: 15}
}

func (h *BoardHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/board/:scheduleID", h.Show)
}

func (h *BoardHandler) Show(c echo.Context) error {
	id, err := uuid.Parse(c.Param("scheduleID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule id")
	}

	board, err := h.source.Board(c.Request().Context(), id)
	if errors.Is(err, ErrBoardNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	}
	if err != nil {
		return err
	}

	return c.Render(http.StatusOK, "board.html", page{
		Title:      "Queue",
		ClinicName: h.clinicName,
		Refresh:    h.refresh,
		Board:      board,
	})
}
