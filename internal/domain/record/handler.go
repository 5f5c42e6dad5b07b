package record

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/campusclinic/clinicq/internal/platform/auth"
	"github.com/campusclinic/clinicq/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	student := api.Group("/student", auth.RequireStudent())
	student.GET("/record", h.GetOwnRecord)
	student.GET("/history", h.ListOwnHistory)
	student.GET("/history/:id", h.GetOwnHistory)

	staff := api.Group("/staff", auth.RequireStaff())
	staff.GET("/records/:studentID", h.GetRecord)
	staff.PUT("/records/:studentID", h.UpdateRecord)
	staff.GET("/records/:studentID/history", h.ListHistory)
	staff.GET("/history/:id", h.GetHistory)
}

// -- Student --

func (h *Handler) GetOwnRecord(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListOwnHistory(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	return h.listHistory(c, id)
}

func (h *Handler) GetOwnHistory(c echo.Context) error {
	studentID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	hist, err := h.svc.GetHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if hist.StudentID != studentID {
		return httpError(ErrNotFound)
	}
	return c.JSON(http.StatusOK, hist)
}

// -- Staff --

func (h *Handler) GetRecord(c echo.Context) error {
	studentID, err := uuid.Parse(c.Param("studentID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	p, err := h.svc.GetPrecord(c.Request().Context(), studentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	studentID, err := uuid.Parse(c.Param("studentID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	var u PrecordUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdatePrecord(c.Request().Context(), studentID, staffID, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListHistory(c echo.Context) error {
	studentID, err := uuid.Parse(c.Param("studentID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	return h.listHistory(c, studentID)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	hist, err := h.svc.GetHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hist)
}

func (h *Handler) listHistory(c echo.Context, studentID uuid.UUID) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListHistory(c.Request().Context(), studentID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*History{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func sessionUserID(c echo.Context) (uuid.UUID, error) {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(sess.UserID)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrHistoryExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
