package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/campusclinic/clinicq/internal/domain/record"
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
	student.GET("/schedules", h.ListBookable)
	student.GET("/appointments", h.ListOwnAppointments)
	student.POST("/appointments", h.Book)
	student.GET("/appointments/:id", h.GetOwnAppointment)
	student.POST("/appointments/:id/cancel", h.CancelOwn)

	staff := api.Group("/staff", auth.RequireStaff())
	staff.GET("/schedules", h.ListSchedules)
	staff.POST("/schedules", h.CreateSchedule)
	staff.GET("/schedules/:id", h.GetSchedule)
	staff.PUT("/schedules/:id", h.UpdateSchedule)
	staff.PATCH("/schedules/:id/availability", h.SetAvailability)
	staff.DELETE("/schedules/:id", h.DeleteSchedule)

	staff.GET("/appointments", h.SearchAppointments)
	staff.POST("/appointments/walk-in", h.CreateWalkIn)
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.POST("/appointments/:id/confirm", h.Confirm)
	staff.POST("/appointments/:id/queue-number", h.AssignQueueNumber)
	staff.POST("/appointments/:id/triage", h.Triage)
	staff.POST("/appointments/:id/complete", h.Complete)
	staff.POST("/appointments/:id/cancel", h.Cancel)

	staff.GET("/queue/:scheduleID", h.Queue)
	staff.POST("/queue/:scheduleID/call-next", h.CallNext)
}

// -- Student --

func (h *Handler) ListBookable(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBookable(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Schedule{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListOwnAppointments(c echo.Context) error {
	studentID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStudentAppointments(c.Request().Context(), studentID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appointmentPage(items, total, pg))
}

func (h *Handler) Book(c echo.Context) error {
	studentID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	var in BookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), studentID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetOwnAppointment(c echo.Context) error {
	studentID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if a.StudentID != studentID {
		return httpError(ErrAppointmentNotFound)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelOwn(c echo.Context) error {
	studentID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	return h.cancel(c, Actor{ID: studentID, Student: true})
}

// -- Staff: schedules --

func (h *Handler) ListSchedules(c echo.Context) error {
	var f ScheduleFilter
	if v := c.QueryParam("from"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be formatted YYYY-MM-DD")
		}
		f.From = &d
	}
	if v := c.QueryParam("to"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be formatted YYYY-MM-DD")
		}
		f.To = &d
	}
	f.AvailableOnly, _ = strconv.ParseBool(c.QueryParam("available"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSchedules(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Schedule{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sc, err := h.svc.CreateSchedule(c.Request().Context(), staffID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sc, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sc, err := h.svc.UpdateSchedule(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) SetAvailability(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		IsAvailable *bool `json:"is_available"`
	}
	if err := c.Bind(&body); err != nil || body.IsAvailable == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_available is required")
	}
	sc, err := h.svc.SetAvailability(c.Request().Context(), id, *body.IsAvailable)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Staff: appointments --

func (h *Handler) SearchAppointments(c echo.Context) error {
	f := AppointmentFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("schedule_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule_id")
		}
		f.ScheduleID = &id
	}
	if v := c.QueryParam("student_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid student_id")
		}
		f.StudentID = &id
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
		}
		f.Date = &d
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appointmentPage(items, total, pg))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateWalkIn(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	var in WalkInInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CreateWalkIn(c.Request().Context(), staffID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Confirm(c.Request().Context(), staffID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AssignQueueNumber(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.AssignQueueNumber(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Triage(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in TriageInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Triage(c.Request().Context(), staffID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Complete(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in CompleteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Complete(c.Request().Context(), staffID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	return h.cancel(c, Actor{ID: staffID})
}

func (h *Handler) cancel(c echo.Context, actor Actor) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body cancelRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Cancel(c.Request().Context(), actor, id, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Staff: queue --

func (h *Handler) Queue(c echo.Context) error {
	id, err := pathID(c, "scheduleID")
	if err != nil {
		return err
	}
	v, err := h.svc.QueueView(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CallNext(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "scheduleID")
	if err != nil {
		return err
	}
	a, err := h.svc.CallNext(c.Request().Context(), staffID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func appointmentPage(items []*Appointment, total int, pg pagination.Params) *pagination.Response {
	if items == nil {
		items = []*Appointment{}
	}
	return pagination.NewResponse(items, total, pg.Limit, pg.Offset)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
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
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Message)
	case errors.Is(err, ErrScheduleNotFound), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrScheduleUnavailable), errors.Is(err, ErrSchedulePast),
		errors.Is(err, ErrScheduleFull), errors.Is(err, ErrAlreadyBooked),
		errors.Is(err, ErrScheduleInUse), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotQueued), errors.Is(err, ErrQueueEmpty):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, record.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
