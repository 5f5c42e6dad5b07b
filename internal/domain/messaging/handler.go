package messaging

import (
	"errors"
	"net/http"
	"strconv"

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
	student.GET("/notifications", h.ListOwnNotifications)
	student.GET("/notifications/unread-count", h.UnreadCount)
	student.POST("/notifications/read-all", h.MarkAllRead)
	student.POST("/notifications/:id/read", h.MarkRead)
	student.GET("/messages", h.ListOwnConversation)
	student.POST("/messages", h.SendAsStudent)
	student.POST("/messages/read", h.MarkOwnConversationRead)

	staff := api.Group("/staff", auth.RequireStaff())
	staff.POST("/notifications", h.SendNotification)
	staff.GET("/students/:id/notifications", h.ListStudentNotifications)
	staff.GET("/messages", h.ListConversations)
	staff.GET("/messages/:id", h.GetConversation)
	staff.POST("/messages/:id", h.SendAsStaff)
	staff.POST("/messages/:id/read", h.MarkConversationRead)
}

type messageRequest struct {
	Body string `json:"body" form:"body"`
}

// -- Student --

func (h *Handler) ListOwnNotifications(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	return h.listNotifications(c, id)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadNotifications(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	studentID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkNotificationRead(c.Request().Context(), studentID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllNotificationsRead(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) ListOwnConversation(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	return h.listConversation(c, id)
}

func (h *Handler) SendAsStudent(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.SendFromStudent(c.Request().Context(), id, req.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) MarkOwnConversationRead(c echo.Context) error {
	id, err := sessionUserID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkConversationRead(c.Request().Context(), id, SenderStudent)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

// -- Staff --

func (h *Handler) SendNotification(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	var in NotificationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.StudentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "student_id is required")
	}
	in.StaffID = &staffID
	n, err := h.svc.Notify(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListStudentNotifications(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	return h.listNotifications(c, id)
}

func (h *Handler) ListConversations(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConversations(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Conversation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	return h.listConversation(c, id)
}

func (h *Handler) SendAsStaff(c echo.Context) error {
	staffID, err := sessionUserID(c)
	if err != nil {
		return err
	}
	studentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.SendFromStaff(c.Request().Context(), staffID, studentID, req.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) MarkConversationRead(c echo.Context) error {
	studentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid student id")
	}
	n, err := h.svc.MarkConversationRead(c.Request().Context(), studentID, SenderStaff)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

// -- helpers --

func (h *Handler) listNotifications(c echo.Context, studentID uuid.UUID) error {
	pg := pagination.FromContext(c)
	var unreadOnly bool
	if v := c.QueryParam("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unread must be true or false")
		}
		unreadOnly = b
	}
	items, total, err := h.svc.ListNotifications(c.Request().Context(), studentID, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) listConversation(c echo.Context, studentID uuid.UUID) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConversation(c.Request().Context(), studentID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Message{}
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
	case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrBodyTooLong), errors.Is(err, ErrTitleMissing):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
