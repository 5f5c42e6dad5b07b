package account

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/campusclinic/clinicq/internal/platform/auth"
	"github.com/campusclinic/clinicq/internal/platform/blobstore"
	"github.com/campusclinic/clinicq/pkg/pagination"
)

type Handler struct {
	svc      *Service
	sessions *auth.SessionManager
}

func NewHandler(svc *Service, sessions *auth.SessionManager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// RegisterRoutes mounts the auth, student profile and staff administration
// endpoints. limiter guards the credential endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group, limiter echo.MiddlewareFunc) {
	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.Register, limiter)
	authGroup.POST("/login/student", h.LoginStudent, limiter)
	authGroup.POST("/login/staff", h.LoginStaff, limiter)
	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/verify-email", h.VerifyEmail)
	authGroup.POST("/verify-email", h.VerifyEmail)
	authGroup.POST("/resend-verification", h.ResendVerification, limiter)
	authGroup.POST("/password/forgot", h.ForgotPassword, limiter)
	authGroup.GET("/password/reset", h.ResetPasswordForm)
	authGroup.POST("/password/reset", h.ResetPassword, limiter)
	authGroup.POST("/password/change", h.ChangePassword, auth.RequireSession(), limiter)
	authGroup.GET("/me", h.Me, auth.RequireSession())

	student := api.Group("/student", auth.RequireStudent())
	student.GET("/profile", h.GetOwnStudentProfile)
	student.PUT("/profile", h.UpdateOwnStudentProfile)
	student.POST("/id-image", h.UploadIDImage)

	staff := api.Group("/staff", auth.RequireStaff())
	staff.GET("/profile", h.GetOwnStaffProfile)
	staff.PUT("/profile", h.UpdateOwnStaffProfile)
	staff.GET("/students", h.ListStudents)
	staff.GET("/students/:id", h.GetStudent)
	staff.GET("/students/:id/id-image", h.DownloadIDImage)
	staff.POST("/students/:id/activate", h.ActivateStudent)
	staff.POST("/students/:id/deactivate", h.DeactivateStudent)
	staff.GET("/staff", h.ListStaff)

	admin := staff.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/staff", h.CreateStaff)
	admin.POST("/staff/:id/activate", h.ActivateStaff)
	admin.POST("/staff/:id/deactivate", h.DeactivateStaff)
}

// studentView adds derived flags to the stored row.
type studentView struct {
	*Student
	HasIDImage bool `json:"has_id_image"`
}

func viewStudent(s *Student) studentView {
	return studentView{Student: s, HasIDImage: s.HasIDImage()}
}

type registerResponse struct {
	Student studentView `json:"student"`
	Message string      `json:"message"`
}

// -- Auth --

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	img, err := readIDImage(c)
	if err != nil {
		return httpError(err)
	}

	st, err := h.svc.RegisterStudent(c.Request().Context(), in, img)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, registerResponse{
		Student: viewStudent(st),
		Message: "Registration received. Check your email to verify your account.",
	})
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (h *Handler) LoginStudent(c echo.Context) error {
	return h.login(c, auth.KindStudent)
}

func (h *Handler) LoginStaff(c echo.Context) error {
	return h.login(c, auth.KindStaff)
}

func (h *Handler) login(c echo.Context, kind auth.Kind) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Login(c.Request().Context(), kind, req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}

	// Drop any session the browser already holds before issuing a new one.
	if err := h.sessions.End(c); err != nil {
		h.svc.logger.Warn().Err(err).Str("user_id", p.UserID).Msg("end previous session")
	}
	if _, err := h.sessions.Start(c, p.UserID, p.Kind, p.Role, p.Name); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": p})
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.sessions.End(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type tokenRequest struct {
	Token string `json:"token" query:"token" form:"token"`
}

func (h *Handler) VerifyEmail(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		req.Token = c.QueryParam("token")
	}
	if _, err := h.svc.VerifyEmail(c.Request().Context(), req.Token); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Email verified. You can now sign in."})
}

type emailRequest struct {
	Email string    `json:"email"`
	Kind  auth.Kind `json:"kind"`
}

func (h *Handler) ResendVerification(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "If the account exists and is unverified, a new link has been sent."})
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Kind == "" {
		req.Kind = auth.KindStudent
	}
	if err := h.svc.RequestPasswordReset(c.Request().Context(), req.Kind, req.Email); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "If the account exists, a reset link has been sent."})
}

type resetRequest struct {
	Token    string `json:"token" form:"token"`
	Password string `json:"password" form:"password"`
}

// resetPage is rendered by password_reset.html.
type resetPage struct {
	Title      string
	ClinicName string
	Refresh    int
	Token      string
	Done       bool
	Error      string
}

// ResetPasswordForm serves the page the reset email links to. The form
// posts back to ResetPassword.
func (h *Handler) ResetPasswordForm(c echo.Context) error {
	return c.Render(http.StatusOK, "password_reset.html", h.resetPage(c.QueryParam("token")))
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.Password)

	if isFormPost(c) {
		page := h.resetPage(req.Token)
		if err != nil {
			var he *echo.HTTPError
			if !errors.As(httpError(err), &he) || he.Code >= http.StatusInternalServerError {
				return err
			}
			page.Error = fmt.Sprint(he.Message)
			return c.Render(he.Code, "password_reset.html", page)
		}
		page.Done = true
		return c.Render(http.StatusOK, "password_reset.html", page)
	}

	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password updated. Please sign in again."})
}

func (h *Handler) resetPage(token string) resetPage {
	return resetPage{Title: "Reset password", ClinicName: h.svc.opts.ClinicName, Token: token}
}

func isFormPost(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationForm)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	sess, id, err := currentUser(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), sess.Kind, id, req.CurrentPassword, req.NewPassword); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	sess, id, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	resp := map[string]interface{}{"session": Principal{UserID: sess.UserID, Kind: sess.Kind, Role: sess.Role, Name: sess.Name}}
	if sess.IsStaff() {
		sf, err := h.svc.GetStaff(ctx, id)
		if err != nil {
			return httpError(err)
		}
		resp["profile"] = sf
	} else {
		st, err := h.svc.GetStudent(ctx, id)
		if err != nil {
			return httpError(err)
		}
		resp["profile"] = viewStudent(st)
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Student self-service --

func (h *Handler) GetOwnStudentProfile(c echo.Context) error {
	_, id, err := currentUser(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewStudent(st))
}

func (h *Handler) UpdateOwnStudentProfile(c echo.Context) error {
	_, id, err := currentUser(c)
	if err != nil {
		return err
	}
	var u StudentProfileUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st, err := h.svc.UpdateStudentProfile(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewStudent(st))
}

func (h *Handler) UploadIDImage(c echo.Context) error {
	_, id, err := currentUser(c)
	if err != nil {
		return err
	}
	img, err := readIDImage(c)
	if err != nil {
		return httpError(err)
	}
	if img == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id_image file is required")
	}
	st, err := h.svc.UploadIDImage(c.Request().Context(), id, img)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewStudent(st))
}

// -- Staff --

func (h *Handler) GetOwnStaffProfile(c echo.Context) error {
	_, id, err := currentUser(c)
	if err != nil {
		return err
	}
	sf, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sf)
}

func (h *Handler) UpdateOwnStaffProfile(c echo.Context) error {
	_, id, err := currentUser(c)
	if err != nil {
		return err
	}
	var u StaffProfileUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sf, err := h.svc.UpdateStaffProfile(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sf)
}

func (h *Handler) ListStudents(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := StudentFilter{Query: c.QueryParam("q")}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "active must be true or false")
		}
		f.IsActive = &active
	}

	items, total, err := h.svc.SearchStudents(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	views := make([]studentView, 0, len(items))
	for _, st := range items {
		views = append(views, viewStudent(st))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetStudent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	st, err := h.svc.GetStudent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewStudent(st))
}

func (h *Handler) DownloadIDImage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rc, obj, err := h.svc.OpenIDImage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

func (h *Handler) ActivateStudent(c echo.Context) error {
	return h.setStudentActive(c, true)
}

func (h *Handler) DeactivateStudent(c echo.Context) error {
	return h.setStudentActive(c, false)
}

func (h *Handler) setStudentActive(c echo.Context, active bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	st, err := h.svc.SetStudentActive(c.Request().Context(), id, active)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewStudent(st))
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStaff(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateStaff(c echo.Context) error {
	var in CreateStaffInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sf, err := h.svc.CreateStaff(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sf)
}

func (h *Handler) ActivateStaff(c echo.Context) error {
	return h.setStaffActive(c, true)
}

func (h *Handler) DeactivateStaff(c echo.Context) error {
	return h.setStaffActive(c, false)
}

func (h *Handler) setStaffActive(c echo.Context, active bool) error {
	_, actor, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sf, err := h.svc.SetStaffActive(c.Request().Context(), actor, id, active)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sf)
}

// -- helpers --

func currentUser(c echo.Context) (*auth.Session, uuid.UUID, error) {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(sess.UserID)
	if err != nil {
		return nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	return sess, id, nil
}

// readIDImage returns the optional id_image upload, or nil when absent.
func readIDImage(c echo.Context) (*blobstore.Image, error) {
	fh, err := c.FormFile("id_image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, &ValidationError{Message: "invalid multipart upload"}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return blobstore.ReadIDImage(f)
}

func httpError(err error) error {
	var ve *ValidationError
	var rejected *IDRejectedError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Message)
	case errors.As(err, &rejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, rejected.Error())
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoIDImage):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrAccountInactive), errors.Is(err, ErrEmailNotVerified):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrStudentNumberTaken), errors.Is(err, ErrCannotDeactivateSelf):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrWrongPassword), errors.Is(err, ErrIDImageRequired),
		errors.Is(err, blobstore.ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "ID image must be a JPEG or PNG file")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "ID image must be 5 MB or smaller")
	}
	return err
}
