package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusclinic/clinicq/internal/platform/auth"
	"github.com/campusclinic/clinicq/internal/platform/blobstore"
	"github.com/campusclinic/clinicq/internal/platform/idcheck"
	"github.com/campusclinic/clinicq/internal/platform/notification"
)

// TxRunner runs fn in one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mailer sends templated email. Failures are handled by the implementation.
type Mailer interface {
	Email(ctx context.Context, templateID, to string, data map[string]string)
}

// SessionRevoker destroys every session of a user.
type SessionRevoker interface {
	DeleteForUser(ctx context.Context, userID string) (int, error)
}

// Options are the deployment settings the service needs.
type Options struct {
	AppBaseURL           string
	ClinicName           string
	IDValidationRequired bool
}

// Principal is the identity stored in a session after login.
type Principal struct {
	UserID string    `json:"user_id"`
	Kind   auth.Kind `json:"kind"`
	Role   string    `json:"role"`
	Name   string    `json:"name"`
}

// dummyHash is compared against when an email is unknown so that failed
// logins take the same time either way.
var dummyHash, _ = auth.HashPassword("not-a-real-password")

type Service struct {
	usertypes UsertypeRepository
	students  StudentRepository
	staff     StaffRepository
	tx        TxRunner
	tokens    *auth.TokenIssuer
	sessions  SessionRevoker
	mailer    Mailer
	blobs     blobstore.Store
	validator idcheck.Validator
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(ut UsertypeRepository, st StudentRepository, sf StaffRepository, tx TxRunner,
	tokens *auth.TokenIssuer, sessions SessionRevoker, mailer Mailer,
	blobs blobstore.Store, validator idcheck.Validator, opts Options, logger zerolog.Logger) *Service {
	if validator == nil {
		validator = idcheck.NoopValidator{}
	}
	return &Service{
		usertypes: ut, students: st, staff: sf, tx: tx,
		tokens: tokens, sessions: sessions, mailer: mailer,
		blobs: blobs, validator: validator, opts: opts,
		logger: logger.With().Str("component", "account").Logger(),
		now:    time.Now,
	}
}

// -- Registration and verification --

// RegisterInput is what a student submits on the sign-up form.
type RegisterInput struct {
	StudentNumber string `json:"student_number" form:"student_number"`
	FirstName     string `json:"first_name" form:"first_name"`
	LastName      string `json:"last_name" form:"last_name"`
	Email         string `json:"email" form:"email"`
	Password      string `json:"password" form:"password"`
	Phone         string `json:"phone" form:"phone"`
	Course        string `json:"course" form:"course"`
	YearLevel     int    `json:"year_level" form:"year_level"`
	Birthdate     string `json:"birthdate" form:"birthdate"`
	Sex           string `json:"sex" form:"sex"`
}

func (in *RegisterInput) normalize() {
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Course = strings.TrimSpace(in.Course)
	in.Sex = strings.TrimSpace(in.Sex)
	in.Birthdate = strings.TrimSpace(in.Birthdate)
}

func (in *RegisterInput) validate() error {
	switch {
	case in.StudentNumber == "":
		return invalidf("student_number is required")
	case in.FirstName == "":
		return invalidf("first_name is required")
	case in.LastName == "":
		return invalidf("last_name is required")
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if in.YearLevel < 0 || in.YearLevel > 10 {
		return invalidf("year_level must be between 1 and 10")
	}
	if _, err := parseDate(in.Birthdate); err != nil {
		return err
	}
	return auth.ValidatePassword(in.Password)
}

// parseDate reads an optional YYYY-MM-DD value.
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, invalidf("birthdate must be formatted YYYY-MM-DD")
	}
	return &d, nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalidf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalidf("email is not a valid address")
	}
	return nil
}

// RegisterStudent creates an inactive student account and emails a
// verification link. img may be nil unless ID validation is required.
func (s *Service) RegisterStudent(ctx context.Context, in RegisterInput, img *blobstore.Image) (*Student, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	if img == nil && s.opts.IDValidationRequired {
		return nil, ErrIDImageRequired
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	birthdate, _ := parseDate(in.Birthdate)

	st := &Student{
		ID:            uuid.New(),
		StudentNumber: in.StudentNumber,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Email:         in.Email,
		Phone:         optString(in.Phone),
		Course:        optString(in.Course),
		Birthdate:     birthdate,
		Sex:           optString(in.Sex),
		PasswordHash:  hash,
	}
	if in.YearLevel > 0 {
		st.YearLevel = &in.YearLevel
	}

	if img != nil {
		verified, err := s.checkIDImage(ctx, st, img)
		if err != nil {
			return nil, err
		}
		key, err := s.storeIDImage(ctx, st.ID, img)
		if err != nil {
			return nil, err
		}
		st.IDImageKey = &key
		st.IDVerified = verified
	}

	token, expires, err := s.tokens.Issue(st.ID.String(), auth.KindStudent, auth.PurposeVerifyEmail, auth.VerifyTokenTTL)
	if err != nil {
		return nil, err
	}
	st.VerificationToken = &token
	st.VerificationExpires = &expires

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ut := &Usertype{Role: auth.RoleStudent, DisplayName: st.FullName()}
		if err := s.usertypes.Create(ctx, ut); err != nil {
			return err
		}
		st.UsertypeID = ut.ID
		return s.students.Create(ctx, st)
	})
	if err != nil {
		if st.IDImageKey != nil {
			s.deleteBlob(ctx, *st.IDImageKey)
		}
		return nil, err
	}

	s.mailer.Email(ctx, notification.TplVerifyEmail, st.Email, map[string]string{
		"name": st.FirstName,
		"link": s.link("/api/v1/auth/verify-email", token),
	})
	return st, nil
}

// VerifyEmail consumes a verification token and activates the account.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*Student, error) {
	claims, err := s.parseToken(token, auth.PurposeVerifyEmail)
	if err != nil {
		return nil, err
	}
	if claims.Kind != auth.KindStudent {
		return nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	st, err := s.students.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if err := s.matchStored(token, st.VerificationToken, st.VerificationExpires); err != nil {
		return nil, err
	}

	st.EmailVerified = true
	st.IsActive = true
	st.VerificationToken = nil
	st.VerificationExpires = nil
	if err := s.students.Update(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ResendVerification issues a fresh link to an unverified student. Unknown
// or already verified addresses are silently ignored.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	st, err := s.students.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.EmailVerified {
		return nil
	}

	token, expires, err := s.tokens.Issue(st.ID.String(), auth.KindStudent, auth.PurposeVerifyEmail, auth.VerifyTokenTTL)
	if err != nil {
		return err
	}
	st.VerificationToken = &token
	st.VerificationExpires = &expires
	if err := s.students.Update(ctx, st); err != nil {
		return err
	}

	s.mailer.Email(ctx, notification.TplVerifyEmail, st.Email, map[string]string{
		"name": st.FirstName,
		"link": s.link("/api/v1/auth/verify-email", token),
	})
	return nil
}

// -- Login and passwords --

// Login checks credentials for the given account kind.
func (s *Service) Login(ctx context.Context, kind auth.Kind, email, password string) (*Principal, error) {
	email = normalizeEmail(email)

	switch kind {
	case auth.KindStudent:
		st, err := s.students.GetByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			auth.CheckPassword(dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		if err != nil {
			return nil, err
		}
		if !auth.CheckPassword(st.PasswordHash, password) {
			return nil, ErrInvalidCredentials
		}
		if !st.EmailVerified {
			return nil, ErrEmailNotVerified
		}
		if !st.IsActive {
			return nil, ErrAccountInactive
		}
		return &Principal{UserID: st.ID.String(), Kind: auth.KindStudent, Role: auth.RoleStudent, Name: st.FullName()}, nil

	case auth.KindStaff:
		sf, err := s.staff.GetByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			auth.CheckPassword(dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		if err != nil {
			return nil, err
		}
		if !auth.CheckPassword(sf.PasswordHash, password) {
			return nil, ErrInvalidCredentials
		}
		if !sf.IsActive {
			return nil, ErrAccountInactive
		}
		return &Principal{UserID: sf.ID.String(), Kind: auth.KindStaff, Role: sf.Role, Name: sf.FullName()}, nil
	}
	return nil, invalidf("unknown account kind %q", kind)
}

// RequestPasswordReset emails a reset link when the account exists. The
// result never reveals whether it does.
func (s *Service) RequestPasswordReset(ctx context.Context, kind auth.Kind, email string) error {
	email = normalizeEmail(email)

	var (
		userID, name, to string
		apply            func(token string, expires time.Time) error
	)
	switch kind {
	case auth.KindStudent:
		st, err := s.students.GetByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID, name, to = st.ID.String(), st.FirstName, st.Email
		apply = func(token string, expires time.Time) error {
			st.ResetToken, st.ResetExpires = &token, &expires
			return s.students.Update(ctx, st)
		}
	case auth.KindStaff:
		sf, err := s.staff.GetByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID, name, to = sf.ID.String(), sf.FirstName, sf.Email
		apply = func(token string, expires time.Time) error {
			sf.ResetToken, sf.ResetExpires = &token, &expires
			return s.staff.Update(ctx, sf)
		}
	default:
		return invalidf("unknown account kind %q", kind)
	}

	token, expires, err := s.tokens.Issue(userID, kind, auth.PurposePasswordReset, auth.ResetTokenTTL)
	if err != nil {
		return err
	}
	if err := apply(token, expires); err != nil {
		return err
	}

	s.mailer.Email(ctx, notification.TplPasswordReset, to, map[string]string{
		"name": name,
		"link": s.link("/api/v1/auth/password/reset", token),
	})
	return nil
}

// ResetPassword consumes a reset token, sets the new password and signs the
// user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.parseToken(token, auth.PurposePasswordReset)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ErrInvalidToken
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	switch claims.Kind {
	case auth.KindStudent:
		st, err := s.students.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if err := s.matchStored(token, st.ResetToken, st.ResetExpires); err != nil {
			return err
		}
		st.PasswordHash = hash
		st.ResetToken, st.ResetExpires = nil, nil
		if err := s.students.Update(ctx, st); err != nil {
			return err
		}
	case auth.KindStaff:
		sf, err := s.staff.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if err := s.matchStored(token, sf.ResetToken, sf.ResetExpires); err != nil {
			return err
		}
		sf.PasswordHash = hash
		sf.ResetToken, sf.ResetExpires = nil, nil
		if err := s.staff.Update(ctx, sf); err != nil {
			return err
		}
	default:
		return ErrInvalidToken
	}

	s.revokeSessions(ctx, id.String())
	return nil
}

// ChangePassword updates the password of a signed-in user.
func (s *Service) ChangePassword(ctx context.Context, kind auth.Kind, userID uuid.UUID, current, next string) error {
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}

	switch kind {
	case auth.KindStudent:
		st, err := s.students.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !auth.CheckPassword(st.PasswordHash, current) {
			return ErrWrongPassword
		}
		st.PasswordHash = hash
		return s.students.Update(ctx, st)
	case auth.KindStaff:
		sf, err := s.staff.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if !auth.CheckPassword(sf.PasswordHash, current) {
			return ErrWrongPassword
		}
		sf.PasswordHash = hash
		return s.staff.Update(ctx, sf)
	}
	return invalidf("unknown account kind %q", kind)
}

func (s *Service) parseToken(token string, purpose auth.TokenPurpose) (*auth.TokenClaims, error) {
	claims, err := s.tokens.Parse(strings.TrimSpace(token), purpose)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// matchStored checks token against the copy on the account row. A cleared
// copy means the token was already used or superseded.
func (s *Service) matchStored(token string, stored *string, expires *time.Time) error {
	if stored == nil || subtle.ConstantTimeCompare([]byte(*stored), []byte(strings.TrimSpace(token))) != 1 {
		return ErrInvalidToken
	}
	if expires == nil || !s.now().Before(*expires) {
		return ErrTokenExpired
	}
	return nil
}

func (s *Service) link(path, token string) string {
	return strings.TrimRight(s.opts.AppBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) revokeSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.DeleteForUser(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("revoke sessions")
	}
}

// -- Profiles --

func (s *Service) GetStudent(ctx context.Context, id uuid.UUID) (*Student, error) {
	return s.students.GetByID(ctx, id)
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*ClinicStaff, error) {
	return s.staff.GetByID(ctx, id)
}

// StudentProfileUpdate carries the contact fields a student may edit. Nil
// fields are left unchanged.
type StudentProfileUpdate struct {
	Phone     *string `json:"phone"`
	Course    *string `json:"course"`
	YearLevel *int    `json:"year_level"`
	Birthdate *string `json:"birthdate"`
	Sex       *string `json:"sex"`
}

func (s *Service) UpdateStudentProfile(ctx context.Context, id uuid.UUID, u StudentProfileUpdate) (*Student, error) {
	st, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Phone != nil {
		st.Phone = optString(strings.TrimSpace(*u.Phone))
	}
	if u.Course != nil {
		st.Course = optString(strings.TrimSpace(*u.Course))
	}
	if u.YearLevel != nil {
		if *u.YearLevel < 1 || *u.YearLevel > 10 {
			return nil, invalidf("year_level must be between 1 and 10")
		}
		st.YearLevel = u.YearLevel
	}
	if u.Birthdate != nil {
		d, err := parseDate(strings.TrimSpace(*u.Birthdate))
		if err != nil {
			return nil, err
		}
		st.Birthdate = d
	}
	if u.Sex != nil {
		st.Sex = optString(strings.TrimSpace(*u.Sex))
	}
	if err := s.students.Update(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// StaffProfileUpdate carries the fields a staff member may edit.
type StaffProfileUpdate struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Position  *string `json:"position"`
}

func (s *Service) UpdateStaffProfile(ctx context.Context, id uuid.UUID, u StaffProfileUpdate) (*ClinicStaff, error) {
	var out *ClinicStaff
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		sf, err := s.staff.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u.FirstName != nil {
			if v := strings.TrimSpace(*u.FirstName); v != "" {
				sf.FirstName = v
			}
		}
		if u.LastName != nil {
			if v := strings.TrimSpace(*u.LastName); v != "" {
				sf.LastName = v
			}
		}
		if u.Position != nil {
			sf.Position = optString(strings.TrimSpace(*u.Position))
		}
		if err := s.staff.Update(ctx, sf); err != nil {
			return err
		}
		out = sf
		return s.usertypes.Update(ctx, &Usertype{ID: sf.UsertypeID, Role: sf.Role, DisplayName: sf.FullName()})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Staff administration --

func (s *Service) SearchStudents(ctx context.Context, f StudentFilter, limit, offset int) ([]*Student, int, error) {
	return s.students.Search(ctx, f, limit, offset)
}

// SetStudentActive activates or deactivates a student. Deactivation ends the
// student's sessions.
func (s *Service) SetStudentActive(ctx context.Context, id uuid.UUID, active bool) (*Student, error) {
	st, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	st.IsActive = active
	if err := s.students.Update(ctx, st); err != nil {
		return nil, err
	}
	if !active {
		s.revokeSessions(ctx, st.ID.String())
	}
	return st, nil
}

// CreateStaffInput is used by admins and by the seed command.
type CreateStaffInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Position  string `json:"position"`
	Role      string `json:"role"`
}

func (in *CreateStaffInput) validate() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	in.Position = strings.TrimSpace(in.Position)
	if in.Role == "" {
		in.Role = auth.RoleStaff
	}

	if in.FirstName == "" || in.LastName == "" {
		return invalidf("first_name and last_name are required")
	}
	if in.Role != auth.RoleStaff && in.Role != auth.RoleAdmin {
		return invalidf("role must be %q or %q", auth.RoleStaff, auth.RoleAdmin)
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	return auth.ValidatePassword(in.Password)
}

func (s *Service) CreateStaff(ctx context.Context, in CreateStaffInput) (*ClinicStaff, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	sf := &ClinicStaff{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Position:     optString(in.Position),
		Role:         in.Role,
		PasswordHash: hash,
		IsActive:     true,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ut := &Usertype{Role: in.Role, DisplayName: sf.FullName()}
		if err := s.usertypes.Create(ctx, ut); err != nil {
			return err
		}
		sf.UsertypeID = ut.ID
		return s.staff.Create(ctx, sf)
	})
	if err != nil {
		return nil, err
	}
	return sf, nil
}

// EnsureStaff creates the account or, when the email exists, resets its
// password, role and active flag. Reports whether a new account was created.
func (s *Service) EnsureStaff(ctx context.Context, in CreateStaffInput) (*ClinicStaff, bool, error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	existing, err := s.staff.GetByEmail(ctx, in.Email)
	if errors.Is(err, ErrNotFound) {
		sf, err := s.CreateStaff(ctx, in)
		return sf, err == nil, err
	}
	if err != nil {
		return nil, false, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, false, err
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing.FirstName = in.FirstName
		existing.LastName = in.LastName
		existing.Position = optString(in.Position)
		existing.Role = in.Role
		existing.PasswordHash = hash
		existing.IsActive = true
		if err := s.staff.Update(ctx, existing); err != nil {
			return err
		}
		return s.usertypes.Update(ctx, &Usertype{ID: existing.UsertypeID, Role: in.Role, DisplayName: existing.FullName()})
	})
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Service) ListStaff(ctx context.Context, limit, offset int) ([]*ClinicStaff, int, error) {
	return s.staff.List(ctx, limit, offset)
}

// SetStaffActive activates or deactivates a staff account. Admins cannot
// deactivate themselves.
func (s *Service) SetStaffActive(ctx context.Context, actorID, id uuid.UUID, active bool) (*ClinicStaff, error) {
	if !active && actorID == id {
		return nil, ErrCannotDeactivateSelf
	}
	sf, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sf.IsActive = active
	if err := s.staff.Update(ctx, sf); err != nil {
		return nil, err
	}
	if !active {
		s.revokeSessions(ctx, sf.ID.String())
	}
	return sf, nil
}

// -- ID images --

// UploadIDImage replaces the student's ID image and records the OCR result.
func (s *Service) UploadIDImage(ctx context.Context, studentID uuid.UUID, img *blobstore.Image) (*Student, error) {
	st, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	verified, err := s.checkIDImage(ctx, st, img)
	if err != nil {
		return nil, err
	}
	key, err := s.storeIDImage(ctx, st.ID, img)
	if err != nil {
		return nil, err
	}

	old := st.IDImageKey
	st.IDImageKey = &key
	st.IDVerified = verified
	if err := s.students.Update(ctx, st); err != nil {
		s.deleteBlob(ctx, key)
		return nil, err
	}
	if old != nil && *old != key {
		s.deleteBlob(ctx, *old)
	}
	return st, nil
}

// OpenIDImage streams the stored ID image of a student.
func (s *Service) OpenIDImage(ctx context.Context, studentID uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	st, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	if !st.HasIDImage() {
		return nil, nil, ErrNoIDImage
	}
	rc, obj, err := s.blobs.Get(ctx, *st.IDImageKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNoIDImage
	}
	return rc, obj, err
}

// checkIDImage runs OCR validation. With validation required a mismatch is an
// IDRejectedError; otherwise it only leaves the student unverified.
func (s *Service) checkIDImage(ctx context.Context, st *Student, img *blobstore.Image) (bool, error) {
	res, err := s.validator.Validate(ctx, img.Data, idcheck.Expected{
		StudentNumber: st.StudentNumber,
		FirstName:     st.FirstName,
		LastName:      st.LastName,
	})
	if err != nil {
		if s.opts.IDValidationRequired {
			return false, fmt.Errorf("validate ID image: %w", err)
		}
		s.logger.Warn().Err(err).Str("student_id", st.ID.String()).Msg("ID validation unavailable")
		return false, nil
	}
	if !res.Valid && s.opts.IDValidationRequired {
		return false, &IDRejectedError{Reasons: res.Reasons}
	}
	return res.Valid, nil
}

func (s *Service) storeIDImage(ctx context.Context, studentID uuid.UUID, img *blobstore.Image) (string, error) {
	key := blobstore.IDImageKey(studentID.String(), img)
	if _, err := s.blobs.Put(ctx, key, img.ContentType, img.Reader()); err != nil {
		return "", fmt.Errorf("store ID image: %w", err)
	}
	return key, nil
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("delete blob")
	}
}

func optString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
