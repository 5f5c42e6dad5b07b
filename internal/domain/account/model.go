package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("account not found")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrEmailNotVerified     = errors.New("email address has not been verified")
	ErrEmailTaken           = errors.New("email address is already registered")
	ErrStudentNumberTaken   = errors.New("student number is already registered")
	ErrInvalidToken         = errors.New("invalid or already used token")
	ErrTokenExpired         = errors.New("token has expired")
	ErrWrongPassword        = errors.New("current password is incorrect")
	ErrIDImageRequired      = errors.New("an ID image is required")
	ErrNoIDImage            = errors.New("student has no ID image on file")
	ErrCannotDeactivateSelf = errors.New("you cannot deactivate your own account")
)

// ValidationError reports bad client input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IDRejectedError is returned when OCR validation is mandatory and the image
// does not match the registration details.
type IDRejectedError struct {
	Reasons []string
}

func (e *IDRejectedError) Error() string {
	return "ID image rejected: " + strings.Join(e.Reasons, "; ")
}

// Usertype is the role row shared 1:1 by a student or staff account.
type Usertype struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Role        string    `db:"role" json:"role"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Student maps to the students table.
type Student struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	UsertypeID          uuid.UUID  `db:"usertype_id" json:"-"`
	StudentNumber       string     `db:"student_number" json:"student_number"`
	FirstName           string     `db:"first_name" json:"first_name"`
	LastName            string     `db:"last_name" json:"last_name"`
	Email               string     `db:"email" json:"email"`
	Phone               *string    `db:"phone" json:"phone,omitempty"`
	Course              *string    `db:"course" json:"course,omitempty"`
	YearLevel           *int       `db:"year_level" json:"year_level,omitempty"`
	Birthdate           *time.Time `db:"birthdate" json:"birthdate,omitempty"`
	Sex                 *string    `db:"sex" json:"sex,omitempty"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	IDImageKey          *string    `db:"id_image_key" json:"-"`
	IDVerified          bool       `db:"id_verified" json:"id_verified"`
	EmailVerified       bool       `db:"email_verified" json:"email_verified"`
	VerificationToken   *string    `db:"verification_token" json:"-"`
	VerificationExpires *time.Time `db:"verification_expires" json:"-"`
	ResetToken          *string    `db:"reset_token" json:"-"`
	ResetExpires        *time.Time `db:"reset_expires" json:"-"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// HasIDImage is reported to clients instead of the storage key.
func (s *Student) HasIDImage() bool {
	return s.IDImageKey != nil && *s.IDImageKey != ""
}

// ClinicStaff maps to the clinic_staff table. Role is read from the linked
// usertype.
type ClinicStaff struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UsertypeID   uuid.UUID  `db:"usertype_id" json:"-"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Email        string     `db:"email" json:"email"`
	Position     *string    `db:"position" json:"position,omitempty"`
	Role         string     `db:"role" json:"role"`
	PasswordHash string     `db:"password_hash" json:"-"`
	ResetToken   *string    `db:"reset_token" json:"-"`
	ResetExpires *time.Time `db:"reset_expires" json:"-"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (s *ClinicStaff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// StudentFilter narrows staff searches over students.
type StudentFilter struct {
	Query    string
	IsActive *bool
}

// normalizeEmail lower-cases and trims an address before storage or lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
