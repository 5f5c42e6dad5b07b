package record

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrHistoryExists = errors.New("a history entry already exists for this appointment")
	ErrInvalidInput  = errors.New("invalid record input")
)

// Precord is the medical record kept for each student. At most one exists per
// student.
type Precord struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	StudentID             uuid.UUID  `db:"student_id" json:"student_id"`
	BloodType             *string    `db:"blood_type" json:"blood_type,omitempty"`
	Allergies             *string    `db:"allergies" json:"allergies,omitempty"`
	Medications           *string    `db:"medications" json:"medications,omitempty"`
	Diagnosis             *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	MedicalConditions     *string    `db:"medical_conditions" json:"medical_conditions,omitempty"`
	HeightCM              *float64   `db:"height_cm" json:"height_cm,omitempty"`
	WeightKG              *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	EmergencyContactName  *string    `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	UpdatedBy             *uuid.UUID `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// History is the immutable summary of one completed visit.
type History struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	StudentID     uuid.UUID  `db:"student_id" json:"student_id"`
	StaffID       *uuid.UUID `db:"staff_id" json:"staff_id,omitempty"`
	VisitDate     time.Time  `db:"visit_date" json:"visit_date"`
	Reason        *string    `db:"reason" json:"reason,omitempty"`
	Diagnosis     *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Medications   *string    `db:"medications" json:"medications,omitempty"`
	TriageNotes   *string    `db:"triage_notes" json:"triage_notes,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// PrecordUpdate carries editable precord fields. Nil fields are left as they
// are; an empty string clears the field.
type PrecordUpdate struct {
	BloodType             *string  `json:"blood_type"`
	Allergies             *string  `json:"allergies"`
	Medications           *string  `json:"medications"`
	Diagnosis             *string  `json:"diagnosis"`
	MedicalConditions     *string  `json:"medical_conditions"`
	HeightCM              *float64 `json:"height_cm"`
	WeightKG              *float64 `json:"weight_kg"`
	EmergencyContactName  *string  `json:"emergency_contact_name"`
	EmergencyContactPhone *string  `json:"emergency_contact_phone"`
	Notes                 *string  `json:"notes"`
}

var bloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

func (u *PrecordUpdate) validate() error {
	if u.BloodType != nil {
		bt := strings.ToUpper(strings.TrimSpace(*u.BloodType))
		if bt != "" && !bloodTypes[bt] {
			return fmtInvalid("blood_type must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
		}
		u.BloodType = &bt
	}
	if u.HeightCM != nil && (*u.HeightCM <= 0 || *u.HeightCM > 300) {
		return fmtInvalid("height_cm must be between 0 and 300")
	}
	if u.WeightKG != nil && (*u.WeightKG <= 0 || *u.WeightKG > 500) {
		return fmtInvalid("weight_kg must be between 0 and 500")
	}
	return nil
}

// apply copies the set fields of u onto p.
func (u *PrecordUpdate) apply(p *Precord) {
	set := func(dst **string, v *string) {
		if v != nil {
			*dst = optString(*v)
		}
	}
	set(&p.BloodType, u.BloodType)
	set(&p.Allergies, u.Allergies)
	set(&p.Medications, u.Medications)
	set(&p.Diagnosis, u.Diagnosis)
	set(&p.MedicalConditions, u.MedicalConditions)
	set(&p.EmergencyContactName, u.EmergencyContactName)
	set(&p.EmergencyContactPhone, u.EmergencyContactPhone)
	set(&p.Notes, u.Notes)
	if u.HeightCM != nil {
		p.HeightCM = u.HeightCM
	}
	if u.WeightKG != nil {
		p.WeightKG = u.WeightKG
	}
}

// Visit is what the clinic records when an appointment is completed.
type Visit struct {
	AppointmentID uuid.UUID
	StudentID     uuid.UUID
	StaffID       uuid.UUID
	VisitDate     time.Time
	Reason        string
	Diagnosis     string
	Medications   string
	TriageNotes   string
	Notes         string
}

type inputError struct{ msg string }

func (e *inputError) Error() string        { return e.msg }
func (e *inputError) Is(target error) bool { return target == ErrInvalidInput }

func fmtInvalid(msg string) error { return &inputError{msg: msg} }

func optString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
