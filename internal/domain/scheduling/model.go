package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusPending    = "Pending"
	StatusConfirmed  = "Confirmed"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

// Queue statuses. QueueCompleted is accepted when reading older rows; new
// completions are recorded as QueueDone.
const (
	QueueWaiting     = "Waiting"
	QueueBeingServed = "Being Served"
	QueueDone        = "Done"
	QueueCancelled   = "Cancelled"
	QueueCompleted   = "Completed"
)

// ActiveStatuses are the statuses that hold a place in a schedule.
var ActiveStatuses = []string{StatusPending, StatusConfirmed, StatusInProgress}

var transitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrScheduleUnavailable = errors.New("schedule is not open for booking")
	ErrSchedulePast        = errors.New("schedule has already ended")
	ErrScheduleFull        = errors.New("schedule is fully booked")
	ErrScheduleInUse       = errors.New("schedule has appointments; mark it unavailable instead")
	ErrAlreadyBooked       = errors.New("you already have an active appointment for this schedule")
	ErrInvalidTransition   = errors.New("appointment status does not allow this action")
	ErrNotQueued           = errors.New("appointment has no queue number yet")
	ErrQueueEmpty          = errors.New("no one is waiting in the queue")
	ErrForbidden           = errors.New("appointment belongs to another student")
)

// ValidationError reports bad client input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TransitionError wraps ErrInvalidTransition with the offending statuses.
func transitionError(from, to string) error {
	return fmt.Errorf("%w: cannot move from %q to %q", ErrInvalidTransition, from, to)
}

// TimeOfDay is a wall clock time with minute precision, encoded as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(v string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time must be formatted HH:MM: %q", v)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Schedule is a bookable clinic slot on one date.
type Schedule struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Date            time.Time  `db:"schedule_date" json:"-"`
	StartTime       TimeOfDay  `db:"start_time" json:"start_time"`
	EndTime         TimeOfDay  `db:"end_time" json:"end_time"`
	IsAvailable     bool       `db:"is_available" json:"is_available"`
	Capacity        int        `db:"capacity" json:"capacity"`
	LastQueueNumber int        `db:"last_queue_number" json:"last_queue_number"`
	CreatedBy       *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	type alias Schedule
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(s), Date: s.DateString()})
}

func (s *Schedule) DateString() string { return s.Date.Format(time.DateOnly) }

// StartsAt is the slot start in loc.
func (s *Schedule) StartsAt(loc *time.Location) time.Time {
	return s.at(s.StartTime, loc)
}

// EndsAt is the slot end in loc.
func (s *Schedule) EndsAt(loc *time.Location) time.Time {
	return s.at(s.EndTime, loc)
}

func (s *Schedule) at(t TimeOfDay, loc *time.Location) time.Time {
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// Unlimited reports whether the schedule has no booking cap.
func (s *Schedule) Unlimited() bool { return s.Capacity == 0 }

// Vitals are the measurements taken at triage.
type Vitals struct {
	TemperatureC     *float64 `json:"temperature_c,omitempty"`
	BloodPressure    string   `json:"blood_pressure,omitempty"`
	PulseRate        *int     `json:"pulse_rate,omitempty"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty"`
	OxygenSaturation *int     `json:"oxygen_saturation,omitempty"`
	WeightKG         *float64 `json:"weight_kg,omitempty"`
	HeightCM         *float64 `json:"height_cm,omitempty"`
}

func (v *Vitals) validate() error {
	if v == nil {
		return nil
	}
	if t := v.TemperatureC; t != nil && (*t < 30 || *t > 45) {
		return invalidf("temperature_c must be between 30 and 45")
	}
	if p := v.PulseRate; p != nil && (*p < 20 || *p > 250) {
		return invalidf("pulse_rate must be between 20 and 250")
	}
	if r := v.RespiratoryRate; r != nil && (*r < 5 || *r > 80) {
		return invalidf("respiratory_rate must be between 5 and 80")
	}
	if o := v.OxygenSaturation; o != nil && (*o < 50 || *o > 100) {
		return invalidf("oxygen_saturation must be between 50 and 100")
	}
	if bp := strings.TrimSpace(v.BloodPressure); bp != "" {
		var sys, dia int
		if n, _ := fmt.Sscanf(bp, "%d/%d", &sys, &dia); n != 2 || sys <= dia || dia <= 0 {
			return invalidf("blood_pressure must look like 120/80")
		}
		v.BloodPressure = bp
	}
	return nil
}

// Appointment links a student to a schedule and tracks its place in the
// queue.
type Appointment struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	StudentID         uuid.UUID  `db:"student_id" json:"student_id"`
	ScheduleID        uuid.UUID  `db:"schedule_id" json:"schedule_id"`
	AppointmentStatus string     `db:"appointment_status" json:"appointment_status"`
	QueueStatus       *string    `db:"queue_status" json:"queue_status,omitempty"`
	QueueNumber       *int       `db:"queue_number" json:"queue_number,omitempty"`
	Reason            string     `db:"reason" json:"reason"`
	Symptoms          *string    `db:"symptoms" json:"symptoms,omitempty"`
	TriageNotes       *string    `db:"triage_notes" json:"triage_notes,omitempty"`
	Vitals            *Vitals    `db:"vitals" json:"vitals,omitempty"`
	CancelReason      *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	BookingDate       time.Time  `db:"booking_date" json:"booking_date"`
	ConfirmedAt       *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	QueuedAt          *time.Time `db:"queued_at" json:"queued_at,omitempty"`
	ServedAt          *time.Time `db:"served_at" json:"served_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	// Read-only, joined from students and schedules on queries.
	StudentName   string     `db:"-" json:"student_name,omitempty"`
	StudentNumber string     `db:"-" json:"student_number,omitempty"`
	ScheduleDate  *time.Time `db:"-" json:"-"`
}

func (a *Appointment) setQueueStatus(s string) { a.QueueStatus = &s }

func (a *Appointment) queueStatus() string {
	if a.QueueStatus == nil {
		return ""
	}
	return *a.QueueStatus
}

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	From          *time.Time
	To            *time.Time
	AvailableOnly bool

	// EndsAfter drops slots whose end, read in TZ, is not after it.
	EndsAfter *time.Time
	TZ        string
}

// AppointmentFilter narrows staff appointment searches.
type AppointmentFilter struct {
	Status     string
	ScheduleID *uuid.UUID
	StudentID  *uuid.UUID
	Date       *time.Time
}

// QueueView is the live queue of one schedule.
type QueueView struct {
	Schedule     *Schedule      `json:"schedule"`
	NowServing   []int          `json:"now_serving"`
	Next         []int          `json:"next"`
	WaitingCount int            `json:"waiting_count"`
	Entries      []*Appointment `json:"entries"`
}

func optString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
