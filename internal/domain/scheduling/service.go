package scheduling

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusclinic/clinicq/internal/domain/messaging"
	"github.com/campusclinic/clinicq/internal/domain/record"
	"github.com/campusclinic/clinicq/internal/platform/notification"
	"github.com/campusclinic/clinicq/internal/platform/websocket"
)

// Live event types.
const (
	EventAppointmentBooked  = "appointment.booked"
	EventAppointmentUpdated = "appointment.updated"
	EventQueueUpdated       = "queue.updated"
	EventQueueCalled        = "queue.called"
)

const (
	maxReasonLength = 500
	dueBatchSize    = 100
	nextPreview     = 5
)

// TxRunner runs fn in one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RecordKeeper writes to the student's medical record.
type RecordKeeper interface {
	SetAllergies(ctx context.Context, studentID, staffID uuid.UUID, allergies string) error
	RecordVisit(ctx context.Context, v record.Visit) (*record.History, error)
}

// Patient holds the contact details used for appointment notices.
type Patient struct {
	Name  string
	Email string
	Phone string
}

type PatientDirectory interface {
	Patient(ctx context.Context, studentID uuid.UUID) (*Patient, error)
}

type Notifier interface {
	Email(ctx context.Context, templateID, to string, data map[string]string)
	SMS(ctx context.Context, templateID, to string, data map[string]string)
}

// Inbox stores in-app notifications.
type Inbox interface {
	Notify(ctx context.Context, in messaging.NotificationInput) (*messaging.Notification, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any)
}

// Deps wires a Service. Patients, Notifier, Inbox and Publisher may be nil.
type Deps struct {
	Schedules    ScheduleRepository
	Appointments AppointmentRepository
	Tx           TxRunner
	Records      RecordKeeper
	Patients     PatientDirectory
	Notifier     Notifier
	Inbox        Inbox
	Publisher    Publisher
	Location     *time.Location
	Logger       zerolog.Logger
}

type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	tx           TxRunner
	records      RecordKeeper
	patients     PatientDirectory
	notifier     Notifier
	inbox        Inbox
	pub          Publisher
	loc          *time.Location
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		schedules:    d.Schedules,
		appointments: d.Appointments,
		tx:           d.Tx,
		records:      d.Records,
		patients:     d.Patients,
		notifier:     d.Notifier,
		inbox:        d.Inbox,
		pub:          d.Publisher,
		loc:          loc,
		logger:       d.Logger.With().Str("component", "scheduling").Logger(),
		now:          time.Now,
	}
}

// Location is the clinic time zone.
func (s *Service) Location() *time.Location { return s.loc }

// -- Schedules --

// ScheduleInput creates or replaces a schedule. Date is "YYYY-MM-DD".
type ScheduleInput struct {
	Date        string    `json:"date"`
	StartTime   TimeOfDay `json:"start_time"`
	EndTime     TimeOfDay `json:"end_time"`
	IsAvailable *bool     `json:"is_available"`
	Capacity    int       `json:"capacity"`
}

func (in ScheduleInput) apply(sc *Schedule, loc *time.Location) error {
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(in.Date), loc)
	if err != nil {
		return invalidf("date must be formatted YYYY-MM-DD")
	}
	if in.EndTime.Minutes() <= in.StartTime.Minutes() {
		return invalidf("end_time must be after start_time")
	}
	if in.Capacity < 0 {
		return invalidf("capacity cannot be negative")
	}
	sc.Date = d
	sc.StartTime = in.StartTime
	sc.EndTime = in.EndTime
	sc.Capacity = in.Capacity
	if in.IsAvailable != nil {
		sc.IsAvailable = *in.IsAvailable
	}
	return nil
}

func (s *Service) CreateSchedule(ctx context.Context, staffID uuid.UUID, in ScheduleInput) (*Schedule, error) {
	sc := &Schedule{IsAvailable: true}
	if err := in.apply(sc, s.loc); err != nil {
		return nil, err
	}
	if staffID != uuid.Nil {
		sc.CreatedBy = &staffID
	}
	if err := s.schedules.Create(ctx, sc); err != nil {
		return nil, err
	}
	s.logger.Info().Str("schedule_id", sc.ID.String()).Str("date", sc.DateString()).Msg("schedule created")
	return sc, nil
}

func (s *Service) UpdateSchedule(ctx context.Context, id uuid.UUID, in ScheduleInput) (*Schedule, error) {
	var out *Schedule
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		sc, err := s.schedules.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := in.apply(sc, s.loc); err != nil {
			return err
		}
		if err := s.schedules.Update(ctx, sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetAvailability opens or closes a schedule for new bookings.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*Schedule, error) {
	var out *Schedule
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		sc, err := s.schedules.Lock(ctx, id)
		if err != nil {
			return err
		}
		sc.IsAvailable = available
		if err := s.schedules.Update(ctx, sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSchedule removes a schedule that no active appointment refers to.
func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.schedules.Lock(ctx, id); err != nil {
			return err
		}
		n, err := s.appointments.CountByStatus(ctx, id, ActiveStatuses)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrScheduleInUse
		}
		return s.schedules.Delete(ctx, id)
	})
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	return s.schedules.List(ctx, f, limit, offset)
}

// ListBookable returns open schedules that have not ended yet.
func (s *Service) ListBookable(ctx context.Context, limit, offset int) ([]*Schedule, int, error) {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return s.schedules.List(ctx, ScheduleFilter{
		From:          &today,
		AvailableOnly: true,
		EndsAfter:     &now,
		TZ:            s.loc.String(),
	}, limit, offset)
}

// -- Booking --

type BookingInput struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Reason     string    `json:"reason"`
	Symptoms   string    `json:"symptoms"`
}

func (in *BookingInput) validate() error {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.ScheduleID == uuid.Nil {
		return invalidf("schedule_id is required")
	}
	if in.Reason == "" {
		return invalidf("reason is required")
	}
	if len(in.Reason) > maxReasonLength {
		return invalidf("reason exceeds %d characters", maxReasonLength)
	}
	return nil
}

// Book creates a pending appointment for the student.
func (s *Service) Book(ctx context.Context, studentID uuid.UUID, in BookingInput) (*Appointment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		a  *Appointment
		sc *Schedule
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sc, err = s.schedules.Lock(ctx, in.ScheduleID)
		if err != nil {
			return err
		}
		if !sc.IsAvailable {
			return ErrScheduleUnavailable
		}
		if !s.now().Before(sc.EndsAt(s.loc)) {
			return ErrSchedulePast
		}
		if !sc.Unlimited() {
			n, err := s.appointments.CountByStatus(ctx, sc.ID, ActiveStatuses)
			if err != nil {
				return err
			}
			if n >= sc.Capacity {
				return ErrScheduleFull
			}
		}
		a = &Appointment{
			StudentID:         studentID,
			ScheduleID:        sc.ID,
			AppointmentStatus: StatusPending,
			Reason:            in.Reason,
			Symptoms:          optString(in.Symptoms),
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("schedule_id", sc.ID.String()).Msg("appointment booked")
	s.emailPatient(ctx, a, sc, notification.TplAppointmentBooked, nil)
	s.publish(ctx, websocket.StaffTopic, EventAppointmentBooked, a)
	return a, nil
}

// WalkInInput registers a student who arrived without booking.
type WalkInInput struct {
	StudentID  uuid.UUID `json:"student_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`
	Reason     string    `json:"reason"`
	Symptoms   string    `json:"symptoms"`
}

// CreateWalkIn books a confirmed appointment and gives it the next queue
// number straight away. Capacity and availability do not apply.
func (s *Service) CreateWalkIn(ctx context.Context, staffID uuid.UUID, in WalkInInput) (*Appointment, error) {
	b := BookingInput{ScheduleID: in.ScheduleID, Reason: in.Reason, Symptoms: in.Symptoms}
	if err := b.validate(); err != nil {
		return nil, err
	}
	if in.StudentID == uuid.Nil {
		return nil, invalidf("student_id is required")
	}

	var (
		a       *Appointment
		sc      *Schedule
		backlog []*Appointment
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sc, err = s.schedules.Lock(ctx, in.ScheduleID)
		if err != nil {
			return err
		}
		if !s.now().Before(sc.EndsAt(s.loc)) {
			return ErrSchedulePast
		}
		now := s.now()
		a = &Appointment{
			StudentID:         in.StudentID,
			ScheduleID:        sc.ID,
			AppointmentStatus: StatusConfirmed,
			Reason:            b.Reason,
			Symptoms:          optString(b.Symptoms),
			ConfirmedAt:       &now,
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		backlog, err = s.numberInOrder(ctx, a)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("staff_id", staffID.String()).
		Int("queue_number", *a.QueueNumber).Msg("walk-in registered")
	for _, e := range backlog {
		s.announceQueued(ctx, e, sc)
	}
	s.announceQueued(ctx, a, sc)
	return a, nil
}

// Confirm accepts a pending appointment. The queue number is assigned now
// when the slot has already started, otherwise by the queue worker.
func (s *Service) Confirm(ctx context.Context, staffID, id uuid.UUID) (*Appointment, error) {
	var (
		a       *Appointment
		sc      *Schedule
		backlog []*Appointment
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		a, sc, err = s.lockForNumbering(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(a.AppointmentStatus, StatusConfirmed) {
			return transitionError(a.AppointmentStatus, StatusConfirmed)
		}
		now := s.now()
		a.AppointmentStatus = StatusConfirmed
		a.ConfirmedAt = &now
		if !now.Before(sc.StartsAt(s.loc)) {
			backlog, err = s.numberInOrder(ctx, a)
			return err
		}
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	for _, e := range backlog {
		s.announceQueued(ctx, e, sc)
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("staff_id", staffID.String()).Msg("appointment confirmed")
	s.emailPatient(ctx, a, sc, notification.TplAppointmentConfirmed, nil)
	s.notifyInbox(ctx, a.StudentID, &staffID, "Appointment confirmed",
		"Your appointment on "+sc.DateString()+" at "+sc.StartTime.String()+" is confirmed.", messaging.KindAppointment)
	if a.QueueNumber != nil {
		s.announceQueued(ctx, a, sc)
	} else {
		s.publish(ctx, websocket.StudentTopic(a.StudentID.String()), EventAppointmentUpdated, a)
	}
	return a, nil
}

// lockForNumbering locks the appointment's schedule and then the appointment.
// Every path that hands out queue numbers takes the locks in this order.
func (s *Service) lockForNumbering(ctx context.Context, id uuid.UUID) (*Appointment, *Schedule, error) {
	cur, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sc, err := s.schedules.Lock(ctx, cur.ScheduleID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.appointments.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a, sc, nil
}

// numberInOrder first numbers the confirmed appointments of a's schedule
// that were booked before a and still wait for a number, then a itself, so
// numbers follow booking order. The schedule row lock must be held. It
// returns the earlier appointments it numbered.
func (s *Service) numberInOrder(ctx context.Context, a *Appointment) ([]*Appointment, error) {
	earlier, err := s.appointments.ListUnassignedBefore(ctx, a.ScheduleID, a.CreatedAt)
	if err != nil {
		return nil, err
	}
	var numbered []*Appointment
	for _, e := range earlier {
		if e.ID == a.ID {
			continue
		}
		if err := s.assign(ctx, e); err != nil {
			return nil, err
		}
		numbered = append(numbered, e)
	}
	return numbered, s.assign(ctx, a)
}

// assign gives a the next number of its schedule. It must run inside a
// transaction holding a's row lock.
func (s *Service) assign(ctx context.Context, a *Appointment) error {
	n, err := s.schedules.NextQueueNumber(ctx, a.ScheduleID)
	if err != nil {
		return err
	}
	now := s.now()
	a.QueueNumber = &n
	a.setQueueStatus(QueueWaiting)
	a.QueuedAt = &now
	return s.appointments.Update(ctx, a)
}

// AssignQueueNumber numbers a confirmed appointment. An appointment that
// already has a number is returned unchanged.
func (s *Service) AssignQueueNumber(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.assignQueueNumber(ctx, id)
	return a, err
}

// assignQueueNumber returns the appointment and how many numbers it handed
// out, counting earlier bookings numbered ahead of it.
func (s *Service) assignQueueNumber(ctx context.Context, id uuid.UUID) (*Appointment, int, error) {
	var (
		a       *Appointment
		sc      *Schedule
		backlog []*Appointment
		fresh   bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		a, sc, err = s.lockForNumbering(ctx, id)
		if err != nil {
			return err
		}
		if a.QueueNumber != nil {
			return nil
		}
		if a.AppointmentStatus != StatusConfirmed {
			return transitionError(a.AppointmentStatus, StatusConfirmed)
		}
		fresh = true
		backlog, err = s.numberInOrder(ctx, a)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	if !fresh {
		return a, 0, nil
	}
	for _, e := range backlog {
		s.announceQueued(ctx, e, sc)
	}
	s.announceQueued(ctx, a, sc)
	return a, len(backlog) + 1, nil
}

// AssignDue numbers every confirmed appointment whose slot has started, in
// booking order, and returns how many were assigned.
func (s *Service) AssignDue(ctx context.Context) (int, error) {
	due, err := s.appointments.ListDueUnassigned(ctx, s.now(), s.loc.String(), dueBatchSize)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range due {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		_, n, err := s.assignQueueNumber(ctx, a.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("assign queue number")
			continue
		}
		count += n
	}
	return count, nil
}

// -- Queue --

// CallNext moves the lowest waiting number of the schedule to the counter.
func (s *Service) CallNext(ctx context.Context, staffID, scheduleID uuid.UUID) (*Appointment, error) {
	var (
		a  *Appointment
		sc *Schedule
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sc, err = s.schedules.GetByID(ctx, scheduleID)
		if err != nil {
			return err
		}
		a, err = s.appointments.NextWaiting(ctx, scheduleID)
		if err != nil {
			return err
		}
		now := s.now()
		a.setQueueStatus(QueueBeingServed)
		a.ServedAt = &now
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	num := strconv.Itoa(*a.QueueNumber)
	s.logger.Info().Str("schedule_id", scheduleID.String()).Str("queue_number", num).
		Str("staff_id", staffID.String()).Msg("queue number called")
	s.notifyInbox(ctx, a.StudentID, &staffID, "It's your turn",
		"Queue number "+num+" is now being served. Please proceed to the clinic.", messaging.KindQueue)
	s.publish(ctx, websocket.StudentTopic(a.StudentID.String()), EventQueueCalled, a)
	s.publish(ctx, websocket.QueueTopic(scheduleID.String()), EventQueueCalled, a)
	if p := s.patient(ctx, a.StudentID); p != nil && s.notifier != nil {
		data := s.templateData(p, a, sc, nil)
		s.notifier.Email(ctx, notification.TplQueueCalled, p.Email, data)
		if p.Phone != "" {
			s.notifier.SMS(ctx, notification.TplQueueCalled, p.Phone, data)
		}
	}
	return a, nil
}

func (s *Service) QueueView(ctx context.Context, scheduleID uuid.UUID) (*QueueView, error) {
	sc, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	entries, err := s.appointments.ListQueue(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	v := &QueueView{Schedule: sc, NowServing: []int{}, Next: []int{}, Entries: entries}
	if v.Entries == nil {
		v.Entries = []*Appointment{}
	}
	for _, a := range entries {
		if a.QueueNumber == nil {
			continue
		}
		switch a.queueStatus() {
		case QueueBeingServed:
			v.NowServing = append(v.NowServing, *a.QueueNumber)
		case QueueWaiting:
			v.WaitingCount++
			if len(v.Next) < nextPreview {
				v.Next = append(v.Next, *a.QueueNumber)
			}
		}
	}
	return v, nil
}

// -- Visit --

type TriageInput struct {
	Vitals    *Vitals `json:"vitals"`
	Allergies string  `json:"allergies"`
	Notes     string  `json:"notes"`
}

// Triage starts the visit of a numbered, confirmed appointment.
func (s *Service) Triage(ctx context.Context, staffID, id uuid.UUID, in TriageInput) (*Appointment, error) {
	if err := in.Vitals.validate(); err != nil {
		return nil, err
	}

	var a *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.Lock(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(a.AppointmentStatus, StatusInProgress) {
			return transitionError(a.AppointmentStatus, StatusInProgress)
		}
		if a.QueueNumber == nil {
			return ErrNotQueued
		}
		now := s.now()
		a.AppointmentStatus = StatusInProgress
		a.setQueueStatus(QueueBeingServed)
		if a.ServedAt == nil {
			a.ServedAt = &now
		}
		a.TriageNotes = optString(in.Notes)
		a.Vitals = in.Vitals
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		return s.records.SetAllergies(ctx, a.StudentID, staffID, in.Allergies)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("staff_id", staffID.String()).Msg("appointment triaged")
	s.publish(ctx, websocket.QueueTopic(a.ScheduleID.String()), EventQueueUpdated, a)
	return a, nil
}

type CompleteInput struct {
	Diagnosis   string `json:"diagnosis"`
	Medications string `json:"medications"`
	Notes       string `json:"notes"`
}

// Complete closes an in-progress visit and writes its history entry.
func (s *Service) Complete(ctx context.Context, staffID, id uuid.UUID, in CompleteInput) (*Appointment, error) {
	var a *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.Lock(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(a.AppointmentStatus, StatusCompleted) {
			return transitionError(a.AppointmentStatus, StatusCompleted)
		}
		now := s.now()
		a.AppointmentStatus = StatusCompleted
		a.setQueueStatus(QueueDone)
		a.CompletedAt = &now
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}

		triage := ""
		if a.TriageNotes != nil {
			triage = *a.TriageNotes
		}
		_, err = s.records.RecordVisit(ctx, record.Visit{
			AppointmentID: a.ID,
			StudentID:     a.StudentID,
			StaffID:       staffID,
			VisitDate:     now,
			Reason:        a.Reason,
			Diagnosis:     in.Diagnosis,
			Medications:   in.Medications,
			TriageNotes:   triage,
			Notes:         in.Notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("staff_id", staffID.String()).Msg("appointment completed")
	if sc, err := s.schedules.GetByID(ctx, a.ScheduleID); err == nil {
		s.emailPatient(ctx, a, sc, notification.TplAppointmentCompleted, map[string]string{
			"diagnosis":   strings.TrimSpace(in.Diagnosis),
			"medications": strings.TrimSpace(in.Medications),
		})
	}
	s.notifyInbox(ctx, a.StudentID, &staffID, "Visit completed",
		"Your clinic visit is complete. The summary is in your medical history.", messaging.KindAppointment)
	s.publish(ctx, websocket.StudentTopic(a.StudentID.String()), EventAppointmentUpdated, a)
	s.publish(ctx, websocket.QueueTopic(a.ScheduleID.String()), EventQueueUpdated, a)
	return a, nil
}

// Actor identifies who performs an action. Students may only act on their
// own appointments.
type Actor struct {
	ID      uuid.UUID
	Student bool
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	var a *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.Lock(ctx, id)
		if err != nil {
			return err
		}
		if actor.Student && a.StudentID != actor.ID {
			return ErrForbidden
		}
		if !CanTransition(a.AppointmentStatus, StatusCancelled) {
			return transitionError(a.AppointmentStatus, StatusCancelled)
		}
		now := s.now()
		a.AppointmentStatus = StatusCancelled
		a.CancelReason = optString(reason)
		a.CancelledAt = &now
		if a.QueueStatus != nil {
			a.setQueueStatus(QueueCancelled)
		}
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Bool("by_student", actor.Student).Msg("appointment cancelled")
	if sc, err := s.schedules.GetByID(ctx, a.ScheduleID); err == nil {
		s.emailPatient(ctx, a, sc, notification.TplAppointmentCancelled, map[string]string{
			"reason": strings.TrimSpace(reason),
		})
	}
	if !actor.Student {
		s.notifyInbox(ctx, a.StudentID, &actor.ID, "Appointment cancelled",
			"Your appointment was cancelled by the clinic.", messaging.KindAppointment)
		s.publish(ctx, websocket.StudentTopic(a.StudentID.String()), EventAppointmentUpdated, a)
	} else {
		s.publish(ctx, websocket.StaffTopic, EventAppointmentUpdated, a)
	}
	if a.QueueStatus != nil {
		s.publish(ctx, websocket.QueueTopic(a.ScheduleID.String()), EventQueueUpdated, a)
	}
	return a, nil
}

// -- Queries --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListStudentAppointments(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByStudent(ctx, studentID, limit, offset)
}

func (s *Service) SearchAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, invalidf("unknown status %q", f.Status)
	}
	return s.appointments.Search(ctx, f, limit, offset)
}

// -- Notices --

func (s *Service) announceQueued(ctx context.Context, a *Appointment, sc *Schedule) {
	num := strconv.Itoa(*a.QueueNumber)
	s.emailPatient(ctx, a, sc, notification.TplQueueNumberAssigned, nil)
	s.notifyInbox(ctx, a.StudentID, nil, "Queue number assigned",
		"Your queue number for "+sc.DateString()+" is "+num+".", messaging.KindQueue)
	s.publish(ctx, websocket.StudentTopic(a.StudentID.String()), EventQueueUpdated, a)
	s.publish(ctx, websocket.QueueTopic(a.ScheduleID.String()), EventQueueUpdated, a)
}

func (s *Service) patient(ctx context.Context, studentID uuid.UUID) *Patient {
	if s.patients == nil {
		return nil
	}
	p, err := s.patients.Patient(ctx, studentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("student_id", studentID.String()).Msg("look up patient contact")
		return nil
	}
	return p
}

func (s *Service) templateData(p *Patient, a *Appointment, sc *Schedule, extra map[string]string) map[string]string {
	data := map[string]string{
		"name":   p.Name,
		"date":   sc.Date.Format("Monday, January 2, 2006"),
		"time":   sc.StartTime.String() + " - " + sc.EndTime.String(),
		"reason": a.Reason,
	}
	if a.QueueNumber != nil {
		data["queue_number"] = strconv.Itoa(*a.QueueNumber)
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func (s *Service) emailPatient(ctx context.Context, a *Appointment, sc *Schedule, tpl string, extra map[string]string) {
	if s.notifier == nil {
		return
	}
	p := s.patient(ctx, a.StudentID)
	if p == nil || p.Email == "" {
		return
	}
	s.notifier.Email(ctx, tpl, p.Email, s.templateData(p, a, sc, extra))
}

func (s *Service) notifyInbox(ctx context.Context, studentID uuid.UUID, staffID *uuid.UUID, title, body, kind string) {
	if s.inbox == nil {
		return
	}
	_, err := s.inbox.Notify(ctx, messaging.NotificationInput{
		StudentID: studentID,
		StaffID:   staffID,
		Title:     title,
		Body:      body,
		Kind:      kind,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("student_id", studentID.String()).Msg("store notification")
	}
}

func (s *Service) publish(ctx context.Context, topic, eventType string, payload any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, topic, eventType, payload)
}
