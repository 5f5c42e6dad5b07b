package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// Lock reads the schedule with a row lock held until the transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error)
	// NextQueueNumber increments and returns the schedule's queue counter.
	NextQueueNumber(ctx context.Context, id uuid.UUID) (int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Lock(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	Search(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// ListDueUnassigned returns confirmed appointments without a queue number
	// whose slot has started at now, oldest booking first.
	ListDueUnassigned(ctx context.Context, now time.Time, tz string, limit int) ([]*Appointment, error)
	// ListUnassignedBefore locks the schedule's confirmed appointments without
	// a queue number that were booked before the given time, oldest first.
	ListUnassignedBefore(ctx context.Context, scheduleID uuid.UUID, before time.Time) ([]*Appointment, error)
	// ListQueue returns the schedule's numbered appointments in queue order.
	ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]*Appointment, error)
	// NextWaiting locks and returns the waiting appointment with the lowest
	// queue number.
	NextWaiting(ctx context.Context, scheduleID uuid.UUID) (*Appointment, error)
	CountByStatus(ctx context.Context, scheduleID uuid.UUID, statuses []string) (int, error)
}
