package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusclinic/clinicq/internal/platform/db"
)

const usecPerMinute = int64(time.Minute / time.Microsecond)

func toPGTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Minutes()) * usecPerMinute, Valid: true}
}

func fromPGTime(t pgtype.Time) TimeOfDay {
	m := int(t.Microseconds / usecPerMinute)
	return TimeOfDay{Hour: m / 60, Minute: m % 60}
}

func toPGDate(d time.Time) pgtype.Date {
	return pgtype.Date{Time: d, Valid: true}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

const scheduleCols = `id, schedule_date, start_time, end_time, is_available, capacity,
	last_queue_number, created_by, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var (
		s          Schedule
		date       pgtype.Date
		start, end pgtype.Time
	)
	err := row.Scan(&s.ID, &date, &start, &end, &s.IsAvailable, &s.Capacity,
		&s.LastQueueNumber, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Date = date.Time
	s.StartTime = fromPGTime(start)
	s.EndTime = fromPGTime(end)
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedules (id, schedule_date, start_time, end_time, is_available, capacity, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING last_queue_number, created_at, updated_at`,
		s.ID, toPGDate(s.Date), toPGTime(s.StartTime), toPGTime(s.EndTime), s.IsAvailable, s.Capacity, s.CreatedBy,
	).Scan(&s.LastQueueNumber, &s.CreatedAt, &s.UpdatedAt)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = $1`, id))
}

func (r *scheduleRepoPG) Lock(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = $1 FOR UPDATE`, id))
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *Schedule) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE schedules SET schedule_date=$2, start_time=$3, end_time=$4, is_available=$5,
			capacity=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, toPGDate(s.Date), toPGTime(s.StartTime), toPGTime(s.EndTime), s.IsAvailable, s.Capacity,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrScheduleNotFound
	}
	return err
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return ErrScheduleInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *scheduleRepoPG) List(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.From != nil {
		where += fmt.Sprintf(` AND schedule_date >= $%d`, idx)
		args = append(args, toPGDate(*f.From))
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND schedule_date <= $%d`, idx)
		args = append(args, toPGDate(*f.To))
		idx++
	}
	if f.AvailableOnly {
		where += ` AND is_available`
	}
	if f.EndsAfter != nil {
		where += fmt.Sprintf(` AND (schedule_date + end_time) AT TIME ZONE $%d > $%d`, idx, idx+1)
		args = append(args, f.TZ, *f.EndsAfter)
		idx += 2
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM schedules`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + scheduleCols + ` FROM schedules` + where +
		fmt.Sprintf(` ORDER BY schedule_date, start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *scheduleRepoPG) NextQueueNumber(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE schedules SET last_queue_number = last_queue_number + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING last_queue_number`, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrScheduleNotFound
	}
	return n, err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const appointmentSelect = `SELECT a.id, a.student_id, a.schedule_id, a.appointment_status,
	a.queue_status, a.queue_number, a.reason, a.symptoms, a.triage_notes, a.vitals, a.cancel_reason,
	a.booking_date, a.confirmed_at, a.queued_at, a.served_at, a.completed_at, a.cancelled_at,
	a.created_at, a.updated_at,
	COALESCE(s.first_name || ' ' || s.last_name, ''), COALESCE(s.student_number, ''), sc.schedule_date
	FROM appointments a
	LEFT JOIN students s ON s.id = a.student_id
	JOIN schedules sc ON sc.id = a.schedule_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date pgtype.Date
	)
	err := row.Scan(&a.ID, &a.StudentID, &a.ScheduleID, &a.AppointmentStatus,
		&a.QueueStatus, &a.QueueNumber, &a.Reason, &a.Symptoms, &a.TriageNotes, &a.Vitals, &a.CancelReason,
		&a.BookingDate, &a.ConfirmedAt, &a.QueuedAt, &a.ServedAt, &a.CompletedAt, &a.CancelledAt,
		&a.CreatedAt, &a.UpdatedAt,
		&a.StudentName, &a.StudentNumber, &date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if date.Valid {
		a.ScheduleDate = &date.Time
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, student_id, schedule_id, appointment_status, queue_status,
			queue_number, reason, symptoms, confirmed_at, queued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING booking_date, created_at, updated_at`,
		a.ID, a.StudentID, a.ScheduleID, a.AppointmentStatus, a.QueueStatus,
		a.QueueNumber, a.Reason, a.Symptoms, a.ConfirmedAt, a.QueuedAt,
	).Scan(&a.BookingDate, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_appointments_active_booking") {
		return ErrAlreadyBooked
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, appointmentSelect+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) Lock(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		appointmentSelect+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET appointment_status=$2, queue_status=$3, queue_number=$4,
			reason=$5, symptoms=$6, triage_notes=$7, vitals=$8, cancel_reason=$9,
			confirmed_at=$10, queued_at=$11, served_at=$12, completed_at=$13, cancelled_at=$14,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.AppointmentStatus, a.QueueStatus, a.QueueNumber,
		a.Reason, a.Symptoms, a.TriageNotes, a.Vitals, a.CancelReason,
		a.ConfirmedAt, a.QueuedAt, a.ServedAt, a.CompletedAt, a.CancelledAt,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	return err
}

func (r *appointmentRepoPG) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.Search(ctx, AppointmentFilter{StudentID: &studentID}, limit, offset)
}

func (r *appointmentRepoPG) Search(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND a.appointment_status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.ScheduleID != nil {
		where += fmt.Sprintf(` AND a.schedule_id = $%d`, idx)
		args = append(args, *f.ScheduleID)
		idx++
	}
	if f.StudentID != nil {
		where += fmt.Sprintf(` AND a.student_id = $%d`, idx)
		args = append(args, *f.StudentID)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND sc.schedule_date = $%d`, idx)
		args = append(args, toPGDate(*f.Date))
		idx++
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a
		JOIN schedules sc ON sc.id = a.schedule_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := appointmentSelect + where +
		fmt.Sprintf(` ORDER BY sc.schedule_date DESC, sc.start_time, a.queue_number NULLS LAST, a.created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListDueUnassigned(ctx context.Context, now time.Time, tz string, limit int) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, appointmentSelect+`
		WHERE a.appointment_status = 'Confirmed' AND a.queue_number IS NULL
			AND (sc.schedule_date + sc.start_time) AT TIME ZONE $1 <= $2
		ORDER BY a.created_at
		LIMIT $3`, tz, now, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListUnassignedBefore(ctx context.Context, scheduleID uuid.UUID, before time.Time) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, appointmentSelect+`
		WHERE a.schedule_id = $1 AND a.appointment_status = 'Confirmed' AND a.queue_number IS NULL
			AND a.created_at < $2
		ORDER BY a.created_at
		FOR UPDATE OF a`, scheduleID, before)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, appointmentSelect+`
		WHERE a.schedule_id = $1 AND a.queue_number IS NOT NULL
		ORDER BY a.queue_number`, scheduleID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) NextWaiting(ctx context.Context, scheduleID uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, appointmentSelect+`
		WHERE a.schedule_id = $1 AND a.queue_status = 'Waiting' AND a.appointment_status = 'Confirmed'
		ORDER BY a.queue_number
		LIMIT 1
		FOR UPDATE OF a SKIP LOCKED`, scheduleID))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrQueueEmpty
	}
	return a, err
}

func (r *appointmentRepoPG) CountByStatus(ctx context.Context, scheduleID uuid.UUID, statuses []string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointments
		WHERE schedule_id = $1 AND appointment_status = ANY($2)`, scheduleID, statuses).Scan(&n)
	return n, err
}
