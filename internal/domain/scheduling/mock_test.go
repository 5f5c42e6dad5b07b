package scheduling

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusclinic/clinicq/internal/domain/messaging"
	"github.com/campusclinic/clinicq/internal/domain/record"
)

var clinicTZ = time.FixedZone("PHT", 8*60*60)

// -- Mock Repositories --

type mockScheduleRepo struct {
	items map[uuid.UUID]*Schedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{items: make(map[uuid.UUID]*Schedule)}
}

func (m *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockScheduleRepo) Lock(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return m.GetByID(ctx, id)
}

func (m *mockScheduleRepo) Update(_ context.Context, s *Schedule) error {
	if _, ok := m.items[s.ID]; !ok {
		return ErrScheduleNotFound
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockScheduleRepo) List(_ context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	var out []*Schedule
	for _, s := range m.items {
		if f.AvailableOnly && !s.IsAvailable {
			continue
		}
		if f.From != nil && s.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && s.Date.After(*f.To) {
			continue
		}
		if f.EndsAfter != nil && !s.EndsAt(clinicTZ).After(*f.EndsAfter) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime.Minutes() < out[j].StartTime.Minutes()
	})
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockScheduleRepo) NextQueueNumber(_ context.Context, id uuid.UUID) (int, error) {
	s, ok := m.items[id]
	if !ok {
		return 0, ErrScheduleNotFound
	}
	s.LastQueueNumber++
	return s.LastQueueNumber, nil
}

type mockAppointmentRepo struct {
	items     map[uuid.UUID]*Appointment
	schedules *mockScheduleRepo
	seq       int
}

func newMockAppointmentRepo(schedules *mockScheduleRepo) *mockAppointmentRepo {
	return &mockAppointmentRepo{items: make(map[uuid.UUID]*Appointment), schedules: schedules}
}

func isActive(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	for _, existing := range m.items {
		if existing.StudentID == a.StudentID && existing.ScheduleID == a.ScheduleID && isActive(existing.AppointmentStatus) {
			return ErrAlreadyBooked
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.seq++
	a.CreatedAt = time.Date(2026, 1, 1, 0, 0, m.seq, 0, time.UTC)
	a.BookingDate = a.CreatedAt
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) Lock(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	if _, ok := m.items[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	for _, other := range m.items {
		if other.ID != a.ID && other.ScheduleID == a.ScheduleID && other.QueueNumber != nil &&
			a.QueueNumber != nil && *other.QueueNumber == *a.QueueNumber {
			panic("duplicate queue number in schedule")
		}
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) sorted(keep func(*Appointment) bool, less func(a, b *Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCreated(a, b *Appointment) bool { return a.CreatedAt.Before(b.CreatedAt) }

func byQueueNumber(a, b *Appointment) bool { return *a.QueueNumber < *b.QueueNumber }

func (m *mockAppointmentRepo) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return m.Search(ctx, AppointmentFilter{StudentID: &studentID}, limit, offset)
}

func (m *mockAppointmentRepo) Search(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	out := m.sorted(func(a *Appointment) bool {
		if f.Status != "" && a.AppointmentStatus != f.Status {
			return false
		}
		if f.ScheduleID != nil && a.ScheduleID != *f.ScheduleID {
			return false
		}
		if f.StudentID != nil && a.StudentID != *f.StudentID {
			return false
		}
		return true
	}, byCreated)
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockAppointmentRepo) ListDueUnassigned(_ context.Context, now time.Time, _ string, limit int) ([]*Appointment, error) {
	out := m.sorted(func(a *Appointment) bool {
		if a.AppointmentStatus != StatusConfirmed || a.QueueNumber != nil {
			return false
		}
		sc, ok := m.schedules.items[a.ScheduleID]
		return ok && !sc.StartsAt(clinicTZ).After(now)
	}, byCreated)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockAppointmentRepo) ListUnassignedBefore(_ context.Context, scheduleID uuid.UUID, before time.Time) ([]*Appointment, error) {
	return m.sorted(func(a *Appointment) bool {
		return a.ScheduleID == scheduleID && a.AppointmentStatus == StatusConfirmed &&
			a.QueueNumber == nil && a.CreatedAt.Before(before)
	}, byCreated), nil
}

func (m *mockAppointmentRepo) ListQueue(_ context.Context, scheduleID uuid.UUID) ([]*Appointment, error) {
	return m.sorted(func(a *Appointment) bool {
		return a.ScheduleID == scheduleID && a.QueueNumber != nil
	}, byQueueNumber), nil
}

func (m *mockAppointmentRepo) NextWaiting(_ context.Context, scheduleID uuid.UUID) (*Appointment, error) {
	out := m.sorted(func(a *Appointment) bool {
		return a.ScheduleID == scheduleID && a.queueStatus() == QueueWaiting && a.AppointmentStatus == StatusConfirmed
	}, byQueueNumber)
	if len(out) == 0 {
		return nil, ErrQueueEmpty
	}
	return out[0], nil
}

func (m *mockAppointmentRepo) CountByStatus(_ context.Context, scheduleID uuid.UUID, statuses []string) (int, error) {
	n := 0
	for _, a := range m.items {
		if a.ScheduleID != scheduleID {
			continue
		}
		for _, s := range statuses {
			if a.AppointmentStatus == s {
				n++
			}
		}
	}
	return n, nil
}

// -- Collaborators --

type fakeTx struct{ calls int }

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeRecords struct {
	allergies []string
	visits    []record.Visit
}

func (f *fakeRecords) SetAllergies(_ context.Context, _, _ uuid.UUID, allergies string) error {
	if allergies != "" {
		f.allergies = append(f.allergies, allergies)
	}
	return nil
}

func (f *fakeRecords) RecordVisit(_ context.Context, v record.Visit) (*record.History, error) {
	for _, existing := range f.visits {
		if existing.AppointmentID == v.AppointmentID {
			return nil, record.ErrHistoryExists
		}
	}
	f.visits = append(f.visits, v)
	return &record.History{ID: uuid.New(), AppointmentID: v.AppointmentID, StudentID: v.StudentID}, nil
}

type fakeDirectory struct{}

func (fakeDirectory) Patient(_ context.Context, _ uuid.UUID) (*Patient, error) {
	return &Patient{Name: "Ana Dela Cruz", Email: "ana@example.edu", Phone: "+639171234567"}, nil
}

type sentNotice struct {
	template string
	to       string
	data     map[string]string
}

type fakeNotifier struct {
	emails []sentNotice
	sms    []sentNotice
}

func (f *fakeNotifier) Email(_ context.Context, tpl, to string, data map[string]string) {
	f.emails = append(f.emails, sentNotice{tpl, to, data})
}

func (f *fakeNotifier) SMS(_ context.Context, tpl, to string, data map[string]string) {
	f.sms = append(f.sms, sentNotice{tpl, to, data})
}

func (f *fakeNotifier) templates() []string {
	var out []string
	for _, e := range f.emails {
		out = append(out, e.template)
	}
	return out
}

type fakeInbox struct {
	items []messaging.NotificationInput
}

func (f *fakeInbox) Notify(_ context.Context, in messaging.NotificationInput) (*messaging.Notification, error) {
	f.items = append(f.items, in)
	return &messaging.Notification{ID: uuid.New(), StudentID: in.StudentID, Title: in.Title}, nil
}

type publishedEvent struct {
	topic     string
	eventType string
}

type recordingPublisher struct {
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic, eventType string, _ any) {
	p.events = append(p.events, publishedEvent{topic, eventType})
}

func (p *recordingPublisher) has(topic, eventType string) bool {
	for _, e := range p.events {
		if e.topic == topic && e.eventType == eventType {
			return true
		}
	}
	return false
}

// -- Test Environment --

type testEnv struct {
	svc          *Service
	schedules    *mockScheduleRepo
	appointments *mockAppointmentRepo
	records      *fakeRecords
	notifier     *fakeNotifier
	inbox        *fakeInbox
	pub          *recordingPublisher
	clock        time.Time
}

func newTestEnv() *testEnv {
	schedules := newMockScheduleRepo()
	env := &testEnv{
		schedules:    schedules,
		appointments: newMockAppointmentRepo(schedules),
		records:      &fakeRecords{},
		notifier:     &fakeNotifier{},
		inbox:        &fakeInbox{},
		pub:          &recordingPublisher{},
		clock:        time.Date(2026, 3, 2, 9, 30, 0, 0, clinicTZ),
	}
	env.svc = NewService(Deps{
		Schedules:    env.schedules,
		Appointments: env.appointments,
		Tx:           &fakeTx{},
		Records:      env.records,
		Patients:     fakeDirectory{},
		Notifier:     env.notifier,
		Inbox:        env.inbox,
		Publisher:    env.pub,
		Location:     clinicTZ,
		Logger:       zerolog.Nop(),
	})
	env.svc.now = func() time.Time { return env.clock }
	return env
}

// schedule stores a slot on date (YYYY-MM-DD) from start to end.
func (env *testEnv) schedule(t *testing.T, date, start, end string, capacity int) *Schedule {
	t.Helper()
	d, err := time.ParseInLocation(time.DateOnly, date, clinicTZ)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	st, err := ParseTimeOfDay(start)
	if err != nil {
		t.Fatal(err)
	}
	et, err := ParseTimeOfDay(end)
	if err != nil {
		t.Fatal(err)
	}
	sc := &Schedule{Date: d, StartTime: st, EndTime: et, IsAvailable: true, Capacity: capacity}
	if err := env.schedules.Create(context.Background(), sc); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sc
}

func (env *testEnv) book(t *testing.T, studentID, scheduleID uuid.UUID) *Appointment {
	t.Helper()
	a, err := env.svc.Book(context.Background(), studentID, BookingInput{ScheduleID: scheduleID, Reason: "Headache"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return a
}

func (env *testEnv) confirm(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := env.svc.Confirm(context.Background(), uuid.New(), id)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	return a
}

// queued books and confirms an appointment on a slot that has started.
func (env *testEnv) queued(t *testing.T, scheduleID uuid.UUID) *Appointment {
	t.Helper()
	a := env.confirm(t, env.book(t, uuid.New(), scheduleID).ID)
	if a.QueueNumber == nil {
		t.Fatal("expected a queue number on a started slot")
	}
	return a
}
