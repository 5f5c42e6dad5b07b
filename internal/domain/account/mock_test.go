package account

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusclinic/clinicq/internal/platform/auth"
	"github.com/campusclinic/clinicq/internal/platform/blobstore"
	"github.com/campusclinic/clinicq/internal/platform/idcheck"
)

// -- Mock Repositories --

type mockUsertypeRepo struct {
	items map[uuid.UUID]*Usertype
}

func newMockUsertypeRepo() *mockUsertypeRepo {
	return &mockUsertypeRepo{items: make(map[uuid.UUID]*Usertype)}
}

func (m *mockUsertypeRepo) Create(_ context.Context, u *Usertype) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	m.items[u.ID] = u
	return nil
}

func (m *mockUsertypeRepo) Update(_ context.Context, u *Usertype) error {
	if _, ok := m.items[u.ID]; !ok {
		return ErrNotFound
	}
	m.items[u.ID] = u
	return nil
}

type mockStudentRepo struct {
	items map[uuid.UUID]*Student
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{items: make(map[uuid.UUID]*Student)}
}

func (m *mockStudentRepo) Create(_ context.Context, s *Student) error {
	for _, existing := range m.items {
		if existing.Email == s.Email {
			return ErrEmailTaken
		}
		if existing.StudentNumber == s.StudentNumber {
			return ErrStudentNumberTaken
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStudentRepo) GetByID(_ context.Context, id uuid.UUID) (*Student, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStudentRepo) GetByEmail(_ context.Context, email string) (*Student, error) {
	for _, s := range m.items {
		if s.Email == normalizeEmail(email) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStudentRepo) Update(_ context.Context, s *Student) error {
	if _, ok := m.items[s.ID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStudentRepo) Search(_ context.Context, f StudentFilter, limit, offset int) ([]*Student, int, error) {
	var result []*Student
	for _, s := range m.items {
		if f.Query != "" && !strings.Contains(strings.ToLower(s.LastName+" "+s.FirstName+" "+s.StudentNumber), strings.ToLower(f.Query)) {
			continue
		}
		if f.IsActive != nil && s.IsActive != *f.IsActive {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastName < result[j].LastName })
	return result, len(result), nil
}

type mockStaffRepo struct {
	items map[uuid.UUID]*ClinicStaff
}

func newMockStaffRepo() *mockStaffRepo {
	return &mockStaffRepo{items: make(map[uuid.UUID]*ClinicStaff)}
}

func (m *mockStaffRepo) Create(_ context.Context, s *ClinicStaff) error {
	for _, existing := range m.items {
		if existing.Email == s.Email {
			return ErrEmailTaken
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStaffRepo) GetByID(_ context.Context, id uuid.UUID) (*ClinicStaff, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStaffRepo) GetByEmail(_ context.Context, email string) (*ClinicStaff, error) {
	for _, s := range m.items {
		if s.Email == normalizeEmail(email) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStaffRepo) Update(_ context.Context, s *ClinicStaff) error {
	if _, ok := m.items[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStaffRepo) List(_ context.Context, limit, offset int) ([]*ClinicStaff, int, error) {
	var result []*ClinicStaff
	for _, s := range m.items {
		result = append(result, s)
	}
	return result, len(result), nil
}

// -- Collaborators --

type fakeTx struct{ calls int }

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type sentMail struct {
	template, to string
	data         map[string]string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) Email(_ context.Context, templateID, to string, data map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{template: templateID, to: to, data: data})
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("expected an email to be sent")
	}
	return f.sent[len(f.sent)-1]
}

// token extracts the token query parameter from the emailed link.
func (m sentMail) token(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(m.data["link"])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("link has no token: %s", m.data["link"])
	}
	return tok
}

type fakeRevoker struct {
	revoked []string
}

func (f *fakeRevoker) DeleteForUser(_ context.Context, userID string) (int, error) {
	f.revoked = append(f.revoked, userID)
	return 1, nil
}

type fakeValidator struct {
	result *idcheck.Result
	err    error
}

func (f fakeValidator) Validate(context.Context, []byte, idcheck.Expected) (*idcheck.Result, error) {
	return f.result, f.err
}

type testEnv struct {
	svc       *Service
	usertypes *mockUsertypeRepo
	students  *mockStudentRepo
	staff     *mockStaffRepo
	mailer    *fakeMailer
	revoker   *fakeRevoker
	blobs     *blobstore.MemoryStore
}

func newTestEnv(opts Options, validator idcheck.Validator) *testEnv {
	env := &testEnv{
		usertypes: newMockUsertypeRepo(),
		students:  newMockStudentRepo(),
		staff:     newMockStaffRepo(),
		mailer:    &fakeMailer{},
		revoker:   &fakeRevoker{},
		blobs:     blobstore.NewMemoryStore(),
	}
	if opts.AppBaseURL == "" {
		opts.AppBaseURL = "http://clinic.test"
	}
	tokens := auth.NewTokenIssuer([]byte("test-signing-key-0123456789abcdef"))
	env.svc = NewService(env.usertypes, env.students, env.staff, &fakeTx{}, tokens,
		env.revoker, env.mailer, env.blobs, validator, opts, zerolog.Nop())
	return env
}

func validRegistration() RegisterInput {
	return RegisterInput{
		StudentNumber: "2021-00123",
		FirstName:     "Ana",
		LastName:      "Dela Cruz",
		Email:         "Ana.DelaCruz@Example.edu ",
		Password:      "correct-horse",
		Course:        "BS Nursing",
		YearLevel:     3,
		Birthdate:     "2003-04-05",
	}
}

// registerVerified creates an active, verified student.
func (env *testEnv) registerVerified(t *testing.T) *Student {
	t.Helper()
	st, err := env.svc.RegisterStudent(context.Background(), validRegistration(), nil)
	if err != nil {
		t.Fatalf("RegisterStudent: %v", err)
	}
	if _, err := env.svc.VerifyEmail(context.Background(), env.mailer.last(t).token(t)); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return st
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
