package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusclinic/clinicq/internal/platform/db"
)

// =========== Usertype Repository ===========

type usertypeRepoPG struct{ pool *pgxpool.Pool }

func NewUsertypeRepoPG(pool *pgxpool.Pool) UsertypeRepository { return &usertypeRepoPG{pool: pool} }

func (r *usertypeRepoPG) Create(ctx context.Context, u *Usertype) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO usertypes (id, role, display_name) VALUES ($1, $2, $3)
		RETURNING created_at`,
		u.ID, u.Role, u.DisplayName).Scan(&u.CreatedAt)
}

func (r *usertypeRepoPG) Update(ctx context.Context, u *Usertype) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE usertypes SET role = $2, display_name = $3 WHERE id = $1`,
		u.ID, u.Role, u.DisplayName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Student Repository ===========

type studentRepoPG struct{ pool *pgxpool.Pool }

func NewStudentRepoPG(pool *pgxpool.Pool) StudentRepository { return &studentRepoPG{pool: pool} }

const studentCols = `id, usertype_id, student_number, first_name, last_name, email,
	phone, course, year_level, birthdate, sex, password_hash, id_image_key, id_verified,
	email_verified, verification_token, verification_expires, reset_token, reset_expires,
	is_active, created_at, updated_at`

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.UsertypeID, &s.StudentNumber, &s.FirstName, &s.LastName, &s.Email,
		&s.Phone, &s.Course, &s.YearLevel, &s.Birthdate, &s.Sex, &s.PasswordHash, &s.IDImageKey, &s.IDVerified,
		&s.EmailVerified, &s.VerificationToken, &s.VerificationExpires, &s.ResetToken, &s.ResetExpires,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *studentRepoPG) Create(ctx context.Context, s *Student) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO students (id, usertype_id, student_number, first_name, last_name, email,
			phone, course, year_level, birthdate, sex, password_hash, id_image_key, id_verified,
			email_verified, verification_token, verification_expires, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		s.ID, s.UsertypeID, s.StudentNumber, s.FirstName, s.LastName, s.Email,
		s.Phone, s.Course, s.YearLevel, s.Birthdate, s.Sex, s.PasswordHash, s.IDImageKey, s.IDVerified,
		s.EmailVerified, s.VerificationToken, s.VerificationExpires, s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapStudentConflict(err)
}

func mapStudentConflict(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "uq_students_email"):
		return ErrEmailTaken
	case db.IsUniqueViolation(err, "uq_students_number"):
		return ErrStudentNumberTaken
	}
	return err
}

func (r *studentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Student, error) {
	return scanStudent(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+studentCols+` FROM students WHERE id = $1`, id))
}

func (r *studentRepoPG) GetByEmail(ctx context.Context, email string) (*Student, error) {
	return scanStudent(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+studentCols+` FROM students WHERE email = $1`, normalizeEmail(email)))
}

func (r *studentRepoPG) Update(ctx context.Context, s *Student) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE students SET first_name=$2, last_name=$3, email=$4, phone=$5, course=$6,
			year_level=$7, birthdate=$8, sex=$9, password_hash=$10, id_image_key=$11, id_verified=$12,
			email_verified=$13, verification_token=$14, verification_expires=$15,
			reset_token=$16, reset_expires=$17, is_active=$18, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.FirstName, s.LastName, s.Email, s.Phone, s.Course,
		s.YearLevel, s.Birthdate, s.Sex, s.PasswordHash, s.IDImageKey, s.IDVerified,
		s.EmailVerified, s.VerificationToken, s.VerificationExpires,
		s.ResetToken, s.ResetExpires, s.IsActive,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapStudentConflict(err)
}

func (r *studentRepoPG) Search(ctx context.Context, f StudentFilter, limit, offset int) ([]*Student, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q := strings.TrimSpace(f.Query); q != "" {
		where += fmt.Sprintf(` AND (student_number ILIKE $%d OR email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx, idx, idx)
		args = append(args, "%"+q+"%")
		idx++
	}
	if f.IsActive != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, *f.IsActive)
		idx++
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM students`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + studentCols + ` FROM students` + where +
		fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Staff Repository ===========

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository { return &staffRepoPG{pool: pool} }

const staffSelect = `SELECT s.id, s.usertype_id, s.first_name, s.last_name, s.email, s.position,
	u.role, s.password_hash, s.reset_token, s.reset_expires, s.is_active, s.created_at, s.updated_at
	FROM clinic_staff s JOIN usertypes u ON u.id = s.usertype_id`

func scanStaff(row pgx.Row) (*ClinicStaff, error) {
	var s ClinicStaff
	err := row.Scan(&s.ID, &s.UsertypeID, &s.FirstName, &s.LastName, &s.Email, &s.Position,
		&s.Role, &s.PasswordHash, &s.ResetToken, &s.ResetExpires, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *staffRepoPG) Create(ctx context.Context, s *ClinicStaff) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinic_staff (id, usertype_id, first_name, last_name, email, position,
			password_hash, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		s.ID, s.UsertypeID, s.FirstName, s.LastName, s.Email, s.Position,
		s.PasswordHash, s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_clinic_staff_email") {
		return ErrEmailTaken
	}
	return err
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicStaff, error) {
	return scanStaff(db.Conn(ctx, r.pool).QueryRow(ctx, staffSelect+` WHERE s.id = $1`, id))
}

func (r *staffRepoPG) GetByEmail(ctx context.Context, email string) (*ClinicStaff, error) {
	return scanStaff(db.Conn(ctx, r.pool).QueryRow(ctx, staffSelect+` WHERE s.email = $1`, normalizeEmail(email)))
}

func (r *staffRepoPG) Update(ctx context.Context, s *ClinicStaff) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clinic_staff SET first_name=$2, last_name=$3, email=$4, position=$5,
			password_hash=$6, reset_token=$7, reset_expires=$8, is_active=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.FirstName, s.LastName, s.Email, s.Position,
		s.PasswordHash, s.ResetToken, s.ResetExpires, s.IsActive,
	).Scan(&s.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err, "uq_clinic_staff_email"):
		return ErrEmailTaken
	}
	return err
}

func (r *staffRepoPG) List(ctx context.Context, limit, offset int) ([]*ClinicStaff, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM clinic_staff`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, staffSelect+` ORDER BY s.last_name, s.first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClinicStaff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
