package account

import (
	"context"

	"github.com/google/uuid"
)

type UsertypeRepository interface {
	Create(ctx context.Context, u *Usertype) error
	Update(ctx context.Context, u *Usertype) error
}

type StudentRepository interface {
	Create(ctx context.Context, s *Student) error
	GetByID(ctx context.Context, id uuid.UUID) (*Student, error)
	GetByEmail(ctx context.Context, email string) (*Student, error)
	Update(ctx context.Context, s *Student) error
	Search(ctx context.Context, f StudentFilter, limit, offset int) ([]*Student, int, error)
}

type StaffRepository interface {
	Create(ctx context.Context, s *ClinicStaff) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicStaff, error)
	GetByEmail(ctx context.Context, email string) (*ClinicStaff, error)
	Update(ctx context.Context, s *ClinicStaff) error
	List(ctx context.Context, limit, offset int) ([]*ClinicStaff, int, error)
}
