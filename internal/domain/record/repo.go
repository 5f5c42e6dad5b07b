package record

import (
	"context"

	"github.com/google/uuid"
)

type PrecordRepository interface {
	GetByStudent(ctx context.Context, studentID uuid.UUID) (*Precord, error)
	// Upsert inserts p or replaces the student's existing precord.
	Upsert(ctx context.Context, p *Precord) error
}

type HistoryRepository interface {
	Create(ctx context.Context, h *History) error
	GetByID(ctx context.Context, id uuid.UUID) (*History, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*History, int, error)
}
