package record

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TxRunner runs fn in one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	precords  PrecordRepository
	histories HistoryRepository
	tx        TxRunner
	logger    zerolog.Logger
}

func NewService(p PrecordRepository, h HistoryRepository, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		precords:  p,
		histories: h,
		tx:        tx,
		logger:    logger.With().Str("component", "record").Logger(),
	}
}

func (s *Service) GetPrecord(ctx context.Context, studentID uuid.UUID) (*Precord, error) {
	return s.precords.GetByStudent(ctx, studentID)
}

// UpdatePrecord applies u to the student's precord, creating it on first use.
func (s *Service) UpdatePrecord(ctx context.Context, studentID, staffID uuid.UUID, u PrecordUpdate) (*Precord, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	var out *Precord
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.loadOrNew(ctx, studentID)
		if err != nil {
			return err
		}
		u.apply(p)
		p.UpdatedBy = &staffID
		if err := s.precords.Upsert(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetAllergies records allergies noted at triage. Blank input is ignored.
func (s *Service) SetAllergies(ctx context.Context, studentID, staffID uuid.UUID, allergies string) error {
	allergies = strings.TrimSpace(allergies)
	if allergies == "" {
		return nil
	}
	_, err := s.UpdatePrecord(ctx, studentID, staffID, PrecordUpdate{Allergies: &allergies})
	return err
}

// RecordVisit writes the history entry for a completed appointment and carries
// the diagnosis and medications over to the precord. Each appointment gets at
// most one entry; a second call returns ErrHistoryExists.
func (s *Service) RecordVisit(ctx context.Context, v Visit) (*History, error) {
	if v.AppointmentID == uuid.Nil || v.StudentID == uuid.Nil {
		return nil, fmtInvalid("visit requires an appointment and a student")
	}

	h := &History{
		AppointmentID: v.AppointmentID,
		StudentID:     v.StudentID,
		VisitDate:     v.VisitDate,
		Reason:        optString(v.Reason),
		Diagnosis:     optString(v.Diagnosis),
		Medications:   optString(v.Medications),
		TriageNotes:   optString(v.TriageNotes),
		Notes:         optString(v.Notes),
	}
	if v.StaffID != uuid.Nil {
		staffID := v.StaffID
		h.StaffID = &staffID
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.histories.Create(ctx, h); err != nil {
			return err
		}

		p, err := s.loadOrNew(ctx, v.StudentID)
		if err != nil {
			return err
		}
		if h.Diagnosis != nil {
			p.Diagnosis = h.Diagnosis
		}
		if h.Medications != nil {
			p.Medications = h.Medications
		}
		p.UpdatedBy = h.StaffID
		return s.precords.Upsert(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", v.AppointmentID.String()).
		Str("student_id", v.StudentID.String()).
		Msg("visit recorded")
	return h, nil
}

func (s *Service) ListHistory(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*History, int, error) {
	return s.histories.ListByStudent(ctx, studentID, limit, offset)
}

func (s *Service) GetHistory(ctx context.Context, id uuid.UUID) (*History, error) {
	return s.histories.GetByID(ctx, id)
}

func (s *Service) loadOrNew(ctx context.Context, studentID uuid.UUID) (*Precord, error) {
	p, err := s.precords.GetByStudent(ctx, studentID)
	if errors.Is(err, ErrNotFound) {
		return &Precord{StudentID: studentID}, nil
	}
	return p, err
}
