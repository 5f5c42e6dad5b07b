package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusclinic/clinicq/internal/platform/db"
)

// =========== Precord Repository ===========

type precordRepoPG struct{ pool *pgxpool.Pool }

func NewPrecordRepoPG(pool *pgxpool.Pool) PrecordRepository { return &precordRepoPG{pool: pool} }

const precordCols = `id, student_id, blood_type, allergies, medications, diagnosis,
	medical_conditions, height_cm, weight_kg, emergency_contact_name, emergency_contact_phone,
	notes, updated_by, created_at, updated_at`

func scanPrecord(row pgx.Row) (*Precord, error) {
	var p Precord
	err := row.Scan(&p.ID, &p.StudentID, &p.BloodType, &p.Allergies, &p.Medications, &p.Diagnosis,
		&p.MedicalConditions, &p.HeightCM, &p.WeightKG, &p.EmergencyContactName, &p.EmergencyContactPhone,
		&p.Notes, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *precordRepoPG) GetByStudent(ctx context.Context, studentID uuid.UUID) (*Precord, error) {
	return scanPrecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+precordCols+` FROM precords WHERE student_id = $1`, studentID))
}

func (r *precordRepoPG) Upsert(ctx context.Context, p *Precord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO precords (id, student_id, blood_type, allergies, medications, diagnosis,
			medical_conditions, height_cm, weight_kg, emergency_contact_name, emergency_contact_phone,
			notes, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT ON CONSTRAINT uq_precords_student DO UPDATE SET
			blood_type = EXCLUDED.blood_type,
			allergies = EXCLUDED.allergies,
			medications = EXCLUDED.medications,
			diagnosis = EXCLUDED.diagnosis,
			medical_conditions = EXCLUDED.medical_conditions,
			height_cm = EXCLUDED.height_cm,
			weight_kg = EXCLUDED.weight_kg,
			emergency_contact_name = EXCLUDED.emergency_contact_name,
			emergency_contact_phone = EXCLUDED.emergency_contact_phone,
			notes = EXCLUDED.notes,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.ID, p.StudentID, p.BloodType, p.Allergies, p.Medications, p.Diagnosis,
		p.MedicalConditions, p.HeightCM, p.WeightKG, p.EmergencyContactName, p.EmergencyContactPhone,
		p.Notes, p.UpdatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// =========== History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{pool: pool} }

const historyCols = `id, appointment_id, student_id, staff_id, visit_date, reason, diagnosis,
	medications, triage_notes, notes, created_at`

func scanHistory(row pgx.Row) (*History, error) {
	var h History
	err := row.Scan(&h.ID, &h.AppointmentID, &h.StudentID, &h.StaffID, &h.VisitDate, &h.Reason, &h.Diagnosis,
		&h.Medications, &h.TriageNotes, &h.Notes, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *historyRepoPG) Create(ctx context.Context, h *History) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO histories (id, appointment_id, student_id, staff_id, visit_date, reason,
			diagnosis, medications, triage_notes, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		h.ID, h.AppointmentID, h.StudentID, h.StaffID, h.VisitDate, h.Reason,
		h.Diagnosis, h.Medications, h.TriageNotes, h.Notes,
	).Scan(&h.CreatedAt)
	if db.IsUniqueViolation(err, "uq_histories_appointment") {
		return ErrHistoryExists
	}
	return err
}

func (r *historyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*History, error) {
	return scanHistory(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+historyCols+` FROM histories WHERE id = $1`, id))
}

func (r *historyRepoPG) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*History, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM histories WHERE student_id = $1`, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+historyCols+` FROM histories
		WHERE student_id = $1 ORDER BY visit_date DESC LIMIT $2 OFFSET $3`, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, h)
	}
	return items, total, rows.Err()
}
