package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusclinic/clinicq/internal/platform/db"
)

// =========== Notification Repository ===========

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

const notificationCols = `id, student_id, staff_id, title, body, kind, is_read, created_at, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.StudentID, &n.StaffID, &n.Title, &n.Body, &n.Kind, &n.IsRead, &n.CreatedAt, &n.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifications (id, student_id, staff_id, title, body, kind)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		n.ID, n.StudentID, n.StaffID, n.Title, n.Body, n.Kind).Scan(&n.CreatedAt)
}

func (r *notificationRepoPG) ListByStudent(ctx context.Context, studentID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE student_id = $1`
	if unreadOnly {
		where += ` AND NOT is_read`
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+notificationCols+` FROM notifications`+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) CountUnread(ctx context.Context, studentID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE student_id = $1 AND NOT is_read`, studentID).Scan(&n)
	return n, err
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, studentID, id uuid.UUID, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND student_id = $2`, id, studentID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepoPG) MarkAllRead(ctx context.Context, studentID uuid.UUID, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE student_id = $1 AND NOT is_read`, studentID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository { return &messageRepoPG{pool: pool} }

const messageCols = `id, student_id, staff_id, sender_kind, body, is_read, created_at, read_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.StudentID, &m.StaffID, &m.SenderKind, &m.Body, &m.IsRead, &m.CreatedAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO messages (id, student_id, staff_id, sender_kind, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.StudentID, m.StaffID, m.SenderKind, m.Body).Scan(&m.CreatedAt)
}

func (r *messageRepoPG) ListConversation(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE student_id = $1`, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Newest page first, returned in chronological order.
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT * FROM (
			SELECT `+messageCols+` FROM messages WHERE student_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		) page ORDER BY created_at`, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(DISTINCT student_id) FROM messages`).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Latest message per student, most recent conversation first.
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT c.*, (SELECT COUNT(*) FROM messages u
			WHERE u.student_id = c.student_id AND u.sender_kind = 'student' AND NOT u.is_read)
		FROM (
			SELECT DISTINCT ON (student_id) `+messageCols+`
			FROM messages ORDER BY student_id, created_at DESC
		) c
		ORDER BY c.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Conversation
	for rows.Next() {
		var m Message
		var unread int
		if err := rows.Scan(&m.ID, &m.StudentID, &m.StaffID, &m.SenderKind, &m.Body, &m.IsRead,
			&m.CreatedAt, &m.ReadAt, &unread); err != nil {
			return nil, 0, err
		}
		items = append(items, &Conversation{StudentID: m.StudentID, LastMessage: &m, UnreadCount: unread})
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, studentID uuid.UUID, senderKind string, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $3
		WHERE student_id = $1 AND sender_kind = $2 AND NOT is_read`, studentID, senderKind, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
