package messaging

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyBody    = errors.New("message body is required")
	ErrBodyTooLong  = errors.New("message body is too long")
	ErrTitleMissing = errors.New("notification title is required")
)

const (
	SenderStudent = "student"
	SenderStaff   = "staff"

	MaxBodyLength  = 2000
	MaxTitleLength = 200
)

// Notification kinds.
const (
	KindGeneral     = "general"
	KindAppointment = "appointment"
	KindQueue       = "queue"
)

// Event types pushed to websocket subscribers.
const (
	EventNotification = "notification.created"
	EventMessage      = "message.created"
	EventMessagesRead = "messages.read"
)

type Notification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	StudentID uuid.UUID  `db:"student_id" json:"student_id"`
	StaffID   *uuid.UUID `db:"staff_id" json:"staff_id,omitempty"`
	Title     string     `db:"title" json:"title"`
	Body      string     `db:"body" json:"body"`
	Kind      string     `db:"kind" json:"kind"`
	IsRead    bool       `db:"is_read" json:"is_read"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Message is one chat line between a student and the clinic. Every
// conversation is keyed by the student.
type Message struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	StudentID  uuid.UUID  `db:"student_id" json:"student_id"`
	StaffID    *uuid.UUID `db:"staff_id" json:"staff_id,omitempty"`
	SenderKind string     `db:"sender_kind" json:"sender_kind"`
	Body       string     `db:"body" json:"body"`
	IsRead     bool       `db:"is_read" json:"is_read"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ReadAt     *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Conversation summarises one student's thread for the staff inbox.
type Conversation struct {
	StudentID   uuid.UUID `json:"student_id"`
	LastMessage *Message  `json:"last_message"`
	UnreadCount int       `json:"unread_count"`
}
