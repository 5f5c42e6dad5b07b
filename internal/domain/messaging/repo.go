package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByStudent(ctx context.Context, studentID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, studentID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, studentID, id uuid.UUID, at time.Time) error
	MarkAllRead(ctx context.Context, studentID uuid.UUID, at time.Time) (int, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListConversation(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Message, int, error)
	ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, int, error)
	// MarkRead marks the messages of studentID's conversation sent by
	// senderKind as read.
	MarkRead(ctx context.Context, studentID uuid.UUID, senderKind string, at time.Time) (int, error)
}
