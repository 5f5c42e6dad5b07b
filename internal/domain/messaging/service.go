package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusclinic/clinicq/internal/platform/websocket"
)

// Publisher pushes live events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any)
}

type Service struct {
	notifications NotificationRepository
	messages      MessageRepository
	pub           Publisher
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(n NotificationRepository, m MessageRepository, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{
		notifications: n,
		messages:      m,
		pub:           pub,
		logger:        logger.With().Str("component", "messaging").Logger(),
		now:           time.Now,
	}
}

// -- Notifications --

// NotificationInput is a notification addressed to one student. StaffID is
// nil for system notifications.
type NotificationInput struct {
	StudentID uuid.UUID  `json:"student_id"`
	StaffID   *uuid.UUID `json:"-"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Kind      string     `json:"kind"`
}

func (s *Service) Notify(ctx context.Context, in NotificationInput) (*Notification, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	if in.Title == "" {
		return nil, ErrTitleMissing
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrBodyTooLong, MaxTitleLength)
	}
	if err := checkBody(in.Body); err != nil {
		return nil, err
	}
	if in.Kind == "" {
		in.Kind = KindGeneral
	}

	n := &Notification{
		StudentID: in.StudentID,
		StaffID:   in.StaffID,
		Title:     in.Title,
		Body:      in.Body,
		Kind:      in.Kind,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.StudentTopic(n.StudentID.String()), EventNotification, n)
	return n, nil
}

func (s *Service) ListNotifications(ctx context.Context, studentID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.notifications.ListByStudent(ctx, studentID, unreadOnly, limit, offset)
}

func (s *Service) UnreadNotifications(ctx context.Context, studentID uuid.UUID) (int, error) {
	return s.notifications.CountUnread(ctx, studentID)
}

// MarkNotificationRead marks one of the student's notifications read.
// Notifications of other students are reported as not found.
func (s *Service) MarkNotificationRead(ctx context.Context, studentID, id uuid.UUID) error {
	return s.notifications.MarkRead(ctx, studentID, id, s.now())
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, studentID uuid.UUID) (int, error) {
	return s.notifications.MarkAllRead(ctx, studentID, s.now())
}

// -- Chat --

// SendFromStudent stores a message from a student to the clinic and pushes it
// to the student's own sessions and to all staff.
func (s *Service) SendFromStudent(ctx context.Context, studentID uuid.UUID, body string) (*Message, error) {
	m := &Message{StudentID: studentID, SenderKind: SenderStudent, Body: strings.TrimSpace(body)}
	if err := s.send(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.StaffTopic, EventMessage, m)
	return m, nil
}

// SendFromStaff stores a reply in the student's conversation.
func (s *Service) SendFromStaff(ctx context.Context, staffID, studentID uuid.UUID, body string) (*Message, error) {
	m := &Message{StudentID: studentID, StaffID: &staffID, SenderKind: SenderStaff, Body: strings.TrimSpace(body)}
	if err := s.send(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.StaffTopic, EventMessage, m)
	return m, nil
}

func (s *Service) send(ctx context.Context, m *Message) error {
	if err := checkBody(m.Body); err != nil {
		return err
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return err
	}
	s.publish(ctx, websocket.StudentTopic(m.StudentID.String()), EventMessage, m)
	return nil
}

// StudentMessage and StaffMessage accept chat lines typed into a websocket.

func (s *Service) StudentMessage(ctx context.Context, studentID, body string) error {
	id, err := uuid.Parse(studentID)
	if err != nil {
		return fmt.Errorf("invalid student id: %w", err)
	}
	_, err = s.SendFromStudent(ctx, id, body)
	return err
}

func (s *Service) StaffMessage(ctx context.Context, staffID, studentID, body string) error {
	sid, err := uuid.Parse(staffID)
	if err != nil {
		return fmt.Errorf("invalid staff id: %w", err)
	}
	stid, err := uuid.Parse(studentID)
	if err != nil {
		return fmt.Errorf("invalid student id: %w", err)
	}
	_, err = s.SendFromStaff(ctx, sid, stid, body)
	return err
}

func (s *Service) ListConversation(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return s.messages.ListConversation(ctx, studentID, limit, offset)
}

func (s *Service) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, int, error) {
	return s.messages.ListConversations(ctx, limit, offset)
}

// MarkConversationRead marks the messages the reader received in studentID's
// conversation as read. readerKind is the kind of the reading account.
func (s *Service) MarkConversationRead(ctx context.Context, studentID uuid.UUID, readerKind string) (int, error) {
	var from string
	switch readerKind {
	case SenderStudent:
		from = SenderStaff
	case SenderStaff:
		from = SenderStudent
	default:
		return 0, fmt.Errorf("unknown reader kind %q", readerKind)
	}

	n, err := s.messages.MarkRead(ctx, studentID, from, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		payload := map[string]interface{}{"student_id": studentID, "reader": readerKind, "count": n}
		s.publish(ctx, websocket.StudentTopic(studentID.String()), EventMessagesRead, payload)
		s.publish(ctx, websocket.StaffTopic, EventMessagesRead, payload)
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType string, payload any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, topic, eventType, payload)
}

func checkBody(body string) error {
	if body == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return fmt.Errorf("%w: limit is %d characters", ErrBodyTooLong, MaxBodyLength)
	}
	return nil
}
