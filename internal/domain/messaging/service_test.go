package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusclinic/clinicq/internal/platform/websocket"
)

// -- Mock Repositories --

type mockNotificationRepo struct {
	items []*Notification
}

func (m *mockNotificationRepo) Create(_ context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now()
	m.items = append(m.items, n)
	return nil
}

func (m *mockNotificationRepo) ListByStudent(_ context.Context, studentID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	var result []*Notification
	for i := len(m.items) - 1; i >= 0; i-- {
		n := m.items[i]
		if n.StudentID != studentID || (unreadOnly && n.IsRead) {
			continue
		}
		result = append(result, n)
	}
	return result, len(result), nil
}

func (m *mockNotificationRepo) CountUnread(_ context.Context, studentID uuid.UUID) (int, error) {
	count := 0
	for _, n := range m.items {
		if n.StudentID == studentID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, studentID, id uuid.UUID, at time.Time) error {
	for _, n := range m.items {
		if n.ID == id && n.StudentID == studentID {
			n.IsRead = true
			n.ReadAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockNotificationRepo) MarkAllRead(_ context.Context, studentID uuid.UUID, at time.Time) (int, error) {
	count := 0
	for _, n := range m.items {
		if n.StudentID == studentID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

type mockMessageRepo struct {
	items []*Message
	clock time.Time
}

func (m *mockMessageRepo) Create(_ context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	m.clock = m.clock.Add(time.Second)
	msg.CreatedAt = m.clock
	m.items = append(m.items, msg)
	return nil
}

func (m *mockMessageRepo) ListConversation(_ context.Context, studentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var result []*Message
	for _, msg := range m.items {
		if msg.StudentID == studentID {
			result = append(result, msg)
		}
	}
	return result, len(result), nil
}

func (m *mockMessageRepo) ListConversations(_ context.Context, limit, offset int) ([]*Conversation, int, error) {
	byStudent := map[uuid.UUID]*Conversation{}
	for _, msg := range m.items {
		conv, ok := byStudent[msg.StudentID]
		if !ok {
			conv = &Conversation{StudentID: msg.StudentID}
			byStudent[msg.StudentID] = conv
		}
		conv.LastMessage = msg
		if msg.SenderKind == SenderStudent && !msg.IsRead {
			conv.UnreadCount++
		}
	}
	var result []*Conversation
	for _, conv := range byStudent {
		result = append(result, conv)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessage.CreatedAt.After(result[j].LastMessage.CreatedAt)
	})
	return result, len(result), nil
}

func (m *mockMessageRepo) MarkRead(_ context.Context, studentID uuid.UUID, senderKind string, at time.Time) (int, error) {
	count := 0
	for _, msg := range m.items {
		if msg.StudentID == studentID && msg.SenderKind == senderKind && !msg.IsRead {
			msg.IsRead = true
			msg.ReadAt = &at
			count++
		}
	}
	return count, nil
}

type published struct {
	topic, eventType string
	payload          any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic, eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, eventType: eventType, payload: payload})
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.topic+"/"+e.eventType)
	}
	return out
}

func newTestService() (*Service, *mockNotificationRepo, *mockMessageRepo, *recordingPublisher) {
	n := &mockNotificationRepo{}
	m := &mockMessageRepo{clock: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	return NewService(n, m, pub, zerolog.Nop()), n, m, pub
}

func TestNotify_PublishesToStudent(t *testing.T) {
	svc, repo, _, pub := newTestService()
	studentID, staffID := uuid.New(), uuid.New()

	n, err := svc.Notify(context.Background(), NotificationInput{
		StudentID: studentID,
		StaffID:   &staffID,
		Title:     "  Lab results ready ",
		Body:      "Please drop by the clinic.",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.Title != "Lab results ready" || n.Kind != KindGeneral {
		t.Errorf("unexpected notification %+v", n)
	}
	if len(repo.items) != 1 {
		t.Fatal("expected notification to be stored")
	}

	want := websocket.StudentTopic(studentID.String()) + "/" + EventNotification
	if got := pub.topics(); len(got) != 1 || got[0] != want {
		t.Errorf("expected %q, got %v", want, got)
	}
}

func TestNotify_Validation(t *testing.T) {
	svc, _, _, pub := newTestService()
	tests := []struct {
		name string
		in   NotificationInput
		want error
	}{
		{"missing title", NotificationInput{Body: "x"}, ErrTitleMissing},
		{"missing body", NotificationInput{Title: "x"}, ErrEmptyBody},
		{"long title", NotificationInput{Title: strings.Repeat("a", MaxTitleLength+1), Body: "x"}, ErrBodyTooLong},
		{"long body", NotificationInput{Title: "x", Body: strings.Repeat("é", MaxBodyLength+1)}, ErrBodyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.StudentID = uuid.New()
			if _, err := svc.Notify(context.Background(), in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(pub.events) != 0 {
		t.Error("rejected notifications must not be published")
	}
}

func TestNotifications_ReadFlags(t *testing.T) {
	svc, _, _, _ := newTestService()
	studentID, other := uuid.New(), uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n, err := svc.Notify(context.Background(), NotificationInput{StudentID: studentID, Title: "t", Body: "b"})
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
		ids = append(ids, n.ID)
	}

	if err := svc.MarkNotificationRead(context.Background(), studentID, ids[0]); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	if err := svc.MarkNotificationRead(context.Background(), other, ids[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another student's notification, got %v", err)
	}
	if n, _ := svc.UnreadNotifications(context.Background(), studentID); n != 2 {
		t.Errorf("expected 2 unread, got %d", n)
	}

	items, _, err := svc.ListNotifications(context.Background(), studentID, true, 20, 0)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 unread items, got %d", len(items))
	}

	if n, _ := svc.MarkAllNotificationsRead(context.Background(), studentID); n != 2 {
		t.Errorf("expected 2 marked, got %d", n)
	}
	if n, _ := svc.UnreadNotifications(context.Background(), studentID); n != 0 {
		t.Errorf("expected 0 unread, got %d", n)
	}
}

func TestChat_StudentAndStaff(t *testing.T) {
	svc, _, msgs, pub := newTestService()
	studentID, staffID := uuid.New(), uuid.New()

	if _, err := svc.SendFromStudent(context.Background(), studentID, "  Is the clinic open on Saturday? "); err != nil {
		t.Fatalf("SendFromStudent: %v", err)
	}
	reply, err := svc.SendFromStaff(context.Background(), staffID, studentID, "Yes, 8 to 12.")
	if err != nil {
		t.Fatalf("SendFromStaff: %v", err)
	}
	if reply.StaffID == nil || *reply.StaffID != staffID || reply.SenderKind != SenderStaff {
		t.Errorf("unexpected reply %+v", reply)
	}
	if msgs.items[0].Body != "Is the clinic open on Saturday?" {
		t.Errorf("expected trimmed body, got %q", msgs.items[0].Body)
	}

	studentTopic := websocket.StudentTopic(studentID.String()) + "/" + EventMessage
	staffTopic := websocket.StaffTopic + "/" + EventMessage
	got := pub.topics()
	want := []string{studentTopic, staffTopic, studentTopic, staffTopic}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}

	conv, total, err := svc.ListConversation(context.Background(), studentID, 50, 0)
	if err != nil || total != 2 || conv[1].ID != reply.ID {
		t.Fatalf("unexpected conversation: %v total=%d err=%v", conv, total, err)
	}
}

func TestChat_RejectsEmptyAndLong(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.SendFromStudent(context.Background(), uuid.New(), "   "); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	if _, err := svc.SendFromStaff(context.Background(), uuid.New(), uuid.New(), strings.Repeat("x", MaxBodyLength+1)); !errors.Is(err, ErrBodyTooLong) {
		t.Errorf("expected ErrBodyTooLong, got %v", err)
	}
}

func TestChatSink(t *testing.T) {
	svc, _, msgs, _ := newTestService()
	var sink websocket.ChatSink = svc
	studentID, staffID := uuid.New(), uuid.New()

	if err := sink.StudentMessage(context.Background(), studentID.String(), "hello"); err != nil {
		t.Fatalf("StudentMessage: %v", err)
	}
	if err := sink.StaffMessage(context.Background(), staffID.String(), studentID.String(), "hi"); err != nil {
		t.Fatalf("StaffMessage: %v", err)
	}
	if len(msgs.items) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs.items))
	}
	if err := sink.StudentMessage(context.Background(), "not-a-uuid", "hello"); err == nil {
		t.Error("expected error for malformed student id")
	}
	if err := sink.StaffMessage(context.Background(), staffID.String(), "nope", "hi"); err == nil {
		t.Error("expected error for malformed student id")
	}
}

func TestMarkConversationRead(t *testing.T) {
	svc, _, _, pub := newTestService()
	studentID, staffID := uuid.New(), uuid.New()
	_, _ = svc.SendFromStudent(context.Background(), studentID, "one")
	_, _ = svc.SendFromStudent(context.Background(), studentID, "two")
	_, _ = svc.SendFromStaff(context.Background(), staffID, studentID, "reply")

	convs, _, _ := svc.ListConversations(context.Background(), 20, 0)
	if len(convs) != 1 || convs[0].UnreadCount != 2 || convs[0].LastMessage.Body != "reply" {
		t.Fatalf("unexpected inbox %+v", convs)
	}

	before := len(pub.events)
	n, err := svc.MarkConversationRead(context.Background(), studentID, SenderStaff)
	if err != nil || n != 2 {
		t.Fatalf("staff read: n=%d err=%v", n, err)
	}
	if len(pub.events) != before+2 {
		t.Errorf("expected read receipts on both topics, got %d new events", len(pub.events)-before)
	}

	n, _ = svc.MarkConversationRead(context.Background(), studentID, SenderStudent)
	if n != 1 {
		t.Errorf("student should mark the staff reply read, got %d", n)
	}

	before = len(pub.events)
	if n, _ := svc.MarkConversationRead(context.Background(), studentID, SenderStaff); n != 0 {
		t.Errorf("expected nothing left to mark, got %d", n)
	}
	if len(pub.events) != before {
		t.Error("no receipt should be published when nothing changed")
	}

	if _, err := svc.MarkConversationRead(context.Background(), studentID, "robot"); err == nil {
		t.Error("expected error for unknown reader kind")
	}
}

func TestNilPublisher(t *testing.T) {
	svc := NewService(&mockNotificationRepo{}, &mockMessageRepo{}, nil, zerolog.Nop())
	if _, err := svc.SendFromStudent(context.Background(), uuid.New(), "hello"); err != nil {
		t.Fatalf("SendFromStudent: %v", err)
	}
}
