package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

type fakeSQS struct {
	sent       []*sqs.SendMessageInput
	deleted    []string
	toReceive  []types.Message
	sendErr    error
	receiveErr error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	msgs := f.toReceive
	f.toReceive = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func outboxBody(t *testing.T, to string) *string {
	t.Helper()
	b, err := json.Marshal(OutboxMessage{To: to, Subject: "s", Body: "<p>b</p>"})
	if err != nil {
		t.Fatal(err)
	}
	return aws.String(string(b))
}

func TestSQSOutbox_SendEmail(t *testing.T) {
	client := &fakeSQS{}
	outbox := NewSQSOutbox(client, "https://sqs.local/queue/email")

	if err := outbox.SendEmail(context.Background(), "ana@example.edu", "Queue", "<p>7</p>"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(client.sent))
	}
	in := client.sent[0]
	if aws.ToString(in.QueueUrl) != "https://sqs.local/queue/email" {
		t.Errorf("unexpected queue url %q", aws.ToString(in.QueueUrl))
	}
	var msg OutboxMessage
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &msg); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.To != "ana@example.edu" || msg.Subject != "Queue" || msg.EnqueuedAt == "" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestSQSOutbox_SendError(t *testing.T) {
	outbox := NewSQSOutbox(&fakeSQS{sendErr: errors.New("throttled")}, "q")
	if err := outbox.SendEmail(context.Background(), "a@b.c", "s", "b"); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestOutboxWorker_DrainOnce(t *testing.T) {
	client := &fakeSQS{toReceive: []types.Message{
		{MessageId: aws.String("1"), ReceiptHandle: aws.String("r1"), Body: outboxBody(t, "ana@example.edu")},
		{MessageId: aws.String("2"), ReceiptHandle: aws.String("r2"), Body: aws.String("{not json")},
		{MessageId: aws.String("3"), ReceiptHandle: aws.String("r3"), Body: outboxBody(t, "ben@example.edu")},
	}}
	sender := &recordingEmail{}
	w := NewOutboxWorker(client, "q", sender, zerolog.Nop())

	n, err := w.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 delivered, got %d", n)
	}
	if len(sender.all()) != 2 {
		t.Errorf("expected 2 sends, got %d", len(sender.all()))
	}
	if len(client.deleted) != 3 {
		t.Errorf("expected delivered and malformed messages deleted, got %v", client.deleted)
	}
}

func TestOutboxWorker_FailedSendStaysQueued(t *testing.T) {
	client := &fakeSQS{toReceive: []types.Message{
		{MessageId: aws.String("1"), ReceiptHandle: aws.String("r1"), Body: outboxBody(t, "ana@example.edu")},
	}}
	sender := &recordingEmail{err: errors.New("smtp down")}
	w := NewOutboxWorker(client, "q", sender, zerolog.Nop())

	n, err := w.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 delivered, got %d", n)
	}
	if len(client.deleted) != 0 {
		t.Errorf("failed message must not be deleted, got %v", client.deleted)
	}
}

func TestOutboxWorker_ReceiveError(t *testing.T) {
	w := NewOutboxWorker(&fakeSQS{receiveErr: errors.New("access denied")}, "q", &recordingEmail{}, zerolog.Nop())
	if _, err := w.DrainOnce(context.Background()); err == nil {
		t.Fatal("expected receive error")
	}
}

func TestOutboxWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewOutboxWorker(&fakeSQS{}, "q", &recordingEmail{}, zerolog.Nop())
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
