package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
)

// SQSAPI is the subset of *sqs.Client used by the outbox.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// OutboxMessage is the SQS message body for one queued email.
type OutboxMessage struct {
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	EnqueuedAt string `json:"enqueuedAt"`
}

// SQSOutbox is an EmailSender that enqueues mail instead of sending it.
// OutboxWorker delivers the queued messages.
type SQSOutbox struct {
	client   SQSAPI
	queueURL string
}

func NewSQSOutbox(client SQSAPI, queueURL string) *SQSOutbox {
	return &SQSOutbox{client: client, queueURL: queueURL}
}

func (o *SQSOutbox) SendEmail(ctx context.Context, to, subject, body string) error {
	msg, err := json.Marshal(OutboxMessage{
		To:         to,
		Subject:    subject,
		Body:       body,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode outbox message: %w", err)
	}

	_, err = o.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(o.queueURL),
		MessageBody: aws.String(string(msg)),
	})
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// OutboxWorker drains the SQS outbox into a direct sender. Messages that fail
// to send stay on the queue and are retried after the visibility timeout.
type OutboxWorker struct {
	client   SQSAPI
	queueURL string
	sender   EmailSender
	logger   zerolog.Logger
	waitTime int32
}

func NewOutboxWorker(client SQSAPI, queueURL string, sender EmailSender, logger zerolog.Logger) *OutboxWorker {
	return &OutboxWorker{
		client:   client,
		queueURL: queueURL,
		sender:   sender,
		logger:   logger.With().Str("component", "email_outbox").Logger(),
		waitTime: 10,
	}
}

// Run polls until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	w.logger.Info().Str("queue_url", w.queueURL).Msg("email outbox worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("email outbox worker stopped")
			return nil
		}
		n, err := w.DrainOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("drain email outbox")
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if n > 0 {
			w.logger.Info().Int("sent", n).Msg("email outbox drained")
		}
	}
}

// DrainOnce receives one batch and returns the number of emails delivered.
func (w *OutboxWorker) DrainOnce(ctx context.Context) (int, error) {
	resp, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(w.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     w.waitTime,
	})
	if err != nil {
		return 0, fmt.Errorf("receive outbox messages: %w", err)
	}

	sent := 0
	for _, m := range resp.Messages {
		var msg OutboxMessage
		if m.Body == nil || json.Unmarshal([]byte(*m.Body), &msg) != nil || msg.To == "" {
			w.logger.Warn().Str("message_id", aws.ToString(m.MessageId)).Msg("dropping malformed outbox message")
			w.delete(ctx, m.ReceiptHandle)
			continue
		}

		if err := w.sender.SendEmail(ctx, msg.To, msg.Subject, msg.Body); err != nil {
			w.logger.Error().Err(err).Str("to", msg.To).Msg("deliver queued email")
			continue
		}
		w.delete(ctx, m.ReceiptHandle)
		sent++
	}
	return sent, nil
}

func (w *OutboxWorker) delete(ctx context.Context, receipt *string) {
	_, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("delete outbox message")
	}
}
