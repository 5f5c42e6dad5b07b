// Package notification delivers email and SMS for account and appointment
// events: sender implementations, HTML templates and the Notifier facade.
package notification

import "context"

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender sends one HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}
