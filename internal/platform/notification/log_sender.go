package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes outgoing mail and SMS to the log instead of delivering
// them. Used in development.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "mail").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email not delivered (log driver)")
	s.logger.Debug().Str("to", to).Str("body", body).Msg("email body")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Str("body", body).Msg("sms not delivered (log driver)")
	return nil
}
