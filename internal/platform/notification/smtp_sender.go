package notification

import (
	"context"
	"fmt"

	"github.com/go-gomail/gomail"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	dialer   mailDialer
	from     string
	fromName string
}

func NewSMTPSender(host string, port int, username, password, from, fromName string) *SMTPSender {
	return &SMTPSender{
		dialer:   gomail.NewDialer(host, port, username, password),
		from:     from,
		fromName: fromName,
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
