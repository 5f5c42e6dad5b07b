package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const sendTimeout = 20 * time.Second

// Notifier renders templates and hands them to the configured senders.
// Delivery failures are logged and never returned.
type Notifier struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger
}

// NewNotifier builds a Notifier. sms may be nil when no SMS driver is set.
func NewNotifier(email EmailSender, sms SMSSender, templates *TemplateEngine, logger zerolog.Logger) *Notifier {
	return &Notifier{
		email:     email,
		sms:       sms,
		templates: templates,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

// Email renders templateID and sends it to the given address.
func (n *Notifier) Email(ctx context.Context, templateID, to string, data map[string]string) {
	if to == "" || n.email == nil {
		return
	}
	subject, body, err := n.templates.Render(templateID, data)
	if err != nil {
		n.logger.Error().Err(err).Str("template", templateID).Msg("render email")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := n.email.SendEmail(ctx, to, subject, body); err != nil {
		n.logger.Error().Err(err).Str("template", templateID).Str("to", to).Msg("send email")
		return
	}
	n.logger.Debug().Str("template", templateID).Str("to", to).Msg("email sent")
}

// SMS renders the SMS text of templateID. No-op without an SMS sender or
// phone number.
func (n *Notifier) SMS(ctx context.Context, templateID, to string, data map[string]string) {
	if to == "" || n.sms == nil {
		return
	}
	text, err := n.templates.RenderSMS(templateID, data)
	if err != nil {
		n.logger.Error().Err(err).Str("template", templateID).Msg("render sms")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := n.sms.SendSMS(ctx, to, text); err != nil {
		n.logger.Error().Err(err).Str("template", templateID).Msg("send sms")
	}
}
