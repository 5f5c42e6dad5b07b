package notification

import (
	"fmt"
	"html"
	"strings"
	"sync"
)

// Built-in template IDs.
const (
	TplVerifyEmail          = "verify-email"
	TplPasswordReset        = "password-reset"
	TplAppointmentBooked    = "appointment-booked"
	TplAppointmentConfirmed = "appointment-confirmed"
	TplQueueNumberAssigned  = "queue-number-assigned"
	TplQueueCalled          = "queue-called"
	TplAppointmentCompleted = "appointment-completed"
	TplAppointmentCancelled = "appointment-cancelled"
)

// Template is a notification template with {{key}} placeholders. Body is an
// HTML fragment placed inside the shared layout; SMS is optional plain text.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SMS     string `json:"sms,omitempty"`
}

const layout = `<!DOCTYPE html>
<html><body style="font-family:Arial,Helvetica,sans-serif;color:#1f2933;max-width:560px;margin:0 auto">
<h2 style="color:#0b6e4f">{{clinic_name}}</h2>
{{content}}
<p style="font-size:12px;color:#7b8794">This is an automated message from the campus clinic. Please do not reply.</p>
</body></html>`

// TemplateEngine renders registered templates. Values substituted into the
// HTML body are escaped; the subject and SMS text are plain.
type TemplateEngine struct {
	mu         sync.RWMutex
	templates  map[string]*Template
	clinicName string
}

func NewTemplateEngine(clinicName string) *TemplateEngine {
	e := &TemplateEngine{
		templates:  make(map[string]*Template),
		clinicName: clinicName,
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplVerifyEmail,
			Subject: "Verify your clinic account",
			Body: `<p>Hi {{name}},</p>
<p>Please confirm your email address to activate your account.</p>
<p><a href="{{link}}">Verify my email</a></p>
<p>This link expires in 24 hours.</p>`,
		},
		{
			ID:      TplPasswordReset,
			Subject: "Reset your clinic password",
			Body: `<p>Hi {{name}},</p>
<p>We received a request to reset your password.</p>
<p><a href="{{link}}">Choose a new password</a></p>
<p>This link expires in 1 hour. If you did not ask for this, you can ignore this email.</p>`,
		},
		{
			ID:      TplAppointmentBooked,
			Subject: "Appointment request received for {{date}}",
			Body: `<p>Hi {{name}},</p>
<p>Your appointment request for <strong>{{date}}</strong>, {{time}} was received and is waiting for confirmation by the clinic.</p>`,
		},
		{
			ID:      TplAppointmentConfirmed,
			Subject: "Appointment confirmed for {{date}}",
			Body: `<p>Hi {{name}},</p>
<p>Your appointment on <strong>{{date}}</strong>, {{time}} is confirmed. You will receive your queue number when the slot opens.</p>`,
		},
		{
			ID:      TplQueueNumberAssigned,
			Subject: "Your queue number is {{queue_number}}",
			Body: `<p>Hi {{name}},</p>
<p>Your queue number for {{date}}, {{time}} is</p>
<p style="font-size:32px;font-weight:bold">{{queue_number}}</p>
<p>Please proceed to the clinic and wait for your number to be called.</p>`,
			SMS: "Clinic: your queue number for {{date}} {{time}} is {{queue_number}}.",
		},
		{
			ID:      TplQueueCalled,
			Subject: "It is your turn, number {{queue_number}}",
			Body: `<p>Hi {{name}},</p>
<p>Queue number <strong>{{queue_number}}</strong> is now being served. Please proceed to the clinic desk.</p>`,
			SMS: "Clinic: number {{queue_number}} is now being served. Please proceed to the desk.",
		},
		{
			ID:      TplAppointmentCompleted,
			Subject: "Visit summary for {{date}}",
			Body: `<p>Hi {{name}},</p>
<p>Your visit on {{date}} is complete.</p>
<p><strong>Diagnosis:</strong> {{diagnosis}}<br><strong>Medications:</strong> {{medications}}</p>
<p>You can view your visit history in the student portal.</p>`,
		},
		{
			ID:      TplAppointmentCancelled,
			Subject: "Appointment on {{date}} cancelled",
			Body: `<p>Hi {{name}},</p>
<p>Your appointment on {{date}}, {{time}} was cancelled.</p>
<p>Reason: {{reason}}</p>`,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

func (e *TemplateEngine) lookup(templateID string) (*Template, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}
	return t, nil
}

// Render returns the subject and full HTML body for templateID. Keys present
// in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, err := e.lookup(templateID)
	if err != nil {
		return "", "", err
	}

	subject = replace(t.Subject, data, false)
	content := replace(t.Body, data, true)
	body = strings.Replace(layout, "{{clinic_name}}", html.EscapeString(e.clinicName), 1)
	body = strings.Replace(body, "{{content}}", content, 1)
	return subject, body, nil
}

// RenderSMS returns the plain-text SMS variant of templateID.
func (e *TemplateEngine) RenderSMS(templateID string, data map[string]string) (string, error) {
	t, err := e.lookup(templateID)
	if err != nil {
		return "", err
	}
	if t.SMS == "" {
		return "", fmt.Errorf("template %q has no SMS text", templateID)
	}
	return replace(t.SMS, data, false), nil
}

func replace(s string, data map[string]string, escape bool) string {
	for k, v := range data {
		if escape {
			v = html.EscapeString(v)
		}
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
