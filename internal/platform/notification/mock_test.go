package notification

import (
	"context"
	"sync"
)

// -- Recording senders --

type sentEmail struct {
	to, subject, body string
}

// recordingEmail keeps every message it is handed and returns err.
type recordingEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (r *recordingEmail) SendEmail(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEmail{to: to, subject: subject, body: body})
	return r.err
}

func (r *recordingEmail) all() []sentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEmail(nil), r.sent...)
}

type sentSMS struct {
	to, body string
}

type recordingSMS struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (r *recordingSMS) SendSMS(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentSMS{to: to, body: body})
	return r.err
}

func (r *recordingSMS) all() []sentSMS {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentSMS(nil), r.sent...)
}
