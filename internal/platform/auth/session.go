package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"
)

// Kind identifies which account table a session belongs to.
type Kind string

const (
	KindStudent Kind = "student"
	KindStaff   Kind = "staff"
)

const (
	RoleStudent = "student"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side state referenced by the session cookie.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Role      string    `json:"role"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *Session) IsStaff() bool {
	return s.Kind == KindStaff
}

// Store persists sessions. Implementations must treat expired sessions as
// missing.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) (int, error)
	Close() error
}

func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
