package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory with a background goroutine
// that drops expired entries every cleanupInterval.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]Session
	userSessions map[string]map[string]struct{}
	now          func() time.Time
	done         chan struct{}
}

const cleanupInterval = 5 * time.Minute

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		sessions:     make(map[string]Session),
		userSessions: make(map[string]map[string]struct{}),
		now:          time.Now,
		done:         make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		id, err := newSessionID()
		if err != nil {
			return err
		}
		sess.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = *sess
	ids, ok := s.userSessions[sess.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.userSessions[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || sess.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) DeleteForUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id := range s.userSessions[userID] {
		s.deleteLocked(id)
		count++
	}
	return count, nil
}

func (s *MemoryStore) deleteLocked(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	if ids := s.userSessions[sess.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.userSessions, sess.UserID)
		}
	}
}

// Count returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *MemoryStore) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.Expired(now) {
			s.deleteLocked(id)
		}
	}
}
