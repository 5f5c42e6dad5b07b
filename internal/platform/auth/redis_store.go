package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in Redis so they survive restarts and are shared
// between server instances. Each session is a JSON string with a TTL; a set
// per user indexes session ids for bulk logout.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "clinic", now: time.Now}, nil
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + ":session:" + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":user_sessions:" + userID
}

func encodeSession(sess *Session) ([]byte, error) {
	return json.Marshal(sess)
}

func decodeSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		id, err := newSessionID()
		if err != nil {
			return err
		}
		sess.ID = id
	}

	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := encodeSession(sess)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), data, ttl)
	pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.userKey(sess.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, s.userKey(userID))

	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	// The index key itself is not a session.
	if deleted > 0 {
		deleted--
	}
	return int(deleted), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
