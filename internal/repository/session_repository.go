package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/board-api/internal/models"
)

// ErrSessionNotFound is returned for unknown or expired tokens.
var ErrSessionNotFound = errors.New("repository: session not found")

// SessionStore maps opaque tokens to session identities.
type SessionStore interface {
	Save(ctx context.Context, token string, identity models.SessionIdentity, ttl time.Duration) error
	Get(ctx context.Context, token string) (*models.SessionIdentity, error)
	Delete(ctx context.Context, token string) error
	DeleteUser(ctx context.Context, userID string) error
}

// RedisSessionStore keeps sessions in Redis with a per-user index set.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessionStore constructs a Redis backed store. Keys are namespaced by prefix.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) sessionKey(token string) string {
	if s.prefix == "" {
		return "session:" + token
	}
	return s.prefix + ":session:" + token
}

func (s *RedisSessionStore) userKey(userID string) string {
	if s.prefix == "" {
		return "user_sessions:" + userID
	}
	return s.prefix + ":user_sessions:" + userID
}

// Save stores the identity under token with the given TTL.
func (s *RedisSessionStore) Save(ctx context.Context, token string, identity models.SessionIdentity, ttl time.Duration) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	userKey := s.userKey(identity.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(token), payload, ttl)
		pipe.SAdd(ctx, userKey, token)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// Get loads the identity for token.
func (s *RedisSessionStore) Get(ctx context.Context, token string) (*models.SessionIdentity, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var identity models.SessionIdentity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &identity, nil
}

// Delete removes a token. Unknown tokens are ignored.
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	identity, err := s.Get(ctx, token)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(token))
		if identity != nil {
			pipe.SRem(ctx, s.userKey(identity.UserID), token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// DeleteUser removes every session belonging to userID.
func (s *RedisSessionStore) DeleteUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	tokens, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis list user sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, s.sessionKey(token))
	}
	keys = append(keys, userKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete user sessions: %w", err)
	}
	return nil
}

type memorySession struct {
	identity  models.SessionIdentity
	expiresAt time.Time
}

// MemorySessionStore is a process-local store guarded by a mutex.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	byUser   map[string]map[string]struct{}
	now      func() time.Time
}

// NewMemorySessionStore constructs an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		byUser:   make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Save stores the identity under token with the given TTL.
func (s *MemorySessionStore) Save(_ context.Context, token string, identity models.SessionIdentity, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = memorySession{identity: identity, expiresAt: s.now().Add(ttl)}
	tokens, ok := s.byUser[identity.UserID]
	if !ok {
		tokens = make(map[string]struct{})
		s.byUser[identity.UserID] = tokens
	}
	tokens[token] = struct{}{}
	return nil
}

// Get loads the identity for token, evicting it when expired.
func (s *MemorySessionStore) Get(_ context.Context, token string) (*models.SessionIdentity, error) {
	s.mu.RLock()
	entry, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if current, ok := s.sessions[token]; ok && !s.now().Before(current.expiresAt) {
			s.removeLocked(token)
		}
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	identity := entry.identity
	return &identity, nil
}

// Delete removes a token. Unknown tokens are ignored.
func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(token)
	return nil
}

// DeleteUser removes every session belonging to userID.
func (s *MemorySessionStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token := range s.byUser[userID] {
		delete(s.sessions, token)
	}
	delete(s.byUser, userID)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			s.removeLocked(token)
			removed++
		}
	}
	return removed
}

func (s *MemorySessionStore) removeLocked(token string) {
	entry, ok := s.sessions[token]
	if !ok {
		return
	}
	delete(s.sessions, token)
	if tokens, ok := s.byUser[entry.identity.UserID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(s.byUser, entry.identity.UserID)
		}
	}
}
