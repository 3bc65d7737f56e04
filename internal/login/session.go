package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State names the position of a login conversation in the handshake
// state machine.
type State string

const (
	StateInit           State = "init"
	StateCookieObtained State = "cookie_obtained"
	StateCodeSent       State = "code_sent"
)

// Session is the transient state of one login conversation. It lives
// only until the OTP is validated or the conversation is cancelled;
// nothing here is persisted to the account store.
type Session struct {
	UserID        int64  `json:"user_id"`
	PhoneNumber   string `json:"phone_number"`
	DeviceID      string `json:"device_id"`
	SessionCookie string `json:"session_cookie"`
	ChallengeID   string `json:"challenge_id"`
	State         State  `json:"state"`
}

// SessionStore keeps login sessions keyed by the owning conversation
// (the Telegram user id). Implementations expire sessions on their own.
type SessionStore interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, userID int64) (Session, error)
	Delete(ctx context.Context, userID int64) error
}

const (
	sessionPrefix = "login:session:"
	sessionTTL    = 10 * time.Minute
)

// RedisSessionStore stores login sessions in Redis with a TTL so
// abandoned conversations clean themselves up.
type RedisSessionStore struct {
	cache *redis.Client
}

// NewRedisSessionStore builds a session store on the shared Redis client.
func NewRedisSessionStore(cache *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{cache: cache}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionPrefix, userID)
}

// Put stores the session, refreshing its TTL.
func (s *RedisSessionStore) Put(ctx context.Context, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode login session: %w", err)
	}
	return s.cache.Set(ctx, sessionKey(session.UserID), payload, sessionTTL).Err()
}

// Get loads the session for the user, or ErrNoActiveSession.
func (s *RedisSessionStore) Get(ctx context.Context, userID int64) (Session, error) {
	raw, err := s.cache.Get(ctx, sessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNoActiveSession
	}
	if err != nil {
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return Session{}, fmt.Errorf("decode login session: %w", err)
	}
	return session, nil
}

// Delete discards the session. Deleting an absent session is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, userID int64) error {
	return s.cache.Del(ctx, sessionKey(userID)).Err()
}

type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

// NewMemorySessionStore constructs an in-memory session store for tests.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: make(map[int64]Session)}
}

func (s *memorySessionStore) Put(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserID] = session
	return nil
}

func (s *memorySessionStore) Get(_ context.Context, userID int64) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[userID]
	if !ok {
		return Session{}, ErrNoActiveSession
	}
	return session, nil
}

func (s *memorySessionStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}
