package bot

import (
	"sync"
	"time"
)

// conversationState tracks where a chat is in a multi-step command.
type conversationState string

const (
	stateIdle            conversationState = "idle"
	stateAwaitingPhone   conversationState = "awaiting_phone"
	stateAwaitingOTP     conversationState = "awaiting_otp"
	stateAwaitingVoucher conversationState = "awaiting_voucher"
)

// Conversations older than this are treated as abandoned.
const conversationTTL = time.Hour

type conversation struct {
	State    conversationState
	Phone    string
	LastSeen time.Time
}

// stateStore holds per-chat conversation progress in memory. Login
// handshake material itself lives in the session store; this only
// remembers which prompt the chat is answering.
type stateStore struct {
	mu    sync.Mutex
	chats map[int64]*conversation
}

func newStateStore() *stateStore {
	return &stateStore{chats: make(map[int64]*conversation)}
}

func (s *stateStore) get(chatID int64) conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || time.Since(c.LastSeen) > conversationTTL {
		return conversation{State: stateIdle}
	}
	return *c
}

func (s *stateStore) set(chatID int64, state conversationState, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = &conversation{State: state, Phone: phone, LastSeen: time.Now()}
}

func (s *stateStore) clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}
