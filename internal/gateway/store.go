// Package gateway implements the conversation orchestrator: an HTTP server
// exposing the duplex websocket endpoint plus REST session management. It
// holds per-session history, streams generator output back sentence by
// sentence, and honors interrupts by cancelling in-flight generation.
package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/katipally/Jarvis-sub002/internal/llm"
)

// maxHistoryMessages bounds per-session context so long conversations do not
// grow the generator prompt without limit.
const maxHistoryMessages = 20

// Session holds one conversation's history and metadata.
type Session struct {
	SessionID      string
	ConversationID string
	CreatedAt      time.Time

	mu           sync.Mutex
	messages     []llm.Message
	lastActivity time.Time
}

func newSession(sessionID, conversationID string) *Session {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		SessionID:      sessionID,
		ConversationID: conversationID,
		CreatedAt:      now,
		lastActivity:   now,
	}
}

// AddMessage appends to history, trimming to the most recent window.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, llm.Message{Role: role, Content: content})
	if len(s.messages) > maxHistoryMessages {
		s.messages = s.messages[len(s.messages)-maxHistoryMessages:]
	}
	s.lastActivity = time.Now()
}

// Messages returns a copy of the history.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ClearMessages empties history but keeps the session alive.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.lastActivity = time.Now()
}

// SessionInfo is the REST serialization of a session.
type SessionInfo struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	MessageCount   int    `json:"message_count"`
	CreatedAt      string `json:"created_at"`
	LastActivity   string `json:"last_activity"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		SessionID:      s.SessionID,
		ConversationID: s.ConversationID,
		MessageCount:   len(s.messages),
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		LastActivity:   s.lastActivity.Format(time.RFC3339),
	}
}

// Store is the in-memory session registry shared by the websocket handler and
// the REST routes.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating it when absent. An empty
// id allocates a fresh session.
func (st *Store) GetOrCreate(id, conversationID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id, conversationID)
	st.sessions[id] = s
	return s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

func (st *Store) List() []SessionInfo {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]SessionInfo, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.Info())
	}
	return out
}
