package sessions

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxHistory is the number of history entries kept per session (10 turns).
const MaxHistory = 20

// DefaultMaxSessions bounds the store when no capacity is configured.
const DefaultMaxSessions = 10000

// Role labels a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of conversation history.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session holds per-conversation state. Its fields are only reachable through
// the Store and Snapshot so that every access happens under the session lock.
type Session struct {
	mu sync.Mutex

	id           string
	startedAt    time.Time
	lastActivity time.Time
	messageCount int
	history      []Entry
	context      map[string]string
}

// ID returns the conversation id.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	ConversationID string            `json:"conversation_id"`
	StartedAt      time.Time         `json:"started_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	MessageCount   int               `json:"message_count"`
	History        []Entry           `json:"history"`
	Context        map[string]string `json:"context,omitempty"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ConversationID: s.id,
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivity,
		MessageCount:   s.messageCount,
		History:        append([]Entry(nil), s.history...),
		Context:        maps.Clone(s.context),
	}
}

// History returns a copy of the conversation history, oldest first.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// Context returns the value stored under key, if any.
func (s *Session) Context(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.context[key]
	return v, ok
}

// Store owns every live Session, bounded by an LRU of fixed capacity.
// The least recently touched conversation is evicted when the store is full.
type Store struct {
	cache *lru.Cache[string, *Session]
	now   func() time.Time
}

// NewStore creates a store holding at most capacity sessions.
// capacity <= 0 selects DefaultMaxSessions.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultMaxSessions
	}
	cache, err := lru.NewWithEvict(capacity, func(id string, _ *Session) {
		slog.Debug("session evicted", "conversation_id", id)
	})
	if err != nil {
		// only returned for a non-positive size, excluded above
		panic(err)
	}
	return &Store{cache: cache, now: time.Now}
}

// GetOrCreate returns the session for conversationID, creating it on first
// use. Every call counts as one inbound message: messageCount is incremented
// and lastActivityAt bumped.
func (st *Store) GetOrCreate(conversationID string) *Session {
	s, ok := st.cache.Get(conversationID)
	if !ok {
		now := st.now()
		fresh := &Session{
			id:           conversationID,
			startedAt:    now,
			lastActivity: now,
			history:      make([]Entry, 0, MaxHistory),
			context:      make(map[string]string),
		}
		// PeekOrAdd keeps whichever session won a concurrent creation race.
		if prev, found, _ := st.cache.PeekOrAdd(conversationID, fresh); found {
			s = prev
		} else {
			s = fresh
		}
	}

	s.mu.Lock()
	s.messageCount++
	s.lastActivity = st.now()
	s.mu.Unlock()
	return s
}

// Get returns the session without touching its activity or recency.
func (st *Store) Get(conversationID string) (*Session, bool) {
	return st.cache.Peek(conversationID)
}

// AppendTurn records one user message and the reply sent for it, keeping
// only the most recent MaxHistory entries.
func (st *Store) AppendTurn(s *Session, userText, replyText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history,
		Entry{Role: RoleUser, Content: userText},
		Entry{Role: RoleAssistant, Content: replyText},
	)
	if over := len(s.history) - MaxHistory; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.lastActivity = st.now()
}

// SetContext stores channel metadata (contact name, last message id, ...) on the session.
func (st *Store) SetContext(s *Session, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.context == nil {
		s.context = make(map[string]string)
	}
	s.context[key] = value
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	return st.cache.Len()
}

// Sweep removes sessions idle for longer than ttl and returns how many were
// removed. A handler still holding a swept session keeps working on its copy;
// the next message for that conversation starts a fresh session.
func (st *Store) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := st.now().Add(-ttl)
	removed := 0

	for _, id := range st.cache.Keys() {
		s, ok := st.cache.Peek(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle && st.cache.Remove(id) {
			removed++
		}
	}
	return removed
}
