// Package session keeps per-conversation history and context in memory.
package session

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/pending"
)

const (
	// MaxHistory bounds the stored turns of one session.
	MaxHistory = 24
	// DefaultTTL expires idle sessions.
	DefaultTTL      = 2 * time.Hour
	cleanupInterval = 10 * time.Minute
)

// Turn is one stored message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is what later turns may refer back to.
type Context struct {
	Candidates []candidates.Item `json:"wine_context_candidates,omitempty"`
	Pending    pending.Action    `json:"pending_record_action"`
}

// Session is one conversation. Fields are only touched inside Store.Do.
type Session struct {
	ID      string
	History []Turn
	Context Context

	mu sync.Mutex
}

// Append adds a turn and drops the oldest ones beyond MaxHistory.
func (s *Session) Append(role, content string) {
	s.History = append(s.History, Turn{Role: role, Content: content})
	if n := len(s.History); n > MaxHistory {
		s.History = append([]Turn(nil), s.History[n-MaxHistory:]...)
	}
}

// Recent returns a copy of at most n latest turns.
func (s *Session) Recent(n int) []Turn {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	start := max(0, len(s.History)-n)
	return append([]Turn(nil), s.History[start:]...)
}

// Reset clears history, candidates and any pending action.
func (s *Session) Reset() {
	s.History = nil
	s.Context = Context{}
}

// Store maps session ids to sessions. Sessions expire after ttl of inactivity.
type Store struct {
	cache *cache.Cache
	ttl   time.Duration
	mu    sync.Mutex
}

// New creates a Store. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: cache.New(ttl, cleanupInterval), ttl: ttl}
}

func (st *Store) getOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if x, ok := st.cache.Get(id); ok {
		return x.(*Session)
	}
	s := &Session{ID: id}
	st.cache.Set(id, s, st.ttl)
	return s
}

// Do runs fn with exclusive access to the session, creating it if needed.
// Calls for the same id are serialized; different ids never contend.
func (st *Store) Do(id string, fn func(*Session) error) error {
	s := st.getOrCreate(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	err := fn(s)
	if n := len(s.History); n > MaxHistory {
		s.History = append([]Turn(nil), s.History[n-MaxHistory:]...)
	}
	st.cache.Set(id, s, st.ttl)
	return err
}

// Delete forgets a session.
func (st *Store) Delete(id string) {
	st.cache.Delete(id)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	return st.cache.ItemCount()
}
