// Package session keeps conversation history for the lifetime of the
// process. Nothing is written to disk.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = errors.New("session not found")

// Roles a turn can have.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is an append-only, ordered list of turns.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.Mutex
	turns []Turn
}

// New returns an empty session with a fresh ID.
func New() *Session {
	return &Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
}

// History returns a copy of the turns so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Append adds turns in order.
func (s *Session) Append(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Store holds live sessions and forgets them after ttl without access.
type Store struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewStore creates a Store. A non-positive ttl keeps sessions until deleted.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		return &Store{cache: gocache.New(gocache.NoExpiration, 0), ttl: gocache.NoExpiration}
	}
	return &Store{cache: gocache.New(ttl, ttl/2), ttl: ttl}
}

// Create starts and stores a new session.
func (st *Store) Create() *Session {
	s := New()
	st.cache.Set(s.ID, s, st.ttl)
	return s
}

// Get returns the session and extends its lifetime.
func (st *Store) Get(id string) (*Session, error) {
	v, ok := st.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	st.cache.Set(id, s, st.ttl)
	return s, nil
}

// Delete removes a session. Unknown IDs report ErrNotFound.
func (st *Store) Delete(id string) error {
	if _, ok := st.cache.Get(id); !ok {
		return ErrNotFound
	}
	st.cache.Delete(id)
	return nil
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	return st.cache.ItemCount()
}
