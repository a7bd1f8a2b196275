package tabletop

import (
	"sort"
	"sync"
	"time"
)

// Store owns every live session of the process. The map lock only guards
// lookup; mutations of one session are serialized by that session's own lock,
// so different sessions proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clock    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(clock func() time.Time) StoreOption {
	return func(st *Store) { st.clock = clock }
}

func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		sessions: make(map[string]*Session),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Now returns the store's notion of the current time.
func (st *Store) Now() time.Time {
	return st.clock()
}

// GetOrCreate returns the session for id, creating it with defaults on first
// reference. The returned session is not locked.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s = NewSession(id, st.clock())
	st.sessions[id] = s
	return s
}

// Get returns an existing session without creating one.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Update runs fn with exclusive access to the session, creating it if needed.
func (st *Store) Update(id string, fn func(*Session)) {
	s := st.GetOrCreate(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// View runs fn with exclusive access to an existing session. It reports
// false, without calling fn, when the session does not exist.
func (st *Store) View(id string, fn func(*Session)) bool {
	s, ok := st.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
	return true
}

// Put installs s, replacing any session with the same id.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Delete drops a session. It reports whether one existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// IDs returns the live session ids in sorted order.
func (st *Store) IDs() []string {
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
