package session

import (
	"sync"
	"time"
)

// Entry is one user's slot in the Store. It is only valid inside Store.With.
type Entry struct {
	mu      sync.Mutex
	refs    int // guarded by Store.mu
	session *Session
	jobs    map[string]*Job
}

// Session returns the active session or nil.
func (e *Entry) Session() *Session {
	return e.session
}

// Start replaces any active session with s, releasing the old one.
func (e *Entry) Start(s *Session) {
	e.session.Release()
	e.session = s
}

// Clear destroys the active session and releases what it held.
func (e *Entry) Clear() {
	e.session.Release()
	e.session = nil
}

// Detach destroys the active session without releasing its resources and
// returns it. Ownership of the pending asset moves to the caller.
func (e *Entry) Detach() *Session {
	s := e.session
	e.session = nil
	return s
}

// AddJob registers a queued or running mix.
func (e *Entry) AddJob(j *Job) {
	if e.jobs == nil {
		e.jobs = make(map[string]*Job)
	}
	e.jobs[j.ID] = j
}

// RemoveJob unregisters a mix and reports whether it was still registered.
func (e *Entry) RemoveJob(id string) bool {
	if _, ok := e.jobs[id]; !ok {
		return false
	}
	delete(e.jobs, id)
	return true
}

// CancelJobs cancels and unregisters every mix. Jobs no worker has picked
// up yet give their assets back immediately. Returns how many.
func (e *Entry) CancelJobs() int {
	n := len(e.jobs)
	for id, j := range e.jobs {
		j.cancel()
		if j.take() {
			j.release()
		}
		delete(e.jobs, id)
	}
	return n
}

// JobCount returns the number of in-flight mixes.
func (e *Entry) JobCount() int {
	return len(e.jobs)
}

func (e *Entry) idle() bool {
	return e.session == nil && len(e.jobs) == 0
}

// Store holds at most one session per user and gives exclusive per-user
// access. Different users never share a lock beyond the map lookup.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*Entry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[int64]*Entry),
		now:     time.Now,
	}
}

// With runs fn with exclusive access to userID's entry. Idle entries are
// dropped once nobody else is waiting on them.
func (s *Store) With(userID int64, fn func(e *Entry)) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &Entry{}
		s.entries[userID] = e
	}
	e.refs++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		e.refs--
		if e.refs == 0 && e.idle() {
			delete(s.entries, userID)
		}
		s.mu.Unlock()
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

// Stats counts active sessions and in-flight mixes.
func (s *Store) Stats() (sessions, jobs int) {
	for _, id := range s.users() {
		s.With(id, func(e *Entry) {
			if e.session != nil {
				sessions++
			}
			jobs += len(e.jobs)
		})
	}
	return sessions, jobs
}

// Expire destroys sessions created more than ttl ago and returns the users
// they belonged to.
func (s *Store) Expire(ttl time.Duration) []int64 {
	cutoff := s.now().Add(-ttl)
	var expired []int64
	for _, id := range s.users() {
		s.With(id, func(e *Entry) {
			if e.session != nil && e.session.CreatedAt.Before(cutoff) {
				e.Clear()
				expired = append(expired, id)
			}
		})
	}
	return expired
}

func (s *Store) users() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}
