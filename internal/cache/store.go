// Package cache holds the in-memory, read-optimized projection of the
// restriction database: students, profiles, rules, and sessions, plus the
// derived indexes the resolver reads. Postgres stays authoritative; the
// projection is populated by the loader and kept current by change
// notifications.
//
// Concurrency model: entities are immutable once published. Writers build a
// replacement value and swap the pointer under the table lock; readers hold
// whatever pointer they obtained and never see a partial update. Index
// buckets are copy-on-write slices published the same way.
package cache

import (
	"sync"

	"github.com/edulink/profile-cache/internal/domain"
)

// table is a keyed entity map with per-key atomic replace. It holds no
// cross-entity logic.
type table[V any] struct {
	mu sync.RWMutex
	m  map[int64]*V
}

func newTable[V any]() *table[V] {
	return &table[V]{m: make(map[int64]*V)}
}

func (t *table[V]) get(id int64) (*V, bool) {
	t.mu.RLock()
	v, ok := t.m[id]
	t.mu.RUnlock()
	return v, ok
}

func (t *table[V]) put(id int64, v *V) {
	t.mu.Lock()
	t.m[id] = v
	t.mu.Unlock()
}

func (t *table[V]) remove(id int64) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

func (t *table[V]) len() int {
	t.mu.RLock()
	n := len(t.m)
	t.mu.RUnlock()
	return n
}

// values returns a snapshot slice of the current entries. Iteration happens
// on the snapshot so callers never hold the table lock across their own work.
func (t *table[V]) values() []*V {
	t.mu.RLock()
	out := make([]*V, 0, len(t.m))
	for _, v := range t.m {
		out = append(out, v)
	}
	t.mu.RUnlock()
	return out
}

// replaceAll swaps the whole map in one step. Used by RELOAD_ALL handling.
func (t *table[V]) replaceAll(m map[int64]*V) {
	t.mu.Lock()
	t.m = m
	t.mu.Unlock()
}

// emailIndex maps a student email to the student record. Emails are unique
// when present; students without an email never enter the cache, so every
// entry here has a non-empty key.
type emailIndex struct {
	mu sync.RWMutex
	m  map[string]*domain.Student
}

func newEmailIndex() *emailIndex {
	return &emailIndex{m: make(map[string]*domain.Student)}
}

func (e *emailIndex) get(email string) (*domain.Student, bool) {
	e.mu.RLock()
	st, ok := e.m[email]
	e.mu.RUnlock()
	return st, ok
}

func (e *emailIndex) put(st *domain.Student) {
	if st.Email == "" {
		return
	}
	e.mu.Lock()
	e.m[st.Email] = st
	e.mu.Unlock()
}

func (e *emailIndex) remove(email string) {
	if email == "" {
		return
	}
	e.mu.Lock()
	delete(e.m, email)
	e.mu.Unlock()
}

// store bundles the four primary entity maps and the student email lookup.
type store struct {
	students *table[domain.Student]
	profiles *table[domain.Profile]
	rules    *table[domain.Rule]
	sessions *table[domain.Session]
	emails   *emailIndex
}

func newStore() *store {
	return &store{
		students: newTable[domain.Student](),
		profiles: newTable[domain.Profile](),
		rules:    newTable[domain.Rule](),
		sessions: newTable[domain.Session](),
		emails:   newEmailIndex(),
	}
}

// putStudent stores a student and keeps the email lookup consistent when the
// email changed.
func (s *store) putStudent(st *domain.Student) {
	if old, ok := s.students.get(st.ID); ok && old.Email != st.Email {
		s.emails.remove(old.Email)
	}
	s.students.put(st.ID, st)
	s.emails.put(st)
}

// removeStudent drops a student from the primary map and the email lookup.
func (s *store) removeStudent(id int64) {
	if old, ok := s.students.get(id); ok {
		s.emails.remove(old.Email)
	}
	s.students.remove(id)
}
