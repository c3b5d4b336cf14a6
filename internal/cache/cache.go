package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/edulink/profile-cache/internal/domain"
)

// Repository is the read side of the authoritative store. Single-row
// fetches return (nil, nil) when the row does not exist or falls outside the
// requested window; the handlers treat that as a removal.
type Repository interface {
	Students(ctx context.Context) ([]*domain.Student, error)
	Student(ctx context.Context, id int64) (*domain.Student, error)
	Profiles(ctx context.Context) ([]*domain.Profile, error)
	Profile(ctx context.Context, id int64) (*domain.Profile, error)
	Rules(ctx context.Context, from, to time.Time) ([]*domain.Rule, error)
	Rule(ctx context.Context, id int64, from, to time.Time) (*domain.Rule, error)
	Sessions(ctx context.Context, from, to time.Time) ([]*domain.Session, error)
	Session(ctx context.Context, id int64, from, to time.Time) (*domain.Session, error)
}

// projection is one consistent build of the store plus its derived indexes.
// The loader swaps a whole projection in atomically; incremental change
// handlers mutate the current projection through its internal locks.
type projection struct {
	store   *store
	indexes *indexes
}

func newProjection() *projection {
	return &projection{store: newStore(), indexes: newIndexes()}
}

// Cache is the engine handle. It is safe for concurrent use: many reader
// goroutines, one subscriber dispatch goroutine, and the scheduled cleaner.
// Construct one per process (or per test) with New; there is no package
// global.
type Cache struct {
	repo          Repository
	forwardWindow time.Duration
	proj          atomic.Pointer[projection]

	// now is swappable for tests.
	now func() time.Time

	eventsProcessed atomic.Uint64
	eventsDropped   atomic.Uint64
	reloads         atomic.Uint64
	lastLoaded      atomic.Int64 // unix seconds, 0 = never
}

// New creates an empty cache. Reads served before Load completes return
// empty results.
func New(repo Repository, forwardWindow time.Duration) *Cache {
	c := &Cache{
		repo:          repo,
		forwardWindow: forwardWindow,
		now:           time.Now,
	}
	c.proj.Store(newProjection())
	return c
}

func (c *Cache) projection() *projection {
	return c.proj.Load()
}

// Student returns the cached student for an email.
func (c *Cache) Student(email string) (*domain.Student, bool) {
	return c.projection().store.emails.get(email)
}

// Profile returns the cached profile by id, hierarchy included.
func (c *Cache) Profile(id int64) (*domain.Profile, bool) {
	return c.projection().store.profiles.get(id)
}

// SessionsForEmail returns the sessions indexed under an email whose start
// falls on today. The index may physically hold sessions further into the
// forward window; the filter is applied here, at read time, so the answer is
// correct even when the cleaner has not run since midnight.
func (c *Cache) SessionsForEmail(email string) []*domain.Session {
	now := c.now()
	list := c.projection().indexes.sessions.emailSessions(email)
	out := make([]*domain.Session, 0, len(list))
	for _, s := range list {
		if s.StartsOn(now) {
			out = append(out, s)
		}
	}
	return out
}

// SchoolRules returns every cached school-scope rule, wildcards included.
func (c *Cache) SchoolRules() []*domain.Rule {
	return c.projection().indexes.rules.scopeRules(domain.ScopeSchool)
}

// Stats is the operational snapshot exposed on the HTTP surface.
type Stats struct {
	Students        int       `json:"students"`
	Profiles        int       `json:"profiles"`
	Rules           int       `json:"rules"`
	Sessions        int       `json:"sessions"`
	EmailBuckets    int       `json:"email_buckets"`
	ProfileBuckets  int       `json:"profile_buckets"`
	RuleBuckets     int       `json:"rule_buckets"`
	EventsProcessed uint64    `json:"events_processed"`
	EventsDropped   uint64    `json:"events_dropped"`
	Reloads         uint64    `json:"reloads"`
	LastLoadedAt    time.Time `json:"last_loaded_at"`
}

// Stats returns current entity and index counts plus event counters.
func (c *Cache) Stats() Stats {
	p := c.projection()
	emails, profiles := p.indexes.sessions.bucketCounts()
	st := Stats{
		Students:        p.store.students.len(),
		Profiles:        p.store.profiles.len(),
		Rules:           p.store.rules.len(),
		Sessions:        p.store.sessions.len(),
		EmailBuckets:    emails,
		ProfileBuckets:  profiles,
		RuleBuckets:     p.indexes.rules.bucketCount(),
		EventsProcessed: c.eventsProcessed.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		Reloads:         c.reloads.Load(),
	}
	if ts := c.lastLoaded.Load(); ts > 0 {
		st.LastLoadedAt = time.Unix(ts, 0)
	}
	return st
}

// startOfDay truncates t to local midnight.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
