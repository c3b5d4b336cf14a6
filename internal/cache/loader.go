package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/edulink/profile-cache/internal/domain"
)

// Load performs the ordered bulk load and swaps the resulting projection in
// atomically. Order matters: students come first so session emails can be
// denormalized, and indexes are built in a single pass once every primary
// map is populated.
//
// Serving reads between the projection swap and the subscriber's first
// delivered notification is acceptable: the only staleness window is the gap
// between the load queries and LISTEN taking effect, and the reconnect
// reload closes the same gap after outages.
func (c *Cache) Load(ctx context.Context) error {
	started := time.Now()
	from := startOfDay(c.now())
	to := from.Add(c.forwardWindow)

	students, err := c.repo.Students(ctx)
	if err != nil {
		return fmt.Errorf("load students: %w", err)
	}
	profiles, err := c.repo.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	rules, err := c.repo.Rules(ctx, from, to)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	sessions, err := c.repo.Sessions(ctx, from, to)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	p := newProjection()
	for _, st := range students {
		if st.Email == "" {
			continue
		}
		p.store.putStudent(st)
	}
	for _, pr := range profiles {
		p.store.profiles.put(pr.ID, pr)
	}
	for _, r := range rules {
		p.store.rules.put(r.ID, r)
	}
	for _, s := range sessions {
		if st, ok := p.store.students.get(s.StudentID); ok {
			s.StudentEmail = st.Email
		} else {
			s.StudentEmail = ""
		}
		p.store.sessions.put(s.ID, s)
	}

	// Single index-build pass over the populated store.
	for _, r := range rules {
		p.indexes.rules.add(r)
	}
	for _, s := range sessions {
		p.indexes.sessions.add(s)
	}

	c.proj.Store(p)
	c.lastLoaded.Store(c.now().Unix())

	log.Printf("cache: loaded %d students, %d profiles, %d rules, %d sessions in %s",
		len(students), len(profiles), len(rules), len(sessions), time.Since(started).Round(time.Millisecond))
	return nil
}

// LoadWithRetry runs Load with capped exponential backoff until it succeeds
// or the context is canceled. Used at startup, where the database may still
// be coming up.
func (c *Cache) LoadWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // retry until ctx is done

	return backoff.Retry(func() error {
		if err := c.Load(ctx); err != nil {
			log.Printf("cache: load failed, will retry: %v", err)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// Reload is the reconnect recovery path: a full loader pass that replaces
// the projection wholesale, picking up whatever events were missed while the
// notification connection was down. Students are included even though only
// the entity tables strictly need refreshing, because session email
// denormalization depends on them.
func (c *Cache) Reload(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		return err
	}
	c.reloads.Add(1)
	return nil
}

// windowBounds returns the current forward window [today, today+window].
func (c *Cache) windowBounds() (time.Time, time.Time) {
	from := startOfDay(c.now())
	return from, from.Add(c.forwardWindow)
}

// lookupEmail resolves a session's student email against the cached
// students, per the denormalization invariant: the by-email index only ever
// holds the email the student record had at indexing time.
func (p *projection) lookupEmail(s *domain.Session) string {
	if st, ok := p.store.students.get(s.StudentID); ok {
		return st.Email
	}
	return ""
}
