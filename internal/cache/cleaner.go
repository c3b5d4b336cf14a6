package cache

import (
	"context"
	"log"
	"time"
)

// StartCleaner runs scheduled pruning: the first pass after startupDelay,
// then every interval, until the context is canceled. Read-side today
// filtering keeps answers correct while a pass is pending; the cleaner only
// reclaims memory.
func (c *Cache) StartCleaner(ctx context.Context, startupDelay, interval time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(startupDelay):
		}
		c.Cleanup()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// Cleanup removes past-day sessions and expired rules from the primary maps
// and the derived indexes. A session that started on a past day but has not
// ended yet (a year-long session) is preserved; a session from an earlier
// day whose window is over is reclaimed.
func (c *Cache) Cleanup() (sessionsRemoved, rulesRemoved int) {
	now := c.now()
	today := startOfDay(now)
	p := c.projection()

	for _, s := range p.store.sessions.values() {
		if s.StartTime.Before(today) && s.EndTime.Before(now) {
			p.store.sessions.remove(s.ID)
			p.indexes.sessions.removeEmail(s.StudentEmail, s.ID)
			p.indexes.sessions.removeProfile(s.ProfileID, s.ID)
			sessionsRemoved++
		}
	}

	for _, r := range p.store.rules.values() {
		if r.EndTime.Before(now) {
			p.store.rules.remove(r.ID)
			p.indexes.rules.remove(r.Scope, r.ScopeValue, r.ID)
			rulesRemoved++
		}
	}

	if sessionsRemoved > 0 || rulesRemoved > 0 {
		log.Printf("cache: cleanup removed %d sessions, %d rules", sessionsRemoved, rulesRemoved)
	}
	return sessionsRemoved, rulesRemoved
}
