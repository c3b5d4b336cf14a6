package cache

import (
	"context"
	"fmt"

	"github.com/edulink/profile-cache/internal/domain"
)

// Change handlers run on the subscriber's dispatch goroutine, so changes are
// applied strictly in arrival order. Each handler is total and idempotent:
// replaying an event, or applying one whose referenced row has since
// disappeared, converges to the same state. Re-fetch errors propagate to the
// dispatcher, which logs them; the reconnect reload is the recovery path for
// anything a failed re-fetch left stale.

// ApplyStudentChange applies a students_changes event.
func (c *Cache) ApplyStudentChange(ctx context.Context, ev domain.ChangeEvent) error {
	p := c.projection()

	if ev.Operation == domain.OpDelete {
		c.dropStudent(p, ev.ID)
		return nil
	}

	st, err := c.repo.Student(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("refetch student %d: %w", ev.ID, err)
	}
	if st == nil || st.Email == "" {
		// Row gone, or the email was cleared: either way the student leaves
		// the cache and their sessions lose the denormalized email.
		c.dropStudent(p, ev.ID)
		return nil
	}

	oldEmail := ""
	if old, ok := p.store.students.get(ev.ID); ok {
		oldEmail = old.Email
	}
	p.store.putStudent(st)
	if oldEmail != st.Email {
		c.repatchSessions(p, ev.ID, st.Email)
	}
	return nil
}

// dropStudent removes the student and nulls the denormalized email on every
// session that referenced them, rebuilding the affected email buckets.
func (c *Cache) dropStudent(p *projection, studentID int64) {
	p.store.removeStudent(studentID)
	c.repatchSessions(p, studentID, "")
}

// repatchSessions walks the sessions owned by a student and moves each one
// from its old email bucket to the new one. Only the old and new buckets are
// touched.
func (c *Cache) repatchSessions(p *projection, studentID int64, newEmail string) {
	for _, s := range p.store.sessions.values() {
		if s.StudentID != studentID || s.StudentEmail == newEmail {
			continue
		}
		patched := *s
		patched.StudentEmail = newEmail
		p.store.sessions.put(s.ID, &patched)
		p.indexes.sessions.removeEmail(s.StudentEmail, s.ID)
		if newEmail != "" {
			p.indexes.sessions.add(&patched)
		} else if patched.ProfileID != 0 {
			// Keep the profile index current with the patched value.
			p.indexes.sessions.add(&patched)
		}
	}
}

// ApplyProfileChange applies a profiles_changes event. RELOAD re-fetches one
// profile's full hierarchy; RELOAD_ALL re-fetches every profile (rare,
// triggered by hierarchy-table changes).
func (c *Cache) ApplyProfileChange(ctx context.Context, ev domain.ChangeEvent) error {
	p := c.projection()

	switch ev.Operation {
	case domain.OpDelete:
		p.store.profiles.remove(ev.ID)
		return nil

	case domain.OpReloadAll:
		profiles, err := c.repo.Profiles(ctx)
		if err != nil {
			return fmt.Errorf("refetch all profiles: %w", err)
		}
		m := make(map[int64]*domain.Profile, len(profiles))
		for _, pr := range profiles {
			m[pr.ID] = pr
		}
		p.store.profiles.replaceAll(m)
		return nil

	case domain.OpReload:
		// A RELOAD for an id the cache does not hold is a no-op.
		if _, ok := p.store.profiles.get(ev.ID); !ok {
			return nil
		}
		fallthrough

	default: // INSERT, UPDATE, RELOAD of a known id
		pr, err := c.repo.Profile(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("refetch profile %d: %w", ev.ID, err)
		}
		if pr == nil {
			p.store.profiles.remove(ev.ID)
			return nil
		}
		p.store.profiles.put(pr.ID, pr)
		return nil
	}
}

// ApplyRuleChange applies a rules_changes event. The index key is
// (scope, scopeValue) with NULL/empty coerced to "" by the repository.
func (c *Cache) ApplyRuleChange(ctx context.Context, ev domain.ChangeEvent) error {
	p := c.projection()

	old, _ := p.store.rules.get(ev.ID)
	if old != nil {
		p.indexes.rules.remove(old.Scope, old.ScopeValue, old.ID)
	}

	if ev.Operation == domain.OpDelete {
		p.store.rules.remove(ev.ID)
		return nil
	}

	from, to := c.windowBounds()
	r, err := c.repo.Rule(ctx, ev.ID, from, to)
	if err != nil {
		// Re-index the old value so a transient fetch failure doesn't lose
		// the rule; the reconnect reload converges the rest.
		if old != nil {
			p.indexes.rules.add(old)
		}
		return fmt.Errorf("refetch rule %d: %w", ev.ID, err)
	}
	if r == nil {
		// Outside the forward window, or deleted between notify and fetch.
		p.store.rules.remove(ev.ID)
		return nil
	}

	p.store.rules.put(r.ID, r)
	p.indexes.rules.add(r)
	return nil
}

// ApplySessionChange applies a sessions_changes event. The student email is
// looked up from the cached students at index time (I1); a session whose
// student is unknown stays indexed by profile with an empty email.
func (c *Cache) ApplySessionChange(ctx context.Context, ev domain.ChangeEvent) error {
	p := c.projection()

	old, _ := p.store.sessions.get(ev.ID)
	if old != nil {
		p.indexes.sessions.removeEmail(old.StudentEmail, old.ID)
		p.indexes.sessions.removeProfile(old.ProfileID, old.ID)
	}

	if ev.Operation == domain.OpDelete {
		p.store.sessions.remove(ev.ID)
		return nil
	}

	from, to := c.windowBounds()
	s, err := c.repo.Session(ctx, ev.ID, from, to)
	if err != nil {
		if old != nil {
			p.indexes.sessions.add(old)
		}
		return fmt.Errorf("refetch session %d: %w", ev.ID, err)
	}
	if s == nil {
		p.store.sessions.remove(ev.ID)
		return nil
	}

	s.StudentEmail = p.lookupEmail(s)
	p.store.sessions.put(s.ID, s)
	p.indexes.sessions.add(s)
	return nil
}
