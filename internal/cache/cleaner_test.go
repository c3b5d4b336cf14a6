package cache

import (
	"testing"
	"time"

	"github.com/edulink/profile-cache/internal/domain"
)

func TestCleanup_RemovesFinishedPastSessions(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	c := newTestCache(t, repo)

	// Inject directly: load would have filtered yesterday's session out.
	p := c.projection()
	past := &domain.Session{ID: 1, StudentID: 9001, StudentEmail: "test1@cache.test", ProfileID: 5,
		StartTime: fixedNow.Add(-26 * time.Hour), EndTime: fixedNow.Add(-25 * time.Hour)}
	p.store.sessions.put(past.ID, past)
	p.indexes.sessions.add(past)

	sessions, rules := c.Cleanup()
	if sessions != 1 || rules != 0 {
		t.Fatalf("Cleanup = (%d, %d), want (1, 0)", sessions, rules)
	}
	if _, ok := p.store.sessions.get(1); ok {
		t.Error("finished past session must be removed")
	}
	emails, profiles := p.indexes.sessions.bucketCounts()
	if emails != 0 || profiles != 0 {
		t.Errorf("buckets = (%d, %d), want both empty", emails, profiles)
	}
}

func TestCleanup_PreservesLongRunningSessions(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	c := newTestCache(t, repo)

	p := c.projection()
	// Started months ago, ends months from now. Must survive every pass.
	yearLong := &domain.Session{ID: 1, StudentID: 9001, StudentEmail: "test1@cache.test",
		StartTime: fixedNow.Add(-120 * 24 * time.Hour), EndTime: fixedNow.Add(120 * 24 * time.Hour)}
	p.store.sessions.put(yearLong.ID, yearLong)
	p.indexes.sessions.add(yearLong)

	if sessions, _ := c.Cleanup(); sessions != 0 {
		t.Fatalf("Cleanup removed %d sessions, want 0", sessions)
	}
	if _, ok := p.store.sessions.get(1); !ok {
		t.Error("long-running session must be preserved")
	}
}

func TestCleanup_PreservesTodaysFinishedSessions(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	// Ended an hour ago but started today: still answers "what happened today".
	seedSession(repo, 1, 9001, 0, fixedNow.Add(-2*time.Hour), fixedNow.Add(-time.Hour))
	c := newTestCache(t, repo)

	if sessions, _ := c.Cleanup(); sessions != 0 {
		t.Errorf("Cleanup removed %d sessions, want 0 for today's sessions", sessions)
	}
}

func TestCleanup_RemovesExpiredRules(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCache(t, repo)

	p := c.projection()
	expired := &domain.Rule{ID: 1, Scope: domain.ScopeSchool, ScopeValue: "1",
		StartTime: fixedNow.Add(-2 * time.Hour), EndTime: fixedNow.Add(-time.Hour), ProfileID: 5}
	live := &domain.Rule{ID: 2, Scope: domain.ScopeSchool, ScopeValue: "1",
		StartTime: fixedNow.Add(-time.Hour), EndTime: fixedNow.Add(time.Hour), ProfileID: 5}
	for _, r := range []*domain.Rule{expired, live} {
		p.store.rules.put(r.ID, r)
		p.indexes.rules.add(r)
	}

	_, rules := c.Cleanup()
	if rules != 1 {
		t.Fatalf("Cleanup removed %d rules, want 1", rules)
	}
	if _, ok := p.store.rules.get(1); ok {
		t.Error("expired rule must be removed")
	}
	if got := p.indexes.rules.get(domain.ScopeSchool, "1"); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("bucket = %v, want only the live rule", got)
	}
}
