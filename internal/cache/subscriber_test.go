package cache

import (
	"context"
	"testing"
	"time"
)

// dispatch is exercised without a live listener; the pq connection handling
// itself belongs to integration testing.

func TestDispatch_AppliesChange(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	c := newTestCache(t, repo)
	s := &Subscriber{cache: c}

	seedSession(repo, 1, 9001, 9001, fixedNow.Add(time.Hour), fixedNow.Add(2*time.Hour))
	s.dispatch(context.Background(), channelSessions, `{"operation":"INSERT","id":1}`)

	if got := len(c.SessionsForEmail("test1@cache.test")); got != 1 {
		t.Errorf("sessions after dispatch = %d, want 1", got)
	}
	if got := c.Stats().EventsProcessed; got != 1 {
		t.Errorf("EventsProcessed = %d, want 1", got)
	}
}

func TestDispatch_DropsBadPayloads(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCache(t, repo)
	s := &Subscriber{cache: c}

	s.dispatch(context.Background(), channelStudents, `not json`)
	s.dispatch(context.Background(), channelStudents, `{"id":1}`)                          // no operation
	s.dispatch(context.Background(), channelStudents, `{"operation":"TRUNCATE","id":1}`)   // unknown op
	s.dispatch(context.Background(), channelProfiles, `{"operation":"INSERT"}`)            // missing id

	stats := c.Stats()
	if stats.EventsDropped != 4 {
		t.Errorf("EventsDropped = %d, want 4", stats.EventsDropped)
	}
	if stats.EventsProcessed != 0 {
		t.Errorf("EventsProcessed = %d, want 0", stats.EventsProcessed)
	}
}

func TestDispatch_RoutesByChannel(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCache(t, repo)
	s := &Subscriber{cache: c}

	seedStudent(repo, 9001, "test1@cache.test")
	s.dispatch(context.Background(), channelStudents, `{"operation":"INSERT","id":9001}`)

	if _, ok := c.Student("test1@cache.test"); !ok {
		t.Error("students_changes INSERT must land in the student store")
	}
}
