package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edulink/profile-cache/internal/config"
	"github.com/edulink/profile-cache/internal/domain"
)

func testTrackerConfig() config.TrackerConfig {
	return config.TrackerConfig{
		SessionCleanupMinutes: 5,
		RuleCleanupMinutes:    10,
		RuleStalenessMinutes:  30,
		ActivityThreshold:     0.8,
		PersistTimeoutSeconds: 5,
		MaxPersistAttempts:    1,
	}
}

type aggregateCall struct {
	sessionID  int64
	isActive   bool
	percentage float64
}

type fakeAggregateStore struct {
	mu    sync.Mutex
	calls []aggregateCall
	err   error
}

func (f *fakeAggregateStore) UpdateSessionAggregate(ctx context.Context, sessionID int64, isActive bool, percentage float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, aggregateCall{sessionID, isActive, percentage})
	return nil
}

func (f *fakeAggregateStore) lastCall(t *testing.T) aggregateCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no aggregate writes recorded")
	}
	return f.calls[len(f.calls)-1]
}

func testStudent() *domain.Student {
	return &domain.Student{ID: 9001, Email: "test1@cache.test", SchoolID: 1, Grade: "8", ClassID: 42}
}

func testSession(id int64, start, end time.Time) *domain.Session {
	return &domain.Session{
		ID: id, StudentID: 9001, TeacherID: 500, SchoolID: 1,
		StartTime: start, EndTime: end, ProfileID: 9001,
	}
}

func TestRegistry_RecordCreatesSessionTracker(t *testing.T) {
	reg := NewRegistry(&fakeAggregateStore{}, testTrackerConfig())
	now := time.Now()
	s := testSession(1, now.Add(-5*time.Minute), now.Add(25*time.Minute))

	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, nil)

	stats := reg.Stats()
	if stats.SessionTrackers != 1 {
		t.Fatalf("SessionTrackers = %d, want 1", stats.SessionTrackers)
	}
	if stats.TrackedStudents != 1 || stats.TrackedTeachers != 1 {
		t.Errorf("indexes: students=%d teachers=%d, want 1/1", stats.TrackedStudents, stats.TrackedTeachers)
	}

	snap, ok := reg.SessionTracking(1)
	if !ok {
		t.Fatal("session 1 should be tracked")
	}
	if snap.TotalMinutes != 30 {
		t.Errorf("TotalMinutes = %d, want 30", snap.TotalMinutes)
	}
	if ids := reg.StudentSessions("test1@cache.test"); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("StudentSessions = %v, want [1]", ids)
	}
	if snaps := reg.TeacherTracking(500); len(snaps) != 1 {
		t.Errorf("TeacherTracking returned %d sessions, want 1", len(snaps))
	}
}

func TestRegistry_SessionsWinOverRules(t *testing.T) {
	reg := NewRegistry(&fakeAggregateStore{}, testTrackerConfig())
	now := time.Now()
	s := testSession(1, now.Add(-5*time.Minute), now.Add(25*time.Minute))

	sameProfile := &domain.Rule{ID: 10, Scope: domain.ScopeSchool, ScopeValue: "1", ProfileID: 9001}
	otherProfile := &domain.Rule{ID: 11, Scope: domain.ScopeSchool, ScopeValue: "1", ProfileID: 9002}

	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, []*domain.Rule{sameProfile, otherProfile})

	stats := reg.Stats()
	if stats.SessionTrackers != 1 {
		t.Errorf("SessionTrackers = %d, want 1", stats.SessionTrackers)
	}
	// Only the rule whose profile is not already delivered by the session
	// gets a context tracker; both rules share the school:1 context, so one
	// tracker either way, but the covered rule alone must produce none.
	if stats.RuleTrackers != 1 {
		t.Errorf("RuleTrackers = %d, want 1", stats.RuleTrackers)
	}

	reg2 := NewRegistry(&fakeAggregateStore{}, testTrackerConfig())
	reg2.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, []*domain.Rule{sameProfile})
	if got := reg2.Stats().RuleTrackers; got != 0 {
		t.Errorf("RuleTrackers = %d, want 0 when the session covers the rule's profile", got)
	}
}

func TestRuleContextKey(t *testing.T) {
	st := testStudent() // school 1, grade 8, class 42

	tests := []struct {
		name     string
		rule     *domain.Rule
		wantKey  string
		wantOK   bool
		schoolID int64
	}{
		{"school literal", &domain.Rule{Scope: domain.ScopeSchool, ScopeValue: "1"}, "school:1", true, 1},
		{"school wildcard", &domain.Rule{Scope: domain.ScopeSchool}, "school:1", true, 1},
		{"grade literal", &domain.Rule{Scope: domain.ScopeGrade, ScopeValue: "8"}, "grade:8:school:1", true, 1},
		{"grade wildcard", &domain.Rule{Scope: domain.ScopeGrade}, "grade:8:school:1", true, 1},
		{"class literal", &domain.Rule{Scope: domain.ScopeClass, ScopeValue: "42"}, "class:42:school:1", true, 1},
		{"class wildcard", &domain.Rule{Scope: domain.ScopeClass}, "class:42:school:1", true, 1},
		{"student scope has no shared context", &domain.Rule{Scope: domain.ScopeStudent, ScopeValue: "9001"}, "", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, schoolID, ok := ruleContextKey(tt.rule, st)
			if ok != tt.wantOK || key != tt.wantKey || schoolID != tt.schoolID {
				t.Errorf("ruleContextKey = (%q, %d, %v), want (%q, %d, %v)",
					key, schoolID, ok, tt.wantKey, tt.schoolID, tt.wantOK)
			}
		})
	}
}

func TestRuleContextKey_MissingStudentAttributes(t *testing.T) {
	bare := &domain.Student{ID: 1, Email: "x@cache.test"} // no school, grade, class

	for _, scope := range []domain.RuleScope{domain.ScopeSchool, domain.ScopeGrade, domain.ScopeClass} {
		if _, _, ok := ruleContextKey(&domain.Rule{Scope: scope}, bare); ok {
			t.Errorf("wildcard %s rule should yield no context for a student without the attribute", scope)
		}
	}
}

// A ten-minute session where the student is present only in the first
// minute: 10% attendance, far from active.
func TestRegistry_TenMinuteSessionSingleActiveMinute(t *testing.T) {
	store := &fakeAggregateStore{}
	reg := NewRegistry(store, testTrackerConfig())

	start := time.Now().Add(-10 * time.Minute)
	s := testSession(6, start, start.Add(10*time.Minute))

	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, nil)
	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, nil)
	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, nil)
	reg.RotateAll()
	for i := 0; i < 9; i++ {
		reg.RotateAll()
	}

	if got := reg.CleanupSessions(context.Background()); got != 1 {
		t.Fatalf("CleanupSessions removed %d, want 1", got)
	}

	call := store.lastCall(t)
	if call.sessionID != 6 {
		t.Errorf("persisted session %d, want 6", call.sessionID)
	}
	if call.percentage != 10.00 {
		t.Errorf("percentage = %v, want 10.00", call.percentage)
	}
	if call.isActive {
		t.Error("isActive = true, want false")
	}

	if _, ok := reg.SessionTracking(6); ok {
		t.Error("tracker should be gone after persistence")
	}
}

func TestRegistry_CleanupSkipsOngoingSessions(t *testing.T) {
	store := &fakeAggregateStore{}
	reg := NewRegistry(store, testTrackerConfig())
	now := time.Now()

	ongoing := testSession(1, now.Add(-5*time.Minute), now.Add(25*time.Minute))
	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{ongoing}, nil)

	if got := reg.CleanupSessions(context.Background()); got != 0 {
		t.Errorf("CleanupSessions removed %d ongoing sessions, want 0", got)
	}
	if _, ok := reg.SessionTracking(1); !ok {
		t.Error("ongoing session tracker must survive cleanup")
	}
}

func TestRegistry_PersistFailureEvictsAfterAttemptBudget(t *testing.T) {
	store := &fakeAggregateStore{err: errors.New("connection refused")}
	cfg := testTrackerConfig()
	cfg.MaxPersistAttempts = 2
	reg := NewRegistry(store, cfg)

	start := time.Now().Add(-20 * time.Minute)
	s := testSession(7, start, start.Add(10*time.Minute))
	reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, nil)

	// First failure keeps the tracker for a retry.
	if got := reg.CleanupSessions(context.Background()); got != 0 {
		t.Fatalf("first failing pass removed %d, want 0", got)
	}
	if _, ok := reg.SessionTracking(7); !ok {
		t.Fatal("tracker should survive the first failed persist")
	}

	// Second failure exhausts the budget; the tracker is evicted anyway.
	if got := reg.CleanupSessions(context.Background()); got != 1 {
		t.Fatalf("second failing pass removed %d, want 1", got)
	}
	if _, ok := reg.SessionTracking(7); ok {
		t.Error("tracker must be evicted once the attempt budget is spent")
	}
	if got := reg.Stats().PersistFailures; got != 2 {
		t.Errorf("PersistFailures = %d, want 2", got)
	}
}

func TestRegistry_EmptySessionPersistsNothing(t *testing.T) {
	store := &fakeAggregateStore{}
	reg := NewRegistry(store, testTrackerConfig())

	start := time.Now().Add(-20 * time.Minute)
	st := reg.sessionTracker(testSession(8, start, start.Add(10*time.Minute)), "ignored@cache.test")
	// Simulate a tracker whose only student was never materialized.
	st.mu.Lock()
	delete(st.students, "ignored@cache.test")
	st.mu.Unlock()

	if got := reg.CleanupSessions(context.Background()); got != 1 {
		t.Fatalf("CleanupSessions removed %d, want 1", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.calls) != 0 {
		t.Errorf("expected no aggregate write for a studentless tracker, got %d", len(store.calls))
	}
}

func TestRegistry_SessionAggregateThreshold(t *testing.T) {
	store := &fakeAggregateStore{}
	reg := NewRegistry(store, testTrackerConfig())

	start := time.Now().Add(-10 * time.Minute)
	s := testSession(9, start, start.Add(10*time.Minute))

	// Five students: four fully active, one absent. 4/5 = 0.8 exactly, which
	// is not strictly greater than the threshold.
	emails := []string{"a@cache.test", "b@cache.test", "c@cache.test", "d@cache.test", "e@cache.test"}
	for minute := 0; minute < 10; minute++ {
		for _, email := range emails[:4] {
			st := &domain.Student{ID: 1, Email: email, SchoolID: 1}
			reg.Record(st, email, []*domain.Session{s}, nil)
		}
		reg.RotateAll()
	}
	// The fifth student is known to the tracker but never sent a heartbeat.
	reg.sessionTracker(s, emails[4]).student(emails[4])

	if got := reg.CleanupSessions(context.Background()); got != 1 {
		t.Fatalf("CleanupSessions removed %d, want 1", got)
	}
	call := store.lastCall(t)
	if call.isActive {
		t.Error("exactly 80% active students must not mark the session active")
	}
	if call.percentage != 80.00 {
		t.Errorf("session percentage = %v, want 80.00", call.percentage)
	}
}

func TestRegistry_RuleStaleness(t *testing.T) {
	reg := NewRegistry(&fakeAggregateStore{}, testTrackerConfig())

	rule := &domain.Rule{ID: 1, Scope: domain.ScopeSchool, ScopeValue: "1", ProfileID: 9002}
	reg.Record(testStudent(), "test1@cache.test", nil, []*domain.Rule{rule})

	if got := reg.Stats().RuleTrackers; got != 1 {
		t.Fatalf("RuleTrackers = %d, want 1", got)
	}
	if got := len(reg.SchoolRuleContexts(1)); got != 1 {
		t.Fatalf("SchoolRuleContexts(1) = %d, want 1", got)
	}

	// Fresh context survives the sweep.
	if got := reg.CleanupRules(); got != 0 {
		t.Errorf("CleanupRules removed %d fresh contexts, want 0", got)
	}

	// Move the clock past the staleness window.
	reg.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if got := reg.CleanupRules(); got != 1 {
		t.Errorf("CleanupRules removed %d, want 1", got)
	}
	if got := reg.Stats().RuleTrackers; got != 0 {
		t.Errorf("RuleTrackers = %d after sweep, want 0", got)
	}
	if got := len(reg.SchoolRuleContexts(1)); got != 0 {
		t.Errorf("SchoolRuleContexts(1) = %d after sweep, want 0", got)
	}
}

func TestRegistry_RecordIgnoresUnknownStudent(t *testing.T) {
	reg := NewRegistry(&fakeAggregateStore{}, testTrackerConfig())
	now := time.Now()
	s := testSession(1, now.Add(-5*time.Minute), now.Add(25*time.Minute))

	reg.Record(nil, "ghost@cache.test", []*domain.Session{s}, nil)

	if got := reg.Stats().SessionTrackers; got != 0 {
		t.Errorf("SessionTrackers = %d after unknown-student heartbeat, want 0", got)
	}
}

func TestRegistry_SnapshotAggregates(t *testing.T) {
	reg := NewRegistry(&fakeAggregateStore{}, testTrackerConfig())
	start := time.Now().Add(-10 * time.Minute)
	s := testSession(3, start, start.Add(10*time.Minute))

	for minute := 0; minute < 10; minute++ {
		reg.Record(testStudent(), "test1@cache.test", []*domain.Session{s}, nil)
		reg.RotateAll()
	}

	snap, ok := reg.SessionTracking(3)
	if !ok {
		t.Fatal("session 3 should be tracked")
	}
	if len(snap.Students) != 1 {
		t.Fatalf("students in snapshot = %d, want 1", len(snap.Students))
	}
	sa := snap.Students[0]
	if sa.Percentage != 100.00 || !sa.IsActive || !sa.CurrentlyActive {
		t.Errorf("student activity = %+v, want fully active", sa)
	}
	if sa.TotalActiveMinutes != 10 {
		t.Errorf("TotalActiveMinutes = %d, want 10", sa.TotalActiveMinutes)
	}
	if snap.Percentage != 100.00 || !snap.IsActive {
		t.Errorf("session aggregate = (%v, %v), want (100.00, true)", snap.Percentage, snap.IsActive)
	}
}
