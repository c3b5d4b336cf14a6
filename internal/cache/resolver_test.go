package cache

import (
	"context"
	"testing"
	"time"

	"github.com/edulink/profile-cache/internal/domain"
)

func int64sEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolve_ActiveSessionProfile(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	repo.setProfile(&domain.Profile{ID: 9001, Name: "default"})
	seedSession(repo, 9001, 9001, 9001, fixedNow.Add(-5*time.Minute), fixedNow.Add(time.Hour))
	c := newTestCache(t, repo)

	res := c.Resolve("test1@cache.test")
	if !int64sEqual(res.ProfileIDs, []int64{9001}) {
		t.Errorf("ProfileIDs = %v, want [9001]", res.ProfileIDs)
	}
	if len(res.ActiveSessions) != 1 {
		t.Errorf("ActiveSessions = %d, want 1", len(res.ActiveSessions))
	}
}

func TestResolve_EndedSessionYieldsNothing(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9002, "test2@cache.test")
	seedSession(repo, 9002, 9002, 9001, fixedNow.Add(-2*time.Hour), fixedNow.Add(-time.Hour))
	c := newTestCache(t, repo)

	res := c.Resolve("test2@cache.test")
	if len(res.ProfileIDs) != 0 {
		t.Errorf("ProfileIDs = %v, want empty for an ended session", res.ProfileIDs)
	}
}

func TestResolve_SchoolRuleProfile(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9004, "test4@cache.test")
	repo.setProfile(&domain.Profile{ID: 9002})
	repo.setRule(&domain.Rule{ID: 1, Scope: domain.ScopeSchool, ScopeValue: "1",
		StartTime: fixedNow.Add(-24 * time.Hour), EndTime: fixedNow.Add(24 * time.Hour), ProfileID: 9002})
	c := newTestCache(t, repo)

	res := c.Resolve("test4@cache.test")
	if !int64sEqual(res.ProfileIDs, []int64{9002}) {
		t.Errorf("ProfileIDs = %v, want [9002]", res.ProfileIDs)
	}
	if len(res.ActiveRules) != 1 {
		t.Errorf("ActiveRules = %d, want 1", len(res.ActiveRules))
	}
}

func TestResolve_WildcardRuleAppliesToEveryone(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	repo.setStudent(&domain.Student{ID: 9005, Email: "other@cache.test", SchoolID: 99})
	repo.setRule(&domain.Rule{ID: 1, Scope: domain.ScopeSchool, ScopeValue: "",
		StartTime: fixedNow.Add(-time.Hour), EndTime: fixedNow.Add(time.Hour), ProfileID: 9100})
	c := newTestCache(t, repo)

	for _, email := range []string{"test1@cache.test", "other@cache.test"} {
		res := c.Resolve(email)
		found := false
		for _, id := range res.ProfileIDs {
			if id == 9100 {
				found = true
			}
		}
		if !found {
			t.Errorf("Resolve(%q).ProfileIDs = %v, want to contain 9100", email, res.ProfileIDs)
		}
	}
}

func TestResolve_UnionAndDedup(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	repo.setProfile(&domain.Profile{ID: 9001})
	repo.setProfile(&domain.Profile{ID: 9002})
	// Session and rule both deliver 9001; the rule also delivers 9002.
	seedSession(repo, 1, 9001, 9001, fixedNow.Add(-5*time.Minute), fixedNow.Add(time.Hour))
	repo.setRule(&domain.Rule{ID: 1, Scope: domain.ScopeSchool, ScopeValue: "1",
		StartTime: fixedNow.Add(-time.Hour), EndTime: fixedNow.Add(time.Hour), ProfileID: 9001})
	repo.setRule(&domain.Rule{ID: 2, Scope: domain.ScopeGrade, ScopeValue: "8",
		StartTime: fixedNow.Add(-time.Hour), EndTime: fixedNow.Add(time.Hour), ProfileID: 9002})
	c := newTestCache(t, repo)

	res := c.Resolve("test1@cache.test")
	if !int64sEqual(res.ProfileIDs, []int64{9001, 9002}) {
		t.Errorf("ProfileIDs = %v, want deduplicated sorted [9001 9002]", res.ProfileIDs)
	}
}

func TestResolve_InclusiveIntervalEnds(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	// Rule ending exactly now is still active; session starting exactly now
	// is already active.
	repo.setRule(&domain.Rule{ID: 1, Scope: domain.ScopeSchool, ScopeValue: "1",
		StartTime: fixedNow.Add(-time.Hour), EndTime: fixedNow, ProfileID: 7})
	seedSession(repo, 1, 9001, 8, fixedNow, fixedNow.Add(time.Hour))
	c := newTestCache(t, repo)

	res := c.Resolve("test1@cache.test")
	if !int64sEqual(res.ProfileIDs, []int64{7, 8}) {
		t.Errorf("ProfileIDs = %v, want [7 8]: both interval ends are inclusive", res.ProfileIDs)
	}
}

func TestResolve_UnknownEmailStillMatchesWildcards(t *testing.T) {
	repo := newFakeRepo()
	repo.setRule(&domain.Rule{ID: 1, Scope: domain.ScopeClass, ScopeValue: "",
		StartTime: fixedNow.Add(-time.Hour), EndTime: fixedNow.Add(time.Hour), ProfileID: 11})
	c := newTestCache(t, repo)

	res := c.Resolve("ghost@cache.test")
	if res.Student != nil {
		t.Error("unknown email must resolve without a student record")
	}
	if !int64sEqual(res.ProfileIDs, []int64{11}) {
		t.Errorf("ProfileIDs = %v, want wildcard [11]", res.ProfileIDs)
	}
}

func TestResolve_TrackingFlag(t *testing.T) {
	repo := newFakeRepo()
	seedStudent(repo, 9001, "test1@cache.test")
	repo.setProfile(&domain.Profile{ID: 9001, TrackingEnabled: false})
	seedSession(repo, 1, 9001, 9001, fixedNow.Add(-5*time.Minute), fixedNow.Add(time.Hour))
	c := newTestCache(t, repo)

	if res := c.Resolve("test1@cache.test"); res.Tracking {
		t.Error("Tracking = true with no tracking-enabled profile")
	}

	repo.setProfile(&domain.Profile{ID: 9001, TrackingEnabled: true})
	if err := c.ApplyProfileChange(context.Background(), domain.ChangeEvent{Operation: domain.OpUpdate, ID: 9001}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if res := c.Resolve("test1@cache.test"); !res.Tracking {
		t.Error("Tracking = false with a tracking-enabled profile resolved")
	}
}

func TestResolution_SessionProfileIDs(t *testing.T) {
	res := Resolution{ActiveSessions: []*domain.Session{
		{ID: 1, ProfileID: 5},
		{ID: 2, ProfileID: 0},
		{ID: 3, ProfileID: 5},
	}}
	set := res.SessionProfileIDs()
	if len(set) != 1 {
		t.Fatalf("set size = %d, want 1", len(set))
	}
	if _, ok := set[5]; !ok {
		t.Error("set must contain profile 5")
	}
}
