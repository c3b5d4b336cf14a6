package tracker

import (
	"sort"
	"time"
)

// StudentActivity is the per-student view of a tracker, shaped for the API.
type StudentActivity struct {
	Email              string  `json:"email"`
	CurrentlyActive    bool    `json:"currently_active"`
	LastThreeMinutes   []int   `json:"last_three_minutes"`
	TotalActiveMinutes int     `json:"total_active_minutes"`
	Percentage         float64 `json:"percentage"`
	IsActive           bool    `json:"is_active"`
}

// SessionSnapshot is a point-in-time view of one session tracker.
type SessionSnapshot struct {
	SessionID    int64             `json:"session_id"`
	TeacherID    int64             `json:"teacher_id"`
	Title        string            `json:"title,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	TotalMinutes int               `json:"total_minutes"`
	IsActive     bool              `json:"is_active"`
	Percentage   float64           `json:"percentage"`
	Students     []StudentActivity `json:"students"`
}

// RuleSnapshot is a point-in-time view of one rule-context tracker.
type RuleSnapshot struct {
	Key          string    `json:"key"`
	SchoolID     int64     `json:"school_id"`
	LastActivity time.Time `json:"last_activity"`
	Students     int       `json:"students"`
}

// Stats summarizes the registry for the monitoring endpoint.
type Stats struct {
	SessionTrackers int    `json:"session_trackers"`
	RuleTrackers    int    `json:"rule_trackers"`
	TrackedStudents int    `json:"tracked_students"`
	TrackedTeachers int    `json:"tracked_teachers"`
	TrackedSchools  int    `json:"tracked_schools"`
	Rotations       uint64 `json:"rotations"`
	PersistFailures uint64 `json:"persist_failures"`
}

// Stats returns current registry counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		SessionTrackers: len(r.sessions),
		RuleTrackers:    len(r.rules),
		TrackedStudents: len(r.byStudent),
		TrackedTeachers: len(r.byTeacher),
		TrackedSchools:  len(r.bySchool),
		Rotations:       r.rotations.Load(),
		PersistFailures: r.persistFailures.Load(),
	}
}

// SessionTracking returns the snapshot for one session, if tracked.
func (r *Registry) SessionTracking(sessionID int64) (*SessionSnapshot, bool) {
	r.mu.RLock()
	st, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.snapshotSession(st), true
}

// TeacherTracking returns snapshots of every tracked session run by the
// teacher, ordered by session id for stable output.
func (r *Registry) TeacherTracking(teacherID int64) []*SessionSnapshot {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.byTeacher[teacherID]))
	for id := range r.byTeacher[teacherID] {
		ids = append(ids, id)
	}
	trackers := make([]*SessionTracker, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if st, ok := r.sessions[id]; ok {
			trackers = append(trackers, st)
		}
	}
	r.mu.RUnlock()

	out := make([]*SessionSnapshot, 0, len(trackers))
	for _, st := range trackers {
		out = append(out, r.snapshotSession(st))
	}
	return out
}

// StudentSessions returns the session ids currently tracking an email.
func (r *Registry) StudentSessions(email string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.byStudent[email]))
	for id := range r.byStudent[email] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SchoolRuleContexts returns snapshots of the rule contexts tied to a school.
func (r *Registry) SchoolRuleContexts(schoolID int64) []RuleSnapshot {
	r.mu.RLock()
	keys := make([]string, 0, len(r.bySchool[schoolID]))
	for key := range r.bySchool[schoolID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	trackers := make([]*RuleTracker, 0, len(keys))
	for _, key := range keys {
		if rt, ok := r.rules[key]; ok {
			trackers = append(trackers, rt)
		}
	}
	r.mu.RUnlock()

	out := make([]RuleSnapshot, 0, len(trackers))
	for _, rt := range trackers {
		out = append(out, RuleSnapshot{
			Key:          rt.Key,
			SchoolID:     rt.SchoolID,
			LastActivity: time.Unix(rt.lastActivity.Load(), 0),
			Students:     len(rt.snapshot()),
		})
	}
	return out
}

// snapshotSession materializes per-student views plus the session aggregate,
// computed the same way persistence computes it.
func (r *Registry) snapshotSession(st *SessionTracker) *SessionSnapshot {
	students := st.snapshot()

	snap := &SessionSnapshot{
		SessionID:    st.SessionID,
		TeacherID:    st.TeacherID,
		Title:        st.Title,
		StartTime:    st.StartTime,
		EndTime:      st.EndTime,
		TotalMinutes: st.TotalMinutes,
		Students:     make([]StudentActivity, 0, len(students)),
	}

	var sum float64
	active := 0
	for email, t := range students {
		pct := t.Percentage(st.TotalMinutes)
		isActive := t.ActiveFor(st.TotalMinutes, r.cfg.ActivityThreshold)
		sum += pct
		if isActive {
			active++
		}
		snap.Students = append(snap.Students, StudentActivity{
			Email:              email,
			CurrentlyActive:    t.IsCurrentlyActive(),
			LastThreeMinutes:   t.LastThreeMinutes(),
			TotalActiveMinutes: t.TotalActiveMinutes(),
			Percentage:         pct,
			IsActive:           isActive,
		})
	}
	sort.Slice(snap.Students, func(i, j int) bool { return snap.Students[i].Email < snap.Students[j].Email })

	if len(students) > 0 {
		snap.Percentage = round2(sum / float64(len(students)))
		snap.IsActive = float64(active)/float64(len(students)) > r.cfg.ActivityThreshold
	}
	return snap
}
