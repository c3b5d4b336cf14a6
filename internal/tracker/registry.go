package tracker

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edulink/profile-cache/internal/config"
	"github.com/edulink/profile-cache/internal/domain"
)

// AggregateStore persists the per-session attendance aggregate. Only the
// aggregate columns are written; everything else on the row belongs to the
// upstream system.
type AggregateStore interface {
	UpdateSessionAggregate(ctx context.Context, sessionID int64, isActive bool, percentage float64) error
}

// SessionTracker aggregates one teaching session. TotalMinutes is fixed at
// creation from the session's scheduled span and is the denominator for every
// per-student percentage.
type SessionTracker struct {
	SessionID    int64
	TeacherID    int64
	Title        string
	StartTime    time.Time
	EndTime      time.Time
	TotalMinutes int

	mu              sync.RWMutex
	students        map[string]*MinuteTracker
	persistAttempts int
}

func newSessionTracker(s *domain.Session) *SessionTracker {
	return &SessionTracker{
		SessionID:    s.ID,
		TeacherID:    s.TeacherID,
		Title:        s.Title,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		TotalMinutes: domain.MinutesBetween(s.StartTime, s.EndTime),
		students:     make(map[string]*MinuteTracker),
	}
}

func (st *SessionTracker) student(email string) *MinuteTracker {
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.students[email]
	if !ok {
		t = NewMinuteTracker()
		st.students[email] = t
	}
	return t
}

func (st *SessionTracker) snapshot() map[string]*MinuteTracker {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]*MinuteTracker, len(st.students))
	for email, t := range st.students {
		out[email] = t
	}
	return out
}

// RuleTracker aggregates attendance under one rule context (a school, a grade
// within a school, or a class within a school). Unlike sessions, rule
// contexts have no natural end, so staleness evicts them.
type RuleTracker struct {
	Key      string
	SchoolID int64

	mu           sync.RWMutex
	students     map[string]*MinuteTracker
	lastActivity atomic.Int64 // unix seconds
}

func newRuleTracker(key string, schoolID int64) *RuleTracker {
	return &RuleTracker{
		Key:      key,
		SchoolID: schoolID,
		students: make(map[string]*MinuteTracker),
	}
}

func (rt *RuleTracker) student(email string) *MinuteTracker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t, ok := rt.students[email]
	if !ok {
		t = NewMinuteTracker()
		rt.students[email] = t
	}
	return t
}

func (rt *RuleTracker) snapshot() map[string]*MinuteTracker {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make(map[string]*MinuteTracker, len(rt.students))
	for email, t := range rt.students {
		out[email] = t
	}
	return out
}

// Registry owns every live tracker plus the reverse indexes the read API
// needs. All map structure is guarded by one RWMutex; the hot path (a
// heartbeat for an already-known tracker) takes it only for reads.
type Registry struct {
	cfg   config.TrackerConfig
	store AggregateStore
	now   func() time.Time

	mu        sync.RWMutex
	sessions  map[int64]*SessionTracker
	rules     map[string]*RuleTracker
	byStudent map[string]map[int64]struct{} // email -> session ids
	byTeacher map[int64]map[int64]struct{}  // teacher id -> session ids
	bySchool  map[int64]map[string]struct{} // school id -> rule context keys

	rotations       atomic.Uint64
	persistFailures atomic.Uint64
}

// NewRegistry builds an empty registry. The aggregate store may be nil in
// tests that never reach persistence.
func NewRegistry(store AggregateStore, cfg config.TrackerConfig) *Registry {
	return &Registry{
		cfg:       cfg,
		store:     store,
		now:       time.Now,
		sessions:  make(map[int64]*SessionTracker),
		rules:     make(map[string]*RuleTracker),
		byStudent: make(map[string]map[int64]struct{}),
		byTeacher: make(map[int64]map[int64]struct{}),
		bySchool:  make(map[int64]map[string]struct{}),
	}
}

// Record registers one heartbeat for a student across everything currently
// applying to them. Sessions win over rules: a rule whose profile is already
// delivered by an active session produces no rule-context heartbeat, so the
// student is not double counted for the same restriction.
func (r *Registry) Record(student *domain.Student, email string, sessions []*domain.Session, rules []*domain.Rule) {
	if student == nil || email == "" {
		return
	}

	sessionProfiles := make(map[int64]struct{}, len(sessions))
	for _, s := range sessions {
		if s.ProfileID != 0 {
			sessionProfiles[s.ProfileID] = struct{}{}
		}
	}

	for _, s := range sessions {
		st := r.sessionTracker(s, email)
		st.student(email).RecordHeartbeat()
	}

	nowUnix := r.now().Unix()
	for _, rule := range rules {
		if _, covered := sessionProfiles[rule.ProfileID]; covered {
			continue
		}
		key, schoolID, ok := ruleContextKey(rule, student)
		if !ok {
			continue
		}
		rt := r.ruleTracker(key, schoolID)
		rt.lastActivity.Store(nowUnix)
		rt.student(email).RecordHeartbeat()
	}
}

// ruleContextKey maps a rule to its tracker context. Wildcard rules take the
// value from the student's own record; a rule whose value cannot be filled in
// (student scope, or a student missing the attribute) yields no context.
func ruleContextKey(rule *domain.Rule, st *domain.Student) (key string, schoolID int64, ok bool) {
	school := strconv.FormatInt(st.SchoolID, 10)

	switch rule.Scope {
	case domain.ScopeSchool:
		v := rule.ScopeValue
		if v == "" {
			if st.SchoolID == 0 {
				return "", 0, false
			}
			v = school
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			id = st.SchoolID
		}
		return "school:" + v, id, true

	case domain.ScopeGrade:
		v := rule.ScopeValue
		if v == "" {
			v = st.Grade
		}
		if v == "" || st.SchoolID == 0 {
			return "", 0, false
		}
		return "grade:" + v + ":school:" + school, st.SchoolID, true

	case domain.ScopeClass:
		v := rule.ScopeValue
		if v == "" {
			if st.ClassID == 0 {
				return "", 0, false
			}
			v = strconv.FormatInt(st.ClassID, 10)
		}
		if st.SchoolID == 0 {
			return "", 0, false
		}
		return "class:" + v + ":school:" + school, st.SchoolID, true
	}

	// Student-scope rules are per person already; the session and profile
	// resolution cover them without a shared context.
	return "", 0, false
}

func (r *Registry) sessionTracker(s *domain.Session, email string) *SessionTracker {
	r.mu.RLock()
	st, ok := r.sessions[s.ID]
	r.mu.RUnlock()
	if ok {
		r.indexSession(st, email)
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok = r.sessions[s.ID]
	if !ok {
		st = newSessionTracker(s)
		r.sessions[s.ID] = st
	}
	r.indexSessionLocked(st, email)
	return st
}

func (r *Registry) indexSession(st *SessionTracker, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexSessionLocked(st, email)
}

func (r *Registry) indexSessionLocked(st *SessionTracker, email string) {
	if r.byStudent[email] == nil {
		r.byStudent[email] = make(map[int64]struct{})
	}
	r.byStudent[email][st.SessionID] = struct{}{}

	if st.TeacherID != 0 {
		if r.byTeacher[st.TeacherID] == nil {
			r.byTeacher[st.TeacherID] = make(map[int64]struct{})
		}
		r.byTeacher[st.TeacherID][st.SessionID] = struct{}{}
	}
}

func (r *Registry) ruleTracker(key string, schoolID int64) *RuleTracker {
	r.mu.RLock()
	rt, ok := r.rules[key]
	r.mu.RUnlock()
	if ok {
		return rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok = r.rules[key]
	if !ok {
		rt = newRuleTracker(key, schoolID)
		r.rules[key] = rt
		if schoolID != 0 {
			if r.bySchool[schoolID] == nil {
				r.bySchool[schoolID] = make(map[string]struct{})
			}
			r.bySchool[schoolID][key] = struct{}{}
		}
	}
	return rt
}

// RotateAll seals the current minute on every tracker. Called from the
// registry's own top-of-minute tick; a tracker created after the snapshot is
// rotated on the next tick, which only shifts its first minute by one.
func (r *Registry) RotateAll() {
	r.mu.RLock()
	sessionTrackers := make([]*SessionTracker, 0, len(r.sessions))
	for _, st := range r.sessions {
		sessionTrackers = append(sessionTrackers, st)
	}
	ruleTrackers := make([]*RuleTracker, 0, len(r.rules))
	for _, rt := range r.rules {
		ruleTrackers = append(ruleTrackers, rt)
	}
	r.mu.RUnlock()

	for _, st := range sessionTrackers {
		for _, t := range st.snapshot() {
			t.RotateMinute()
		}
	}
	for _, rt := range ruleTrackers {
		for _, t := range rt.snapshot() {
			t.RotateMinute()
		}
	}
	r.rotations.Add(1)
}

// CleanupSessions persists and removes trackers for sessions whose scheduled
// window is over. A failed write keeps the tracker for the next pass until
// the attempt budget is spent, after which the tracker is evicted anyway so
// a broken row cannot pin memory forever.
func (r *Registry) CleanupSessions(ctx context.Context) (removed int) {
	now := r.now()

	r.mu.RLock()
	ended := make([]*SessionTracker, 0)
	for _, st := range r.sessions {
		if now.After(st.EndTime) {
			ended = append(ended, st)
		}
	}
	r.mu.RUnlock()

	for _, st := range ended {
		err := r.persistSession(ctx, st)
		if err == nil {
			r.removeSession(st)
			removed++
			continue
		}

		r.persistFailures.Add(1)
		st.mu.Lock()
		st.persistAttempts++
		attempts := st.persistAttempts
		st.mu.Unlock()

		if attempts >= r.cfg.MaxPersistAttempts {
			log.Printf("tracker: evicting session %d after %d failed persists: %v", st.SessionID, attempts, err)
			r.removeSession(st)
			removed++
		} else {
			log.Printf("tracker: persist session %d failed (attempt %d/%d): %v", st.SessionID, attempts, r.cfg.MaxPersistAttempts, err)
		}
	}
	return removed
}

// persistSession computes the session aggregate and writes it with a bounded
// deadline. A tracker that never saw a student has nothing to report and
// succeeds without a write.
func (r *Registry) persistSession(ctx context.Context, st *SessionTracker) error {
	students := st.snapshot()
	if len(students) == 0 {
		return nil
	}

	var sum float64
	active := 0
	for _, t := range students {
		sum += t.Percentage(st.TotalMinutes)
		if t.ActiveFor(st.TotalMinutes, r.cfg.ActivityThreshold) {
			active++
		}
	}
	percentage := round2(sum / float64(len(students)))
	isActive := float64(active)/float64(len(students)) > r.cfg.ActivityThreshold

	wctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout())
	defer cancel()
	if err := r.store.UpdateSessionAggregate(wctx, st.SessionID, isActive, percentage); err != nil {
		return fmt.Errorf("persist session %d aggregate: %w", st.SessionID, err)
	}
	log.Printf("tracker: persisted session %d: active=%t percentage=%.2f students=%d", st.SessionID, isActive, percentage, len(students))
	return nil
}

func (r *Registry) removeSession(st *SessionTracker) {
	emails := make([]string, 0)
	for email := range st.snapshot() {
		emails = append(emails, email)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, st.SessionID)
	for _, email := range emails {
		if set := r.byStudent[email]; set != nil {
			delete(set, st.SessionID)
			if len(set) == 0 {
				delete(r.byStudent, email)
			}
		}
	}
	if set := r.byTeacher[st.TeacherID]; set != nil {
		delete(set, st.SessionID)
		if len(set) == 0 {
			delete(r.byTeacher, st.TeacherID)
		}
	}
}

// CleanupRules drops rule contexts with no heartbeat inside the staleness
// window. Rule aggregates are never persisted; the context simply reappears
// on the next heartbeat.
func (r *Registry) CleanupRules() (removed int) {
	cutoff := r.now().Add(-r.cfg.RuleStaleness()).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rt := range r.rules {
		if rt.lastActivity.Load() >= cutoff {
			continue
		}
		delete(r.rules, key)
		if set := r.bySchool[rt.SchoolID]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(r.bySchool, rt.SchoolID)
			}
		}
		removed++
	}
	if removed > 0 {
		log.Printf("tracker: removed %d stale rule contexts", removed)
	}
	return removed
}

// Run drives rotation and the two cleanup cadences until the context is
// canceled. The first rotation is aligned to the next top of minute so
// history entries correspond to wall-clock minutes.
func (r *Registry) Run(ctx context.Context) {
	now := r.now()
	untilNextMinute := now.Truncate(time.Minute).Add(time.Minute).Sub(now)

	select {
	case <-ctx.Done():
		return
	case <-time.After(untilNextMinute):
		r.RotateAll()
	}

	rotate := time.NewTicker(time.Minute)
	defer rotate.Stop()
	sessionSweep := time.NewTicker(r.cfg.SessionCleanupInterval())
	defer sessionSweep.Stop()
	ruleSweep := time.NewTicker(r.cfg.RuleCleanupInterval())
	defer ruleSweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rotate.C:
			r.RotateAll()
		case <-sessionSweep.C:
			r.CleanupSessions(ctx)
		case <-ruleSweep.C:
			r.CleanupRules()
		}
	}
}

// Flush persists every ended session immediately. Called on shutdown so
// aggregates for sessions that finished since the last sweep are not lost.
func (r *Registry) Flush(ctx context.Context) {
	if n := r.CleanupSessions(ctx); n > 0 {
		log.Printf("tracker: flushed %d session trackers", n)
	}
}
