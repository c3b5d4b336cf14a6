package cache

import (
	"sort"
	"strconv"

	"github.com/edulink/profile-cache/internal/domain"
)

// Resolution is the answer to "what applies to this student right now".
// ActiveSessions and ActiveRules carry the detail the tracker intake reuses,
// so resolution happens once per tracked read.
type Resolution struct {
	Email          string            `json:"email"`
	Student        *domain.Student   `json:"student,omitempty"`
	ProfileIDs     []int64           `json:"profile_ids"`
	ActiveSessions []*domain.Session `json:"active_sessions,omitempty"`
	ActiveRules    []*domain.Rule    `json:"active_rules,omitempty"`
	Tracking       bool              `json:"tracking"`
}

// SessionProfileIDs returns the set of profile ids attached to the active
// sessions. The tracker uses it to let sessions win over rules.
func (r *Resolution) SessionProfileIDs() map[int64]struct{} {
	set := make(map[int64]struct{}, len(r.ActiveSessions))
	for _, s := range r.ActiveSessions {
		if s.ProfileID != 0 {
			set[s.ProfileID] = struct{}{}
		}
	}
	return set
}

// Resolve computes the deduplicated set of profile ids currently in force
// for an email: profiles attached to active sessions, united with profiles
// attached to active rules matching any scope value derivable from the
// student or their active sessions (wildcards included).
//
// Each lookup reads the current published bucket independently; no global
// snapshot is taken. Every source is monotonic under eventual consistency
// with the database, so mixing immediately adjacent moments is acceptable.
func (c *Cache) Resolve(email string) Resolution {
	now := c.now()
	p := c.projection()

	res := Resolution{Email: email}
	if st, ok := p.store.emails.get(email); ok {
		res.Student = st
	}

	for _, s := range c.SessionsForEmail(email) {
		if s.ActiveAt(now) {
			res.ActiveSessions = append(res.ActiveSessions, s)
		}
	}

	profileSet := make(map[int64]struct{})
	for _, s := range res.ActiveSessions {
		if s.ProfileID != 0 {
			profileSet[s.ProfileID] = struct{}{}
		}
	}

	// Scope values derived from the student record and the active sessions,
	// plus the wildcard "" for every scope.
	values := c.ruleInputs(res.Student, res.ActiveSessions)
	for _, scope := range domain.AllRuleScopes {
		for value := range values[scope] {
			for _, r := range p.indexes.rules.get(scope, value) {
				if !r.ActiveAt(now) {
					continue
				}
				res.ActiveRules = append(res.ActiveRules, r)
				profileSet[r.ProfileID] = struct{}{}
			}
		}
	}

	res.ProfileIDs = make([]int64, 0, len(profileSet))
	for id := range profileSet {
		res.ProfileIDs = append(res.ProfileIDs, id)
	}
	sort.Slice(res.ProfileIDs, func(i, j int) bool { return res.ProfileIDs[i] < res.ProfileIDs[j] })

	for _, id := range res.ProfileIDs {
		if pr, ok := p.store.profiles.get(id); ok && pr.TrackingEnabled {
			res.Tracking = true
			break
		}
	}
	return res
}

// ruleInputs collects, per scope, every value the student could match. The
// wildcard key "" is always present so wildcard rules apply to everyone.
func (c *Cache) ruleInputs(st *domain.Student, sessions []*domain.Session) map[domain.RuleScope]map[string]struct{} {
	values := make(map[domain.RuleScope]map[string]struct{}, len(domain.AllRuleScopes))
	for _, scope := range domain.AllRuleScopes {
		values[scope] = map[string]struct{}{"": {}}
	}

	addInt := func(scope domain.RuleScope, v int64) {
		if v != 0 {
			values[scope][strconv.FormatInt(v, 10)] = struct{}{}
		}
	}
	addStr := func(scope domain.RuleScope, v string) {
		if v != "" {
			values[scope][v] = struct{}{}
		}
	}

	if st != nil {
		addInt(domain.ScopeStudent, st.ID)
		addInt(domain.ScopeSchool, st.SchoolID)
		addStr(domain.ScopeGrade, st.Grade)
		addInt(domain.ScopeClass, st.ClassID)
	}
	for _, s := range sessions {
		addInt(domain.ScopeStudent, s.StudentID)
		addInt(domain.ScopeSchool, s.SchoolID)
		addStr(domain.ScopeGrade, s.Grade)
		addInt(domain.ScopeClass, s.ClassID)
	}
	return values
}
