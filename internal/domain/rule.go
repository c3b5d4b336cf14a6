package domain

import "time"

// RuleScope enumerates what a schedule rule applies to.
type RuleScope string

const (
	ScopeStudent RuleScope = "student"
	ScopeSchool  RuleScope = "school"
	ScopeGrade   RuleScope = "grade"
	ScopeClass   RuleScope = "class"
)

// AllRuleScopes lists every scope in resolver lookup order.
var AllRuleScopes = []RuleScope{ScopeStudent, ScopeSchool, ScopeGrade, ScopeClass}

// ParseRuleScope normalizes a raw scope string from the database.
func ParseRuleScope(s string) (RuleScope, bool) {
	switch RuleScope(s) {
	case ScopeStudent, ScopeSchool, ScopeGrade, ScopeClass:
		return RuleScope(s), true
	}
	return "", false
}

// Rule attaches a profile to a scope for a time window. A ScopeValue of ""
// is a wildcard: the rule matches every entity of its scope. NULL scope
// values from the database are coerced to "" at load time, so the index
// models both identically.
type Rule struct {
	ID         int64     `json:"id" db:"id"`
	Scope      RuleScope `json:"scope" db:"scope"`
	ScopeValue string    `json:"scope_value" db:"scope_value"`
	StartTime  time.Time `json:"start_time" db:"start_time"`
	EndTime    time.Time `json:"end_time" db:"end_time"`
	ProfileID  int64     `json:"profile_id" db:"profile_id"`
}

// ActiveAt reports whether t lies within the rule's window. Both ends are
// inclusive.
func (r *Rule) ActiveAt(t time.Time) bool {
	return !t.Before(r.StartTime) && !t.After(r.EndTime)
}

// IsWildcard reports whether the rule matches every entity of its scope.
func (r *Rule) IsWildcard() bool { return r.ScopeValue == "" }
