package cache

import (
	"sync"

	"github.com/edulink/profile-cache/internal/domain"
)

// sessionIndex holds the two derived session indexes. Bucket slices are
// copy-on-write: a mutator publishes a new slice that includes or omits the
// session, so a reader that already grabbed a slice reference keeps a
// consistent view. Empty buckets are deleted (no empty-list keys).
type sessionIndex struct {
	mu        sync.RWMutex
	byEmail   map[string][]*domain.Session
	byProfile map[int64][]*domain.Session
}

func newSessionIndex() *sessionIndex {
	return &sessionIndex{
		byEmail:   make(map[string][]*domain.Session),
		byProfile: make(map[int64][]*domain.Session),
	}
}

// emailSessions returns the published bucket for an email, unfiltered.
// Callers apply the today filter; what is physically stored may extend into
// the forward window.
func (ix *sessionIndex) emailSessions(email string) []*domain.Session {
	ix.mu.RLock()
	list := ix.byEmail[email]
	ix.mu.RUnlock()
	return list
}

func (ix *sessionIndex) profileSessions(profileID int64) []*domain.Session {
	ix.mu.RLock()
	list := ix.byProfile[profileID]
	ix.mu.RUnlock()
	return list
}

// add indexes a session under its email and profile keys. Sessions with no
// email skip the email index; sessions with no profile skip the profile
// index. Duplicate ids are replaced, not appended.
func (ix *sessionIndex) add(s *domain.Session) {
	ix.mu.Lock()
	if s.StudentEmail != "" {
		ix.byEmail[s.StudentEmail] = replaceOrAppend(ix.byEmail[s.StudentEmail], s)
	}
	if s.ProfileID != 0 {
		ix.byProfile[s.ProfileID] = replaceOrAppend(ix.byProfile[s.ProfileID], s)
	}
	ix.mu.Unlock()
}

// removeEmail drops a session id from an email bucket, collapsing the bucket
// when it empties.
func (ix *sessionIndex) removeEmail(email string, sessionID int64) {
	if email == "" {
		return
	}
	ix.mu.Lock()
	if list, ok := ix.byEmail[email]; ok {
		if next := withoutSession(list, sessionID); len(next) == 0 {
			delete(ix.byEmail, email)
		} else {
			ix.byEmail[email] = next
		}
	}
	ix.mu.Unlock()
}

// removeProfile drops a session id from a profile bucket.
func (ix *sessionIndex) removeProfile(profileID, sessionID int64) {
	if profileID == 0 {
		return
	}
	ix.mu.Lock()
	if list, ok := ix.byProfile[profileID]; ok {
		if next := withoutSession(list, sessionID); len(next) == 0 {
			delete(ix.byProfile, profileID)
		} else {
			ix.byProfile[profileID] = next
		}
	}
	ix.mu.Unlock()
}

func (ix *sessionIndex) bucketCounts() (emails, profiles int) {
	ix.mu.RLock()
	emails, profiles = len(ix.byEmail), len(ix.byProfile)
	ix.mu.RUnlock()
	return
}

// ruleIndex is the two-level compound index scope → scopeValue → rules.
// Wildcard rules (NULL or empty scope value in the source) live under the
// "" key. Empty value buckets and empty scope maps are both removed.
type ruleIndex struct {
	mu sync.RWMutex
	m  map[domain.RuleScope]map[string][]*domain.Rule
}

func newRuleIndex() *ruleIndex {
	return &ruleIndex{m: make(map[domain.RuleScope]map[string][]*domain.Rule)}
}

func (ix *ruleIndex) get(scope domain.RuleScope, value string) []*domain.Rule {
	ix.mu.RLock()
	var list []*domain.Rule
	if inner, ok := ix.m[scope]; ok {
		list = inner[value]
	}
	ix.mu.RUnlock()
	return list
}

func (ix *ruleIndex) add(r *domain.Rule) {
	ix.mu.Lock()
	inner, ok := ix.m[r.Scope]
	if !ok {
		inner = make(map[string][]*domain.Rule)
		ix.m[r.Scope] = inner
	}
	inner[r.ScopeValue] = replaceOrAppendRule(inner[r.ScopeValue], r)
	ix.mu.Unlock()
}

func (ix *ruleIndex) remove(scope domain.RuleScope, value string, ruleID int64) {
	ix.mu.Lock()
	if inner, ok := ix.m[scope]; ok {
		if list, ok := inner[value]; ok {
			if next := withoutRule(list, ruleID); len(next) == 0 {
				delete(inner, value)
			} else {
				inner[value] = next
			}
		}
		if len(inner) == 0 {
			delete(ix.m, scope)
		}
	}
	ix.mu.Unlock()
}

// scopeRules returns every rule indexed under a scope, across all values.
func (ix *ruleIndex) scopeRules(scope domain.RuleScope) []*domain.Rule {
	ix.mu.RLock()
	var out []*domain.Rule
	for _, list := range ix.m[scope] {
		out = append(out, list...)
	}
	ix.mu.RUnlock()
	return out
}

func (ix *ruleIndex) bucketCount() int {
	ix.mu.RLock()
	n := 0
	for _, inner := range ix.m {
		n += len(inner)
	}
	ix.mu.RUnlock()
	return n
}

// indexes bundles the derived indexes of one projection.
type indexes struct {
	sessions *sessionIndex
	rules    *ruleIndex
}

func newIndexes() *indexes {
	return &indexes{sessions: newSessionIndex(), rules: newRuleIndex()}
}

// ---------------------------------------------------------------------------
// Copy-on-write slice helpers
// ---------------------------------------------------------------------------

func replaceOrAppend(list []*domain.Session, s *domain.Session) []*domain.Session {
	next := make([]*domain.Session, 0, len(list)+1)
	for _, old := range list {
		if old.ID != s.ID {
			next = append(next, old)
		}
	}
	return append(next, s)
}

func withoutSession(list []*domain.Session, id int64) []*domain.Session {
	next := make([]*domain.Session, 0, len(list))
	for _, s := range list {
		if s.ID != id {
			next = append(next, s)
		}
	}
	return next
}

func replaceOrAppendRule(list []*domain.Rule, r *domain.Rule) []*domain.Rule {
	next := make([]*domain.Rule, 0, len(list)+1)
	for _, old := range list {
		if old.ID != r.ID {
			next = append(next, old)
		}
	}
	return append(next, r)
}

func withoutRule(list []*domain.Rule, id int64) []*domain.Rule {
	next := make([]*domain.Rule, 0, len(list))
	for _, r := range list {
		if r.ID != id {
			next = append(next, r)
		}
	}
	return next
}
