package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edulink/profile-cache/internal/cache"
	"github.com/edulink/profile-cache/internal/domain"
	"github.com/edulink/profile-cache/internal/tracker"
)

// Handlers holds the request handlers and their dependencies.
type Handlers struct {
	cache    *cache.Cache
	registry *tracker.Registry
	health   *HealthChecker
}

// NewHandlers creates the handler set. db may be nil in tests; health checks
// then report it as not configured.
func NewHandlers(c *cache.Cache, reg *tracker.Registry, db *sql.DB) *Handlers {
	return &Handlers{
		cache:    c,
		registry: reg,
		health:   NewHealthChecker(db, c),
	}
}

// GetStats returns cache entity counts, index sizes, and event counters.
//
//	GET /api/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cache.Stats())
}

// GetSessions returns today's sessions for a student email.
//
//	GET /api/sessions/{email}
func (h *Handlers) GetSessions(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	sessions := h.cache.SessionsForEmail(email)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"email":    email,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// profilesResponse is the answer to "what applies to this student right now".
// Profiles is populated only when expand=true.
type profilesResponse struct {
	Email      string            `json:"email"`
	ProfileIDs []int64           `json:"profile_ids"`
	Tracking   bool              `json:"tracking"`
	Tracked    bool              `json:"tracked"`
	Profiles   []*domain.Profile `json:"profiles,omitempty"`
}

// GetProfiles resolves the active profile set for an email. With track=true
// the request doubles as a heartbeat, but only when at least one resolved
// profile has tracking enabled; with expand=true the full profile objects
// are inlined.
//
//	GET /api/profiles/{email}?expand=true&track=true
func (h *Handlers) GetProfiles(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	res := h.cache.Resolve(email)

	resp := profilesResponse{
		Email:      email,
		ProfileIDs: res.ProfileIDs,
		Tracking:   res.Tracking,
	}

	if r.URL.Query().Get("track") == "true" && res.Tracking {
		h.registry.Record(res.Student, email, res.ActiveSessions, res.ActiveRules)
		resp.Tracked = true
	}

	if r.URL.Query().Get("expand") == "true" {
		resp.Profiles = make([]*domain.Profile, 0, len(res.ProfileIDs))
		for _, id := range res.ProfileIDs {
			if p, ok := h.cache.Profile(id); ok {
				resp.Profiles = append(resp.Profiles, p)
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetSchoolRules returns every cached school-scope rule.
//
//	GET /api/rules/school
func (h *Handlers) GetSchoolRules(w http.ResponseWriter, r *http.Request) {
	rules := h.cache.SchoolRules()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(rules),
		"rules": rules,
	})
}

// TriggerCleanup runs a cache cleanup pass immediately.
//
//	POST /api/cleanup
func (h *Handlers) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	sessions, rules := h.cache.Cleanup()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions_removed": sessions,
		"rules_removed":    rules,
	})
}

// GetTrackingStats returns tracker registry counters.
//
//	GET /api/tracking/stats
func (h *Handlers) GetTrackingStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.Stats())
}

// GetSessionTracking returns the live tracking snapshot for one session.
//
//	GET /api/tracking/session/{sessionID}
func (h *Handlers) GetSessionTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	snap, ok := h.registry.SessionTracking(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not tracked")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GetTeacherTracking returns snapshots of every tracked session run by a
// teacher.
//
//	GET /api/tracking/teacher/{teacherID}
func (h *Handlers) GetTeacherTracking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "teacherID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid teacher id")
		return
	}
	snaps := h.registry.TeacherTracking(id)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"teacher_id": id,
		"count":      len(snaps),
		"sessions":   snaps,
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
