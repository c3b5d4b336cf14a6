package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/edulink/profile-cache/internal/cache"
)

// HealthStatus represents the overall health of the service.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes the two things the service cannot live without: the
// database and a completed initial load.
type HealthChecker struct {
	db        *sql.DB
	cache     *cache.Cache
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker. db may be nil; the check then
// reports "not configured" instead of failing.
func NewHealthChecker(db *sql.DB, c *cache.Cache) *HealthChecker {
	return &HealthChecker{db: db, cache: c, startTime: time.Now()}
}

const healthVersion = "1.0.0"

// HandleHealth returns the health status of all components. Always 200; the
// status field in the body conveys health. Probes that need a 503 should use
// /health/ready.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	respondJSON(w, http.StatusOK, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 200 only when the service can serve correct
// answers: the database reachable and the projection loaded at least once.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	httpStatus := http.StatusOK
	if overall == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	respondJSON(w, httpStatus, map[string]interface{}{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	return map[string]ComponentCheck{
		"database": hc.checkDatabase(ctx),
		"cache":    hc.checkCache(),
	}
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	status := "up"
	msg := "connected"
	if latency > time.Second {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkCache verifies the projection has been loaded. A projection that has
// never loaded means every read answers from empty maps.
func (hc *HealthChecker) checkCache() ComponentCheck {
	stats := hc.cache.Stats()
	if stats.LastLoadedAt.IsZero() {
		return ComponentCheck{Status: "down", Message: "initial load not completed"}
	}

	age := time.Since(stats.LastLoadedAt)
	return ComponentCheck{
		Status: "up",
		Message: fmt.Sprintf("%d students, %d profiles, %d rules, %d sessions, loaded %s ago",
			stats.Students, stats.Profiles, stats.Rules, stats.Sessions, age.Round(time.Second)),
	}
}

// determineOverallStatus derives the aggregate status. The database and the
// initial load are both hard dependencies.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	for _, c := range checks {
		if c.Status == "down" && c.Message != "not configured" {
			return "unhealthy"
		}
	}
	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
	}
	return "healthy"
}

// HandleDBStats returns raw database/sql pool statistics for diagnostics.
//
//	GET /health/db
func (hc *HealthChecker) HandleDBStats(w http.ResponseWriter, r *http.Request) {
	if hc.db == nil {
		respondError(w, http.StatusOK, "no database configured")
		return
	}
	stats := hc.db.Stats()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	pingErr := ""
	pingStart := time.Now()
	if err := hc.db.PingContext(ctx); err != nil {
		pingErr = err.Error()
	}
	pingLatency := time.Since(pingStart)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pool": map[string]interface{}{
			"max_open":      stats.MaxOpenConnections,
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    stats.WaitCount,
			"wait_duration": stats.WaitDuration.String(),
		},
		"ping": map[string]interface{}{
			"latency": pingLatency.String(),
			"error":   pingErr,
		},
	})
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
