// Package postgres implements the read-side projection queries and the
// single aggregate write against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Repo is the Postgres-backed repository. It owns no state beyond the pool
// handle and is safe for concurrent use.
type Repo struct{ db *sql.DB }

// NewRepo creates a repository over an existing pool.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// UpdateSessionAggregate writes the tracker's final verdict for a session.
// Exactly two columns are touched; every other column on the row belongs to
// the upstream scheduling system. A vanished row is not an error: the session
// was deleted while being tracked and there is nothing left to update.
func (r *Repo) UpdateSessionAggregate(ctx context.Context, sessionID int64, isActive bool, percentage float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = $1, percentage = $2
		WHERE id = $3
	`, isActive, percentage, sessionID)
	if err != nil {
		return fmt.Errorf("update session %d aggregate: %w", sessionID, err)
	}
	return nil
}
