package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edulink/profile-cache/internal/domain"
)

// Rules loads the rules whose window intersects [from, to]. NULL scope_value
// becomes "", which is the wildcard key in the index.
func (r *Repo) Rules(ctx context.Context, from, to time.Time) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scope, COALESCE(scope_value, ''), start_time, end_time, profile_id
		FROM rules
		WHERE end_time >= $1 AND start_time <= $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		var rl domain.Rule
		if err := rows.Scan(&rl.ID, &rl.Scope, &rl.ScopeValue, &rl.StartTime, &rl.EndTime, &rl.ProfileID); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, &rl)
	}
	return out, rows.Err()
}

// Rule fetches one rule by id, constrained to the window; (nil, nil) when
// the row is gone or falls entirely outside it.
func (r *Repo) Rule(ctx context.Context, id int64, from, to time.Time) (*domain.Rule, error) {
	var rl domain.Rule
	err := r.db.QueryRowContext(ctx, `
		SELECT id, scope, COALESCE(scope_value, ''), start_time, end_time, profile_id
		FROM rules
		WHERE id = $1 AND end_time >= $2 AND start_time <= $3
	`, id, from, to).Scan(&rl.ID, &rl.Scope, &rl.ScopeValue, &rl.StartTime, &rl.EndTime, &rl.ProfileID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return &rl, nil
}
