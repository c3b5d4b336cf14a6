package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edulink/profile-cache/internal/domain"
)

const sessionColumns = `
	id, COALESCE(title, ''), start_time, end_time, student_id,
	COALESCE(class_id, 0), COALESCE(teacher_id, 0), COALESCE(school_id, 0),
	COALESCE(teacher_session_id, 0), COALESCE(grade, ''), COALESCE(profile_id, 0),
	COALESCE(is_active, false), COALESCE(percentage, 0)`

func scanSession(row interface{ Scan(...interface{}) error }) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.Title, &s.StartTime, &s.EndTime, &s.StudentID,
		&s.ClassID, &s.TeacherID, &s.SchoolID,
		&s.TeacherSessionID, &s.Grade, &s.ProfileID,
		&s.IsActive, &s.Percentage)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Sessions loads the sessions starting within [from, to). The student email
// is denormalized from the cached students, not read here.
func (r *Repo) Sessions(ctx context.Context, from, to time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+sessionColumns+` FROM sessions WHERE start_time >= $1 AND start_time < $2`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Session fetches one session by id, constrained to the start window;
// (nil, nil) when the row is gone or starts outside it.
func (r *Repo) Session(ctx context.Context, id int64, from, to time.Time) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT`+sessionColumns+` FROM sessions WHERE id = $1 AND start_time >= $2 AND start_time < $3`,
		id, from, to))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return s, nil
}
