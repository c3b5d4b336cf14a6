package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edulink/profile-cache/internal/domain"
)

const studentColumns = `
	id, COALESCE(feide_email, ''), COALESCE(school_id, 0),
	COALESCE(grade, ''), COALESCE(class_id, 0)`

// Students loads every student row. Rows without an email come back with an
// empty Email; the loader decides what to do with them.
func (r *Repo) Students(ctx context.Context) ([]*domain.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+studentColumns+` FROM students`)
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	defer rows.Close()

	var out []*domain.Student
	for rows.Next() {
		var s domain.Student
		if err := rows.Scan(&s.ID, &s.Email, &s.SchoolID, &s.Grade, &s.ClassID); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Student fetches one student by id, or (nil, nil) when the row is gone.
func (r *Repo) Student(ctx context.Context, id int64) (*domain.Student, error) {
	var s domain.Student
	err := r.db.QueryRowContext(ctx, `SELECT`+studentColumns+` FROM students WHERE id = $1`, id).
		Scan(&s.ID, &s.Email, &s.SchoolID, &s.Grade, &s.ClassID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return &s, nil
}
