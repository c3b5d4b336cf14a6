package domain

import "time"

// Session is a teaching session. StudentEmail is denormalized from the
// Student record at index time; IsActive and Percentage are aggregates
// written back by the tracker when the session ends and are never set by
// change handlers.
type Session struct {
	ID               int64     `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	StartTime        time.Time `json:"start_time" db:"start_time"`
	EndTime          time.Time `json:"end_time" db:"end_time"`
	StudentID        int64     `json:"student_id" db:"student_id"`
	StudentEmail     string    `json:"student_email,omitempty"`
	ClassID          int64     `json:"class_id" db:"class_id"`
	TeacherID        int64     `json:"teacher_id" db:"teacher_id"`
	SchoolID         int64     `json:"school_id" db:"school_id"`
	TeacherSessionID int64     `json:"teacher_session_id" db:"teacher_session_id"`
	Grade            string    `json:"grade" db:"grade"`
	ProfileID        int64     `json:"profile_id,omitempty" db:"profile_id"` // 0 = no profile attached
	IsActive         bool      `json:"is_active" db:"is_active"`
	Percentage       float64   `json:"percentage" db:"percentage"`
}

// ActiveAt reports whether t lies within the session window, inclusive on
// both ends.
func (s *Session) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// StartsOn reports whether the session starts on the same calendar day as t.
func (s *Session) StartsOn(t time.Time) bool {
	return SameDay(s.StartTime, t)
}

// SameDay reports whether two instants fall on the same calendar day in the
// local timezone.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// MinutesBetween returns the whole minutes from start to end, never negative.
func MinutesBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Minutes())
}
