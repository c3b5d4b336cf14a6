package domain

// Student is the cached projection of a students row. Students without an
// email never enter the cache; the email is the key the HTTP layer resolves
// against.
type Student struct {
	ID       int64  `json:"id" db:"id"`
	Email    string `json:"email" db:"feide_email"`
	SchoolID int64  `json:"school_id" db:"school_id"`
	Grade    string `json:"grade,omitempty" db:"grade"`
	ClassID  int64  `json:"class_id,omitempty" db:"class_id"`
}
