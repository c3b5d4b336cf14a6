package domain

// Profile is a restriction profile with its full category hierarchy attached.
// The hierarchy is an owned value tree: it is rebuilt whole whenever any of
// the underlying relation tables change, and nodes are never shared between
// profiles.
type Profile struct {
	ID              int64      `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	TeacherID       int64      `json:"teacher_id" db:"teacher_id"`
	SchoolID        int64      `json:"school_id" db:"school_id"`
	IsWhitelistURL  bool       `json:"is_whitelist_url" db:"is_whitelist_url"`
	TrackingEnabled bool       `json:"tracking_enabled" db:"tracking_enabled"`
	Domains         []string   `json:"domains"`
	Programs        []string   `json:"programs"`
	Categories      []Category `json:"categories"`
}

// Category activity is the composition of profiles_categories.is_active with
// the per-profile inactive-subcategory and inactive-url exclusion tables; the
// loader applies that mask before the tree reaches the cache.
type Category struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	IsActive      bool          `json:"is_active"`
	Subcategories []Subcategory `json:"subcategories"`
}

type Subcategory struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	IsActive bool          `json:"is_active"`
	URLs     []CategoryURL `json:"urls"`
}

type CategoryURL struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	IsActive bool   `json:"is_active"`
}
