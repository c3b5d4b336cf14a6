package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/edulink/profile-cache/internal/domain"
)

// Profiles loads every profile with its programs and its category tree, the
// per-profile active mask already applied. Three queries: base rows, program
// rows, then one flattened hierarchy join assembled in memory.
func (r *Repo) Profiles(ctx context.Context) ([]*domain.Profile, error) {
	profiles, byID, err := r.profileRows(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return profiles, nil
	}
	if err := r.attachPrograms(ctx, 0, byID); err != nil {
		return nil, err
	}
	if err := r.attachCategories(ctx, 0, byID); err != nil {
		return nil, err
	}
	return profiles, nil
}

// Profile fetches one profile with its full hierarchy, or (nil, nil) when
// the row is gone.
func (r *Repo) Profile(ctx context.Context, id int64) (*domain.Profile, error) {
	profiles, byID, err := r.profileRows(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	if err := r.attachPrograms(ctx, id, byID); err != nil {
		return nil, err
	}
	if err := r.attachCategories(ctx, id, byID); err != nil {
		return nil, err
	}
	return profiles[0], nil
}

// profileRows loads base profile rows. id 0 means all profiles.
func (r *Repo) profileRows(ctx context.Context, id int64) ([]*domain.Profile, map[int64]*domain.Profile, error) {
	q := `
		SELECT id, COALESCE(name, ''), COALESCE(teacher_id, 0), COALESCE(school_id, 0),
		       COALESCE(is_whitelist_url, false), COALESCE(tracking_enabled, false),
		       COALESCE(domains, '{}')
		FROM profiles`
	var args []interface{}
	if id != 0 {
		q += ` WHERE id = $1`
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	var out []*domain.Profile
	byID := make(map[int64]*domain.Profile)
	for rows.Next() {
		p := &domain.Profile{}
		if err := rows.Scan(&p.ID, &p.Name, &p.TeacherID, &p.SchoolID,
			&p.IsWhitelistURL, &p.TrackingEnabled, pq.Array(&p.Domains)); err != nil {
			return nil, nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
		byID[p.ID] = p
	}
	return out, byID, rows.Err()
}

func (r *Repo) attachPrograms(ctx context.Context, id int64, byID map[int64]*domain.Profile) error {
	q := `SELECT profile_id, program FROM profiles_programs`
	var args []interface{}
	if id != 0 {
		q += ` WHERE profile_id = $1`
		args = append(args, id)
	}
	q += ` ORDER BY profile_id, id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("load profile programs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var profileID int64
		var program string
		if err := rows.Scan(&profileID, &program); err != nil {
			return fmt.Errorf("scan profile program: %w", err)
		}
		if p, ok := byID[profileID]; ok {
			p.Programs = append(p.Programs, program)
		}
	}
	return rows.Err()
}

// attachCategories builds each profile's category tree. Activity composes
// three sources: the category link's own is_active flag, absence from
// profile_inactive_subcategories, and absence from profile_inactive_urls.
func (r *Repo) attachCategories(ctx context.Context, id int64, byID map[int64]*domain.Profile) error {
	q := `
		SELECT pc.profile_id, c.id, c.name, COALESCE(pc.is_active, false),
		       s.id, s.name, (pis.subcategory_id IS NULL),
		       u.id, u.url, (piu.url_id IS NULL)
		FROM profiles_categories pc
		JOIN url_categories c ON c.id = pc.category_id
		LEFT JOIN url_subcategories s ON s.category_id = c.id
		LEFT JOIN urls u ON u.subcategory_id = s.id
		LEFT JOIN profile_inactive_subcategories pis
		       ON pis.profile_id = pc.profile_id AND pis.subcategory_id = s.id
		LEFT JOIN profile_inactive_urls piu
		       ON piu.profile_id = pc.profile_id AND piu.url_id = u.id`
	var args []interface{}
	if id != 0 {
		q += ` WHERE pc.profile_id = $1`
		args = append(args, id)
	}
	q += ` ORDER BY pc.profile_id, c.id, s.id, u.id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("load profile categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			profileID, catID     int64
			catName              string
			catActive            bool
			subID, urlID         sql.NullInt64
			subName, urlValue    sql.NullString
			subActive, urlActive sql.NullBool
		)
		if err := rows.Scan(&profileID, &catID, &catName, &catActive,
			&subID, &subName, &subActive, &urlID, &urlValue, &urlActive); err != nil {
			return fmt.Errorf("scan profile category row: %w", err)
		}

		p, ok := byID[profileID]
		if !ok {
			continue
		}

		// Rows arrive ordered, so the tail of each level is the open node.
		if n := len(p.Categories); n == 0 || p.Categories[n-1].ID != catID {
			p.Categories = append(p.Categories, domain.Category{
				ID: catID, Name: catName, IsActive: catActive,
			})
		}
		cat := &p.Categories[len(p.Categories)-1]

		if !subID.Valid {
			continue
		}
		if n := len(cat.Subcategories); n == 0 || cat.Subcategories[n-1].ID != subID.Int64 {
			cat.Subcategories = append(cat.Subcategories, domain.Subcategory{
				ID: subID.Int64, Name: subName.String, IsActive: subActive.Bool,
			})
		}
		sub := &cat.Subcategories[len(cat.Subcategories)-1]

		if !urlID.Valid {
			continue
		}
		sub.URLs = append(sub.URLs, domain.CategoryURL{
			ID: urlID.Int64, URL: urlValue.String, IsActive: urlActive.Bool,
		})
	}
	return rows.Err()
}
