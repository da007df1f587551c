package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Member is a user enrolled in a course through an owned role assignment.
type Member struct {
	UserID   int64
	Username string
}

// Category is a course category name paired with its parent's name
// ("" when the category is top-level).
type Category struct {
	Name       string
	ParentName string
}

// OwnedMembers returns the users holding a role assignment owned by
// component and attributed to source in the course, ordered by user id.
func (s *Store) OwnedMembers(ctx context.Context, courseID int64, component, source string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.username
		FROM role_assignments ra
		INNER JOIN users u ON u.id = ra.userid
		WHERE ra.courseid = ? AND ra.component = ? AND ra.source = ?
		ORDER BY u.id ASC
	`, courseID, component, source)
	if err != nil {
		return nil, fmt.Errorf("query owned members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username); err != nil {
			return nil, fmt.Errorf("scan owned member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owned members: %w", err)
	}
	return members, nil
}

// UserRoleIDs returns the distinct role ids the user holds in any course
// other than excludeCourseID.
func (s *Store) UserRoleIDs(ctx context.Context, userID, excludeCourseID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT roleid FROM role_assignments
		WHERE userid = ? AND courseid <> ?
		ORDER BY roleid ASC
	`, userID, excludeCourseID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return ids, nil
}

// UserCourseCategories returns the categories of the courses, other than
// excludeCourseID, in which the user holds any role.
func (s *Store) UserCourseCategories(ctx context.Context, userID, excludeCourseID int64) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT cc.name, COALESCE(p.name, '')
		FROM role_assignments ra
		INNER JOIN courses c ON c.id = ra.courseid
		INNER JOIN course_categories cc ON cc.id = c.category
		LEFT JOIN course_categories p ON p.id = cc.parent
		WHERE ra.userid = ? AND ra.courseid <> ?
		ORDER BY cc.name ASC
	`, userID, excludeCourseID)
	if err != nil {
		return nil, fmt.Errorf("query user categories: %w", err)
	}
	defer rows.Close()

	cats := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.ParentName); err != nil {
			return nil, fmt.Errorf("scan user category: %w", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user categories: %w", err)
	}
	return cats, nil
}

// GroupID returns the id of the course group with the given idnumber, or
// ErrNotFound.
func (s *Store) GroupID(ctx context.Context, courseID int64, key string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM course_groups WHERE courseid = ? AND idnumber = ?
	`, courseID, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get group: %w", err)
	}
	return id, nil
}

// AddGroupMember adds the user to the group unless already a member.
// Returns whether a membership row was inserted.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var added bool
	err := retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM group_members WHERE groupid = ? AND userid = ?
		`, groupID, userID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			added = false
			return tx.Commit()
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (groupid, userid) VALUES (?, ?)
		`, groupID, userID); err != nil {
			return err
		}
		added = true
		return tx.Commit()
	})
	if err != nil {
		return false, fmt.Errorf("add group member: %w", err)
	}
	return added, nil
}
