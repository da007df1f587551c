package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnrolRequest describes one role assignment to create through an
// enrolment instance.
type EnrolRequest struct {
	EnrolID   int64
	CourseID  int64
	UserID    int64
	RoleID    int64
	Component string
	Source    string
	TimeStart int64 // unix seconds
	TimeEnd   int64 // 0 = open-ended
}

// EnrolInstance returns the id of the component's enrolment instance for a
// course, or ErrNotFound.
func (s *Store) EnrolInstance(ctx context.Context, courseID int64, component string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM enrol WHERE courseid = ? AND enrol = ?
	`, courseID, component).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get enrol instance: %w", err)
	}
	return id, nil
}

// EnsureEnrolInstance returns the component's enrolment instance for a
// course, creating it when none exists.
// Returns the id and whether a new instance was created.
func (s *Store) EnsureEnrolInstance(ctx context.Context, courseID int64, component string) (id int64, created bool, err error) {
	err = retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO enrol (courseid, enrol) VALUES (?, ?)
			ON CONFLICT(courseid, enrol) DO NOTHING
		`, courseID, component)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("ensure enrol instance: %w", err)
	}

	id, err = s.EnrolInstance(ctx, courseID, component)
	if err != nil {
		return 0, false, fmt.Errorf("ensure enrol instance: %w", err)
	}
	return id, created, nil
}

// Enrol creates the user enrolment (if absent) and the owned role
// assignment in one transaction. Repeating a request is a no-op.
func (s *Store) Enrol(ctx context.Context, req EnrolRequest) error {
	return retryOnContention(func() error {
		return s.enrol(ctx, req)
	})
}

func (s *Store) enrol(ctx context.Context, req EnrolRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("enrol: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_enrolments (enrolid, userid, timestart, timeend)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(enrolid, userid) DO NOTHING
	`, req.EnrolID, req.UserID, req.TimeStart, req.TimeEnd)
	if err != nil {
		return fmt.Errorf("enrol: insert user enrolment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO role_assignments (courseid, userid, roleid, component, itemid, source, timemodified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(courseid, userid, roleid, component, itemid) DO NOTHING
	`, req.CourseID, req.UserID, req.RoleID, req.Component, req.EnrolID, req.Source, req.TimeStart)
	if err != nil {
		return fmt.Errorf("enrol: insert role assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("enrol: commit: %w", err)
	}
	return nil
}

// CountRoleAssignments counts every role the user holds in the course,
// whatever component granted it.
func (s *Store) CountRoleAssignments(ctx context.Context, courseID, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM role_assignments WHERE courseid = ? AND userid = ?
	`, courseID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count role assignments: %w", err)
	}
	return n, nil
}

// CountOwnedRoles counts the roles the component granted the user through
// one enrolment instance.
func (s *Store) CountOwnedRoles(ctx context.Context, courseID, userID int64, component string, enrolID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM role_assignments
		WHERE courseid = ? AND userid = ? AND component = ? AND itemid = ?
	`, courseID, userID, component, enrolID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owned roles: %w", err)
	}
	return n, nil
}

// UnassignRole removes one owned role assignment and leaves the user
// enrolment in place.
func (s *Store) UnassignRole(ctx context.Context, courseID, userID, roleID int64, component string, enrolID int64) error {
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM role_assignments
			WHERE courseid = ? AND userid = ? AND roleid = ? AND component = ? AND itemid = ?
		`, courseID, userID, roleID, component, enrolID)
		return err
	})
	if err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	return nil
}

// Unenrol removes the user's enrolment through one instance together with
// every role assignment that instance granted. Group memberships in the
// course are dropped when the user has no other enrolment there.
func (s *Store) Unenrol(ctx context.Context, enrolID, courseID, userID int64, component string) error {
	return retryOnContention(func() error {
		return s.unenrol(ctx, enrolID, courseID, userID, component)
	})
}

func (s *Store) unenrol(ctx context.Context, enrolID, courseID, userID int64, component string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unenrol: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM role_assignments
		WHERE courseid = ? AND userid = ? AND component = ? AND itemid = ?
	`, courseID, userID, component, enrolID); err != nil {
		return fmt.Errorf("unenrol: delete role assignments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_enrolments WHERE enrolid = ? AND userid = ?
	`, enrolID, userID); err != nil {
		return fmt.Errorf("unenrol: delete user enrolment: %w", err)
	}

	// Group memberships go only once no enrolment in the course remains.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_members
		WHERE userid = ?
		AND groupid IN (SELECT id FROM course_groups WHERE courseid = ?)
		AND NOT EXISTS (
			SELECT 1 FROM user_enrolments ue
			INNER JOIN enrol e ON e.id = ue.enrolid
			WHERE e.courseid = ? AND ue.userid = ?
		)
	`, userID, courseID, courseID, userID); err != nil {
		return fmt.Errorf("unenrol: delete group memberships: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unenrol: commit: %w", err)
	}
	return nil
}
