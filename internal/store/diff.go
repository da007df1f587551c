package store

import (
	"context"
	"fmt"

	"github.com/roach88/enrolsync/internal/ir"
)

// PendingAdditions returns every staged (course, user, role) triple that
// resolves to LMS ids and has no role assignment owned by component.
//
// Codes that do not resolve to a course, user or role are dropped by the
// inner joins. Triples staged by several sources collapse to one row,
// attributed to the lexically smallest source name.
//
// EnrolID is 0 when the course has no enrolment instance for component yet.
// Rows are ordered by course, role, user so callers can reuse per-course
// state across consecutive rows.
func (s *Store) PendingAdditions(ctx context.Context, component string) ([]ir.Addition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.idnumber, c.fullname, u.id, u.username, s.roleid,
		       COALESCE(e.id, 0), MIN(s.source)
		FROM sync_enrolments s
		INNER JOIN courses c ON c.idnumber = s.course_code
		INNER JOIN users u ON u.idnumber = s.user_code
		INNER JOIN roles r ON r.id = s.roleid
		LEFT JOIN enrol e ON e.courseid = c.id AND e.enrol = ?
		WHERE s.course_code <> '' AND s.user_code <> ''
		AND NOT EXISTS (
			SELECT 1 FROM role_assignments ra
			INNER JOIN user_enrolments ue ON ue.enrolid = ra.itemid AND ue.userid = ra.userid
			WHERE ra.courseid = c.id
			AND ra.userid = u.id
			AND ra.roleid = s.roleid
			AND ra.component = ?
		)
		GROUP BY c.id, s.roleid, u.id
		ORDER BY c.id ASC, s.roleid ASC, u.id ASC
	`, component, component)
	if err != nil {
		return nil, fmt.Errorf("query additions: %w", err)
	}
	defer rows.Close()

	additions := []ir.Addition{}
	for rows.Next() {
		var a ir.Addition
		if err := rows.Scan(
			&a.CourseID, &a.CourseCode, &a.CourseName,
			&a.UserID, &a.Username, &a.RoleID,
			&a.EnrolID, &a.Source,
		); err != nil {
			return nil, fmt.Errorf("scan addition: %w", err)
		}
		additions = append(additions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate additions: %w", err)
	}
	return additions, nil
}

// PendingRemovals returns every role assignment owned by component for which
// no staged fact with the same resolved course, user and role exists.
//
// Rows held by any other component are never returned.
func (s *Store) PendingRemovals(ctx context.Context, component string) ([]ir.Removal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.userenrolid, v.enrolid, v.courseid, v.course_code, v.fullname,
		       v.userid, v.username, v.user_code, v.roleid, v.source
		FROM uvw_owned_enrolments v
		WHERE v.component = ?
		AND NOT EXISTS (
			SELECT 1 FROM sync_enrolments s
			INNER JOIN courses c1 ON c1.idnumber = s.course_code
			INNER JOIN users u1 ON u1.idnumber = s.user_code
			WHERE s.course_code <> '' AND s.user_code <> ''
			AND c1.id = v.courseid
			AND u1.id = v.userid
			AND s.roleid = v.roleid
		)
		ORDER BY v.courseid ASC, v.userid ASC, v.roleid ASC
	`, component)
	if err != nil {
		return nil, fmt.Errorf("query removals: %w", err)
	}
	defer rows.Close()

	removals := []ir.Removal{}
	for rows.Next() {
		var r ir.Removal
		if err := rows.Scan(
			&r.UserEnrolmentID, &r.EnrolID, &r.CourseID, &r.CourseCode, &r.CourseName,
			&r.UserID, &r.Username, &r.UserCode, &r.RoleID, &r.Source,
		); err != nil {
			return nil, fmt.Errorf("scan removal: %w", err)
		}
		removals = append(removals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate removals: %w", err)
	}
	return removals, nil
}

// StagingSummary counts the distinct staged triples that resolve to LMS ids
// and how many of those are already held through component.
func (s *Store) StagingSummary(ctx context.Context, component string) (resolvable, satisfied int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(owned), 0) FROM (
			SELECT EXISTS (
				SELECT 1 FROM role_assignments ra
				INNER JOIN user_enrolments ue ON ue.enrolid = ra.itemid AND ue.userid = ra.userid
				WHERE ra.courseid = c.id
				AND ra.userid = u.id
				AND ra.roleid = s.roleid
				AND ra.component = ?
			) AS owned
			FROM sync_enrolments s
			INNER JOIN courses c ON c.idnumber = s.course_code
			INNER JOIN users u ON u.idnumber = s.user_code
			INNER JOIN roles r ON r.id = s.roleid
			WHERE s.course_code <> '' AND s.user_code <> ''
			GROUP BY c.id, u.id, s.roleid
		)
	`, component).Scan(&resolvable, &satisfied)
	if err != nil {
		return 0, 0, fmt.Errorf("staging summary: %w", err)
	}
	return resolvable, satisfied, nil
}
