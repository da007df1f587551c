package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// missingCoursesChunk bounds the IN-list size per query.
const missingCoursesChunk = 500

// ApproverRow is the current approver of one course.
type ApproverRow struct {
	CourseCode string
	UserCode   string
}

// RoleIDByArchetype returns the lowest role id with the given archetype.
func (s *Store) RoleIDByArchetype(ctx context.Context, archetype string) (int64, error) {
	return s.lookupID(ctx, "role by archetype",
		`SELECT id FROM roles WHERE archetype = ? ORDER BY id ASC LIMIT 1`, archetype)
}

// RoleIDByShortname returns the id of the role with the given shortname.
func (s *Store) RoleIDByShortname(ctx context.Context, shortname string) (int64, error) {
	return s.lookupID(ctx, "role by shortname",
		`SELECT id FROM roles WHERE shortname = ?`, shortname)
}

// CourseIDByCode returns the id of the course with the given idnumber.
func (s *Store) CourseIDByCode(ctx context.Context, code string) (int64, error) {
	return s.lookupID(ctx, "course by code",
		`SELECT id FROM courses WHERE idnumber = ? ORDER BY id ASC LIMIT 1`, code)
}

// CourseCodeByFullname returns the idnumber of the course with the given
// full name.
func (s *Store) CourseCodeByFullname(ctx context.Context, fullname string) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `
		SELECT idnumber FROM courses WHERE fullname = ? ORDER BY id ASC LIMIT 1
	`, fullname).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("course by fullname: %w", err)
	}
	return code, nil
}

func (s *Store) lookupID(ctx context.Context, what, query string, args ...any) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return id, nil
}

// MissingCourses returns the codes among codes that match no course
// idnumber. The result is deduplicated and sorted; empty codes are ignored.
func (s *Store) MissingCourses(ctx context.Context, codes []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c != "" {
			wanted[c] = struct{}{}
		}
	}
	unique := make([]string, 0, len(wanted))
	for c := range wanted {
		unique = append(unique, c)
	}
	sort.Strings(unique)

	found := make(map[string]struct{}, len(unique))
	for start := 0; start < len(unique); start += missingCoursesChunk {
		end := start + missingCoursesChunk
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		args := make([]any, len(chunk))
		for i, c := range chunk {
			args[i] = c
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT idnumber FROM courses WHERE idnumber IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("query course codes: %w", err)
		}
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan course code: %w", err)
			}
			found[code] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate course codes: %w", err)
		}
	}

	missing := []string{}
	for _, c := range unique {
		if _, ok := found[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// EditingTeacherCodes returns the distinct idnumbers of users holding a role
// with archetype editingteacher in any course that has an idnumber.
func (s *Store) EditingTeacherCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.idnumber
		FROM role_assignments ra
		INNER JOIN roles r ON r.id = ra.roleid
		INNER JOIN courses c ON c.id = ra.courseid
		INNER JOIN users u ON u.id = ra.userid
		WHERE r.archetype = 'editingteacher'
		AND c.idnumber <> ''
		AND u.idnumber <> ''
		ORDER BY u.idnumber ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query editing teachers: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan editing teacher: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate editing teachers: %w", err)
	}
	return codes, nil
}

// LatestApprovers returns, for each course with approval history, the
// approver named by its newest ga_status row.
func (s *Store) LatestApprovers(ctx context.Context) ([]ApproverRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.idnumber, u.idnumber
		FROM ga_status ga
		INNER JOIN users u ON u.idnumber = ga.approverid
		INNER JOIN courses c ON c.id = ga.courseid
		WHERE ga.id IN (SELECT MAX(ga1.id) FROM ga_status ga1 GROUP BY ga1.courseid)
		ORDER BY ga.courseid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query approvers: %w", err)
	}
	defer rows.Close()

	result := []ApproverRow{}
	for rows.Next() {
		var r ApproverRow
		if err := rows.Scan(&r.CourseCode, &r.UserCode); err != nil {
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvers: %w", err)
	}
	return result, nil
}
