package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// Role ids used by DefaultRoles. They mirror a stock LMS install, with the
// approval workflow's role added at 10.
const (
	RoleEditingTeacher int64 = 3
	RoleTeacher        int64 = 4
	RoleStudent        int64 = 5
	RoleApprover       int64 = 10
)

// Fixture seeds LMS rows directly through SQL.
//
// It works on a bare *sql.DB so that package store's own tests can use it
// without an import cycle.
type Fixture struct {
	t  testing.TB
	db *sql.DB
}

// NewFixture wraps db for seeding.
func NewFixture(t testing.TB, db *sql.DB) *Fixture {
	t.Helper()
	return &Fixture{t: t, db: db}
}

func (f *Fixture) exec(query string, args ...any) sql.Result {
	f.t.Helper()
	res, err := f.db.Exec(query, args...)
	require.NoError(f.t, err, "fixture: %s", query)
	return res
}

func (f *Fixture) insert(query string, args ...any) int64 {
	f.t.Helper()
	id, err := f.exec(query, args...).LastInsertId()
	require.NoError(f.t, err)
	return id
}

// DefaultRoles inserts the editingteacher, teacher, student and approver
// roles with the ids above.
func (f *Fixture) DefaultRoles() *Fixture {
	f.t.Helper()
	f.Role(RoleEditingTeacher, "editingteacher", "editingteacher")
	f.Role(RoleTeacher, "teacher", "teacher")
	f.Role(RoleStudent, "student", "student")
	f.Role(RoleApprover, "approver", "")
	return f
}

// Role inserts a role with an explicit id.
func (f *Fixture) Role(id int64, shortname, archetype string) int64 {
	f.t.Helper()
	f.exec(`INSERT INTO roles (id, shortname, archetype) VALUES (?, ?, ?)`, id, shortname, archetype)
	return id
}

// Category inserts a course category and returns its id.
func (f *Fixture) Category(name string, parent int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO course_categories (name, parent) VALUES (?, ?)`, name, parent)
}

// Course inserts a course and returns its id.
func (f *Fixture) Course(idnumber, fullname string, category int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO courses (idnumber, fullname, category) VALUES (?, ?, ?)`, idnumber, fullname, category)
}

// User inserts a user and returns its id.
func (f *Fixture) User(username, idnumber string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO users (username, idnumber) VALUES (?, ?)`, username, idnumber)
}

// Group inserts a course group and returns its id.
func (f *Fixture) Group(courseID int64, idnumber string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO course_groups (courseid, idnumber, name) VALUES (?, ?, ?)`, courseID, idnumber, idnumber)
}

// Approval appends a ga_status row naming approverCode for the course.
func (f *Fixture) Approval(courseID int64, approverCode string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO ga_status (courseid, approverid) VALUES (?, ?)`, courseID, approverCode)
}

// EnrolInstance returns the component's enrolment instance for the course,
// creating it if needed.
func (f *Fixture) EnrolInstance(courseID int64, component string) int64 {
	f.t.Helper()
	f.exec(`INSERT INTO enrol (courseid, enrol) VALUES (?, ?) ON CONFLICT(courseid, enrol) DO NOTHING`, courseID, component)
	var id int64
	require.NoError(f.t, f.db.QueryRow(`SELECT id FROM enrol WHERE courseid = ? AND enrol = ?`, courseID, component).Scan(&id))
	return id
}

// Enrolment enrols the user through the component's instance with roleID,
// the way the sync itself would, and returns the enrol instance id.
func (f *Fixture) Enrolment(courseID, userID, roleID int64, component, source string) int64 {
	f.t.Helper()
	enrolID := f.EnrolInstance(courseID, component)
	f.exec(`INSERT INTO user_enrolments (enrolid, userid, timestart) VALUES (?, ?, 0)
		ON CONFLICT(enrolid, userid) DO NOTHING`, enrolID, userID)
	f.exec(`INSERT INTO role_assignments (courseid, userid, roleid, component, itemid, source)
		VALUES (?, ?, ?, ?, ?, ?)`, courseID, userID, roleID, component, enrolID, source)
	return enrolID
}

// Count returns SELECT COUNT(*) for the given query.
func (f *Fixture) Count(query string, args ...any) int {
	f.t.Helper()
	var n int
	require.NoError(f.t, f.db.QueryRow(query, args...).Scan(&n))
	return n
}
