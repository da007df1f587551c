package ir

import "fmt"

// Fact is one enrolment fact produced by a source: user_code should hold
// role_id in the course identified by course_code.
type Fact struct {
	CourseCode string `json:"course_code"`
	UserCode   string `json:"user_code"`
	RoleID     int64  `json:"role_id"`
	Source     string `json:"source"`
}

// Key identifies the (course, user, role) triple a fact asserts.
// Source is deliberately not part of the key.
func (f Fact) Key() string {
	return fmt.Sprintf("%s\x00%s\x00%d", f.CourseCode, f.UserCode, f.RoleID)
}

// Addition is a staged fact resolved to LMS identifiers with no matching
// owned role assignment.
type Addition struct {
	CourseID   int64  `json:"course_id"`
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	RoleID     int64  `json:"role_id"`
	EnrolID    int64  `json:"enrol_id"`
	Source     string `json:"source"`
}

// Removal is an owned LMS enrolment (a CurrentEnrolment) that no staged
// fact justifies any more.
type Removal struct {
	UserEnrolmentID int64  `json:"user_enrolment_id"`
	EnrolID         int64  `json:"enrol_id"`
	CourseID        int64  `json:"course_id"`
	CourseCode      string `json:"course_code"`
	CourseName      string `json:"course_name"`
	UserID          int64  `json:"user_id"`
	Username        string `json:"username"`
	UserCode        string `json:"user_code"`
	RoleID          int64  `json:"role_id"`
	Source          string `json:"source"`
}

// Setting describes one configuration key a source understands.
type Setting struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Help    string `json:"help"`
	Default string `json:"default"`
}
