package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/testutil"
)

func TestRoleLookups(t *testing.T) {
	s, _ := createSeededStore(t)
	ctx := context.Background()

	id, err := s.RoleIDByArchetype(ctx, "student")
	require.NoError(t, err)
	assert.Equal(t, testutil.RoleStudent, id)

	id, err = s.RoleIDByShortname(ctx, "approver")
	require.NoError(t, err)
	assert.Equal(t, testutil.RoleApprover, id)

	_, err = s.RoleIDByShortname(ctx, "dean")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RoleIDByArchetype(ctx, "guest")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCourseLookups(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("MM01", "Mastering Moodle", 0)

	id, err := s.CourseIDByCode(ctx, "MM01")
	require.NoError(t, err)
	assert.Equal(t, c1, id)

	code, err := s.CourseCodeByFullname(ctx, "Mastering Moodle")
	require.NoError(t, err)
	assert.Equal(t, "MM01", code)

	_, err = s.CourseIDByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CourseCodeByFullname(ctx, "Nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMissingCourses(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	fx.Course("C101", "Biology", 0)

	missing, err := s.MissingCourses(ctx, []string{"X9", "C101", "A1", "X9", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "X9"}, missing)

	missing, err = s.MissingCourses(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestMissingCourses_ChunksLargeInput(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	fx.Course("Z0700", "Seven Hundred", 0)

	codes := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		codes = append(codes, fmt.Sprintf("Z%04d", i))
	}

	missing, err := s.MissingCourses(ctx, codes)
	require.NoError(t, err)
	assert.Len(t, missing, 1199)
	assert.NotContains(t, missing, "Z0700")
}

func TestEditingTeacherCodes(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	c2 := fx.Course("C102", "Chemistry", 0)
	sandbox := fx.Course("", "Sandbox", 0)

	t1 := fx.User("tina", "T1")
	t2 := fx.User("tom", "T2")
	noCode := fx.User("guest", "")
	sandboxOnly := fx.User("sam", "T3")
	student := fx.User("alice", "S1")

	fx.Enrolment(c1, t2, testutil.RoleEditingTeacher, "manual", "")
	fx.Enrolment(c1, t1, testutil.RoleEditingTeacher, "manual", "")
	fx.Enrolment(c2, t1, testutil.RoleEditingTeacher, "manual", "")
	fx.Enrolment(c1, noCode, testutil.RoleEditingTeacher, "manual", "")
	fx.Enrolment(sandbox, sandboxOnly, testutil.RoleEditingTeacher, "manual", "")
	fx.Enrolment(c1, student, testutil.RoleStudent, "manual", "")

	codes, err := s.EditingTeacherCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2"}, codes)
}

func TestLatestApprovers(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	c2 := fx.Course("C102", "Chemistry", 0)
	fx.Course("C103", "Physics", 0)
	fx.User("ann", "A1")
	fx.User("amy", "A2")

	fx.Approval(c1, "A1")
	fx.Approval(c2, "A1")
	fx.Approval(c1, "A2")
	fx.Approval(c2, "GHOST")

	rows, err := s.LatestApprovers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ApproverRow{{CourseCode: "C101", UserCode: "A2"}}, rows,
		"newest row per course wins; unknown approvers resolve to nothing")
}
