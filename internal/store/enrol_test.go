package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/testutil"
)

func TestEnsureEnrolInstance_CreatesOnce(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)

	_, err := s.EnrolInstance(ctx, c1, testComponent)
	assert.ErrorIs(t, err, ErrNotFound)

	id1, created, err := s.EnsureEnrolInstance(ctx, c1, testComponent)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, id1)

	id2, created, err := s.EnsureEnrolInstance(ctx, c1, testComponent)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)
}

func TestEnrol_Idempotent(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID, _, err := s.EnsureEnrolInstance(ctx, c1, testComponent)
	require.NoError(t, err)

	req := EnrolRequest{
		EnrolID:   enrolID,
		CourseID:  c1,
		UserID:    u1,
		RoleID:    testutil.RoleStudent,
		Component: testComponent,
		Source:    "students",
		TimeStart: 1760781600,
	}
	require.NoError(t, s.Enrol(ctx, req))
	require.NoError(t, s.Enrol(ctx, req))

	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM user_enrolments WHERE enrolid = ? AND userid = ?`, enrolID, u1))
	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM role_assignments WHERE courseid = ? AND userid = ? AND component = ?`, c1, u1, testComponent))
	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM user_enrolments WHERE timestart = 1760781600 AND timeend = 0`))
}

func TestEnrol_SecondRoleReusesEnrolment(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID := fx.Enrolment(c1, u1, testutil.RoleStudent, testComponent, "students")

	require.NoError(t, s.Enrol(ctx, EnrolRequest{
		EnrolID: enrolID, CourseID: c1, UserID: u1, RoleID: testutil.RoleApprover,
		Component: testComponent, Source: "approvers",
	}))

	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM user_enrolments WHERE userid = ?`, u1))
	n, err := s.CountRoleAssignments(ctx, c1, u1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCountRoleAssignments_CountsEveryComponent(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	fx.Enrolment(c1, u1, testutil.RoleApprover, testComponent, "approvers")
	fx.Enrolment(c1, u1, testutil.RoleEditingTeacher, "manual", "")

	n, err := s.CountRoleAssignments(ctx, c1, u1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCountOwnedRoles_CountsOnlyTheInstance(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID := fx.Enrolment(c1, u1, testutil.RoleStudent, testComponent, "students")
	fx.Enrolment(c1, u1, testutil.RoleTeacher, testComponent, "students")
	fx.Enrolment(c1, u1, testutil.RoleEditingTeacher, "manual", "")

	n, err := s.CountOwnedRoles(ctx, c1, u1, testComponent, enrolID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountOwnedRoles(ctx, c1, u1, "enrol_other", enrolID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnassignRole_KeepsEnrolment(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID := fx.Enrolment(c1, u1, testutil.RoleStudent, testComponent, "students")
	fx.Enrolment(c1, u1, testutil.RoleApprover, testComponent, "approvers")

	require.NoError(t, s.UnassignRole(ctx, c1, u1, testutil.RoleApprover, testComponent, enrolID))

	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM user_enrolments WHERE enrolid = ? AND userid = ?`, enrolID, u1))
	assert.Equal(t, 0, fx.Count(`SELECT COUNT(*) FROM role_assignments WHERE userid = ? AND roleid = ?`, u1, testutil.RoleApprover))
	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM role_assignments WHERE userid = ? AND roleid = ?`, u1, testutil.RoleStudent))
}

func TestUnenrol_RemovesOwnedRowsOnly(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID := fx.Enrolment(c1, u1, testutil.RoleStudent, testComponent, "students")
	manualID := fx.Enrolment(c1, u1, testutil.RoleEditingTeacher, "manual", "")

	require.NoError(t, s.Unenrol(ctx, enrolID, c1, u1, testComponent))

	assert.Equal(t, 0, fx.Count(`SELECT COUNT(*) FROM user_enrolments WHERE enrolid = ?`, enrolID))
	assert.Equal(t, 0, fx.Count(`SELECT COUNT(*) FROM role_assignments WHERE component = ?`, testComponent))
	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM user_enrolments WHERE enrolid = ?`, manualID))
	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM role_assignments WHERE component = 'manual'`))
}

func TestUnenrol_DropsGroupMembershipWhenLastEnrolment(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID := fx.Enrolment(c1, u1, testutil.RoleStudent, testComponent, "students")
	g := fx.Group(c1, "unclassified")
	_, err := s.AddGroupMember(ctx, g, u1)
	require.NoError(t, err)

	require.NoError(t, s.Unenrol(ctx, enrolID, c1, u1, testComponent))

	assert.Equal(t, 0, fx.Count(`SELECT COUNT(*) FROM group_members WHERE userid = ?`, u1))
}

func TestUnenrol_KeepsGroupMembershipWithOtherEnrolment(t *testing.T) {
	s, fx := createSeededStore(t)
	ctx := context.Background()
	c1 := fx.Course("C101", "Biology", 0)
	u1 := fx.User("alice", "S1")
	enrolID := fx.Enrolment(c1, u1, testutil.RoleStudent, testComponent, "students")
	fx.Enrolment(c1, u1, testutil.RoleEditingTeacher, "manual", "")
	g := fx.Group(c1, "unclassified")
	_, err := s.AddGroupMember(ctx, g, u1)
	require.NoError(t, err)

	require.NoError(t, s.Unenrol(ctx, enrolID, c1, u1, testComponent))

	assert.Equal(t, 1, fx.Count(`SELECT COUNT(*) FROM group_members WHERE userid = ?`, u1))
}
