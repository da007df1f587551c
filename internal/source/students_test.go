package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
)

func TestStudents_FetchWithinMonthsAhead(t *testing.T) {
	lms, _ := createTestLMS(t)
	dsn := createSISExport(t, [][3]string{
		{"C102", "2002", "2026-11-01"},
		{"C101", "2001", "2026-09-01"},
		{"C101", "2003", "2027-01-15"},
		{"C999", "2001", "2027-09-01"},
	}, nil)

	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": dsn, "months_ahead": "6"},
	}, testDeps(lms))

	facts, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Fact{
		{CourseCode: "C101", UserCode: "2001", RoleID: 5, Source: "students"},
		{CourseCode: "C101", UserCode: "2003", RoleID: 5, Source: "students"},
		{CourseCode: "C102", UserCode: "2002", RoleID: 5, Source: "students"},
	}, facts, "offering starting after 2027-04-18 is excluded")
}

func TestStudents_EmptyExportIsNotAnError(t *testing.T) {
	lms, _ := createTestLMS(t)
	dsn := createSISExport(t, nil, nil)

	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": dsn},
	}, testDeps(lms))

	facts, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, facts)
	assert.Empty(t, facts)
}

func TestStudents_MissingDSN(t *testing.T) {
	lms, _ := createTestLMS(t)
	src := buildSource(t, config.Source{Name: "students", Type: "students"}, testDeps(lms))

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, ir.KindConfigurationMissing, KindOf(err))
}

func TestStudents_InvalidMonthsAhead(t *testing.T) {
	lms, _ := createTestLMS(t)
	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": "x.db", "months_ahead": "soon"},
	}, testDeps(lms))

	_, err := src.Fetch(context.Background())
	assert.Equal(t, ir.KindConfigurationMissing, KindOf(err))
}

func TestStudents_UnknownDriverIsConnectionError(t *testing.T) {
	lms, _ := createTestLMS(t)
	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": "x.db", "driver": "mssql-not-installed"},
	}, testDeps(lms))

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, ir.KindConnection, KindOf(err))
}

func TestStudents_MissingTableIsQueryError(t *testing.T) {
	lms, _ := createTestLMS(t)
	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": t.TempDir() + "/empty.db"},
	}, testDeps(lms))

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, ir.KindQuery, KindOf(err))
}

func TestStudents_FilterOrphans(t *testing.T) {
	lms, _ := createTestLMS(t)
	dsn := createSISExport(t, [][3]string{
		{"C101", "2001", "2026-09-01"},
	}, []string{"C101", "C200"})

	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": dsn, "verify_orphans": "true"},
	}, testDeps(lms))
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)

	filter, ok := src.(OrphanFilter)
	require.True(t, ok)
	assert.Equal(t, []string{"C200"}, filter.FilterOrphans([]string{"C200", "OLD1"}))
}

func TestStudents_FilterOrphansDisabledKeepsAll(t *testing.T) {
	lms, _ := createTestLMS(t)
	dsn := createSISExport(t, nil, []string{"C101"})

	src := buildSource(t, config.Source{
		Name: "students", Type: "students",
		Settings: map[string]string{"dsn": dsn},
	}, testDeps(lms))
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"C200", "OLD1"}, src.(OrphanFilter).FilterOrphans([]string{"C200", "OLD1"}))
}
