package source

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/store"
	"github.com/roach88/enrolsync/internal/testutil"
)

var testNow = time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)

func createTestLMS(t *testing.T) (*store.Store, *testutil.Fixture) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fx := testutil.NewFixture(t, s.DB())
	fx.DefaultRoles()
	return s, fx
}

func testDeps(lms LMS) Deps {
	return Deps{LMS: lms, Now: testutil.NewFixedClock(testNow).Now}
}

func buildSource(t *testing.T, cfg config.Source, deps Deps) Source {
	t.Helper()
	src, err := DefaultRegistry().New(cfg, deps)
	require.NoError(t, err)
	return src
}

// createSISExport writes a SIS export database with the given rows of
// (course_code, student_pk, start_date) and live offerings.
func createSISExport(t *testing.T, rows [][3]string, current []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sis.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE student_enrolments (course_code TEXT, student_pk TEXT, start_date TEXT);
		CREATE TABLE current_courses (course_code TEXT);
	`)
	require.NoError(t, err)

	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO student_enrolments VALUES (?, ?, ?)`, r[0], r[1], r[2])
		require.NoError(t, err)
	}
	for _, c := range current {
		_, err := db.Exec(`INSERT INTO current_courses VALUES (?)`, c)
		require.NoError(t, err)
	}
	return path
}
