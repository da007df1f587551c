package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/testutil"
)

const testComponent = "enrol_sync"

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createSeededStore returns a store with the default roles plus a fixture
// for seeding further rows.
func createSeededStore(t *testing.T) (*Store, *testutil.Fixture) {
	t.Helper()
	s := createTestStore(t)
	fx := testutil.NewFixture(t, s.DB())
	fx.DefaultRoles()
	return s, fx
}

func fact(course, user string, role int64, source string) ir.Fact {
	return ir.Fact{CourseCode: course, UserCode: user, RoleID: role, Source: source}
}

// stagedFacts reads sync_enrolments back in insertion order.
func stagedFacts(t *testing.T, s *Store) []ir.Fact {
	t.Helper()
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT course_code, user_code, roleid, source
		FROM sync_enrolments
		ORDER BY id ASC
	`)
	require.NoError(t, err)
	defer rows.Close()

	facts := []ir.Fact{}
	for rows.Next() {
		var f ir.Fact
		require.NoError(t, rows.Scan(&f.CourseCode, &f.UserCode, &f.RoleID, &f.Source))
		facts = append(facts, f)
	}
	require.NoError(t, rows.Err())
	return facts
}

// verifyPragma checks that a pragma is set to the expected value.
func verifyPragma(s *Store, name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
