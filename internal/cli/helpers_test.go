package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/notify"
	"github.com/roach88/enrolsync/internal/store"
	"github.com/roach88/enrolsync/internal/testutil"
)

const testRunID = "cli-test-run"

// syncEnv is a config file, an LMS database and a feed on disk.
type syncEnv struct {
	dir        string
	configPath string
	lmsPath    string
	feedPath   string
	recorder   *notify.Recorder
}

// newSyncEnv seeds an LMS with two courses and two users and writes a
// config with one feed source reading feed.
func newSyncEnv(t *testing.T, feed string) *syncEnv {
	t.Helper()
	dir := t.TempDir()
	env := &syncEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "enrolsync.cue"),
		lmsPath:    filepath.Join(dir, "lms.db"),
		feedPath:   filepath.Join(dir, "feed.yaml"),
		recorder:   &notify.Recorder{},
	}

	st, err := store.Open(env.lmsPath)
	require.NoError(t, err)
	fx := testutil.NewFixture(t, st.DB()).DefaultRoles()
	cat := fx.Category("Faculty of Science", 0)
	fx.Course("C101", "Biology", cat)
	fx.Course("C102", "Chemistry", cat)
	fx.User("u1", "2001")
	fx.User("u2", "2002")
	require.NoError(t, st.Close())

	require.NoError(t, os.WriteFile(env.feedPath, []byte(feed), 0644))
	env.writeConfig(t, fmt.Sprintf(`lms_db: %q
sync_notification: "registrar@example.edu"
sources: [{
	name: "sis"
	type: "feed"
	settings: path: %q
}]
`, env.lmsPath, env.feedPath))
	return env
}

func (e *syncEnv) writeConfig(t *testing.T, cfg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0644))
}

func (e *syncEnv) overrides() Overrides {
	return Overrides{
		RunIDs:   testutil.NewFixedRunIDGenerator(testRunID),
		Clock:    testutil.NewFixedClock(time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)),
		Notifier: e.recorder,
		Host:     "cli-test",
	}
}

func (e *syncEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	st, err := store.Open(e.lmsPath)
	require.NoError(t, err)
	defer st.Close()
	return testutil.NewFixture(t, st.DB()).Count(query, args...)
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

const twoCourseFeed = `enrolments:
  - course_code: C101
    user_code: "2001"
    role: student
  - course_code: C102
    user_code: "2002"
    role: student
`
