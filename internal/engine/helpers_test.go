package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/notify"
	"github.com/roach88/enrolsync/internal/source"
	"github.com/roach88/enrolsync/internal/store"
	"github.com/roach88/enrolsync/internal/testutil"
)

const testComponent = "enrol_sync"

var testNow = time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)

// staticSource returns fixed facts or a fixed error.
type staticSource struct {
	name  string
	facts []ir.Fact
	err   error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(context.Context) ([]ir.Fact, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]ir.Fact(nil), s.facts...), nil
}

func (s *staticSource) DescribeSettings() []ir.Setting { return nil }

// verifyingSource reports only codes in live as orphans.
type verifyingSource struct {
	staticSource
	live map[string]bool
}

func (s *verifyingSource) FilterOrphans(codes []string) []string {
	out := []string{}
	for _, c := range codes {
		if s.live[c] {
			out = append(out, c)
		}
	}
	return out
}

func newSource(name string, facts ...ir.Fact) *staticSource {
	return &staticSource{name: name, facts: facts}
}

func fact(course, user string, role int64) ir.Fact {
	return ir.Fact{CourseCode: course, UserCode: user, RoleID: role}
}

func testConfig() config.Config {
	return config.Config{
		LMSDB:            "lms.db",
		Component:        testComponent,
		LogPath:          "/var/log/enrolsync",
		UnenrolThreshold: 700,
		SharedRole:       "approver",
		ErrorEmail:       "ops@example.edu",
		SyncNotification: "registrar@example.edu",
		Sources: []config.Source{
			{Name: "srcA", Type: "feed"},
			{Name: "srcB", Type: "feed"},
		},
		Groups: config.Groups{DefaultKey: "unclassified"},
	}
}

// testEnv is a seeded LMS plus everything needed to build an engine.
type testEnv struct {
	t        *testing.T
	cfg      config.Config
	lms      *store.Store
	fx       *testutil.Fixture
	mail     *notify.Recorder
	sources  []source.Source
	ctx      context.Context
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	lms, err := store.Open(filepath.Join(t.TempDir(), "lms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lms.Close() })

	fx := testutil.NewFixture(t, lms.DB())
	fx.DefaultRoles()

	return &testEnv{
		t:    t,
		cfg:  cfg,
		lms:  lms,
		fx:   fx,
		mail: &notify.Recorder{},
		ctx:  context.Background(),
	}
}

func (env *testEnv) withSources(sources ...source.Source) *testEnv {
	env.sources = sources
	return env
}

func (env *testEnv) engine(opts ...Option) *Engine {
	env.t.Helper()
	base := []Option{
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("test-run")),
		WithClock(testutil.NewFixedClock(testNow)),
		WithNotifier(env.mail),
		WithHost("lms-cron-01"),
	}
	e, err := New(env.cfg, env.lms, env.sources, append(base, opts...)...)
	require.NoError(env.t, err)
	return e
}

func (env *testEnv) run(opts ...Option) *Run {
	env.t.Helper()
	run, err := env.engine(opts...).Run(env.ctx)
	require.NoError(env.t, err)
	return run
}

// roles counts role assignments of the user in the course.
func (env *testEnv) roles(courseID, userID int64) int {
	return env.fx.Count(`SELECT COUNT(*) FROM role_assignments WHERE courseid = ? AND userid = ?`, courseID, userID)
}

// enrolled reports whether the user has any user enrolment in the course.
func (env *testEnv) enrolled(courseID, userID int64) bool {
	return env.fx.Count(`SELECT COUNT(*) FROM user_enrolments ue
		INNER JOIN enrol e ON e.id = ue.enrolid
		WHERE e.courseid = ? AND ue.userid = ?`, courseID, userID) > 0
}

func errorKinds(run *Run) []ir.ErrorKind {
	kinds := make([]ir.ErrorKind, 0, len(run.Errors))
	for _, se := range run.Errors {
		kinds = append(kinds, se.Kind)
	}
	return kinds
}
