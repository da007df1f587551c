package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/enrolsync/internal/apply"
	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/engine"
	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/notify"
	"github.com/roach88/enrolsync/internal/source"
	"github.com/roach88/enrolsync/internal/store"
	"github.com/roach88/enrolsync/internal/testutil"
)

// Host is the host name written into failure reports of scenario runs.
const Host = "harness"

// errSimulated is the cause of a scenario source's forced failure.
var errSimulated = errors.New("simulated failure")

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory LMS database with a fixed
// run id, a fixed clock and a recording notifier, so the same scenario
// always yields the same trace.
//
// Execution flow:
//  1. Seed the LMS
//  2. Run PopulateSource, SyncEnrolments and ReportErrors
//  3. Record the trace
//  4. Evaluate assertions against the trace, the run and the LMS
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	now, err := scenario.clock()
	if err != nil {
		return nil, fmt.Errorf("invalid scenario clock: %w", err)
	}

	cfg := scenario.config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario config: %w", err)
	}

	roles, err := seed(ctx, st.DB(), scenario.LMS, cfg.Component)
	if err != nil {
		return nil, fmt.Errorf("failed to seed LMS: %w", err)
	}

	sources, err := buildSources(scenario.Sources, roles)
	if err != nil {
		return nil, err
	}

	recorder := &notify.Recorder{}
	eng, err := engine.New(cfg, st, sources,
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
		engine.WithClock(testutil.NewFixedClock(now)),
		engine.WithNotifier(recorder),
		engine.WithHost(Host),
		// Suppress logs in scenario runs.
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, err
	}

	run, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run scenario: %w", err)
	}

	result := NewResult()
	result.Run = run
	result.Messages = recorder.Messages()
	recordTrace(result, run)

	actx := &AssertionContext{Store: st, Ctx: ctx, Roles: roles}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// config builds the run configuration from the scenario's overrides.
func (s *Scenario) config() config.Config {
	cfg := config.Config{
		LMSDB:            ":memory:",
		Component:        "enrol_sync",
		UnenrolThreshold: 700,
		SharedRole:       "approver",
		ErrorEmail:       s.Config.ErrorEmail,
		SyncNotification: s.Config.SyncNotification,
		SMTP:             config.SMTP{Port: 25, From: "enrolsync@localhost"},
		Groups: config.Groups{
			DefaultKey: "unclassified",
			Roles:      s.Config.GroupRoles,
			Schools:    s.Config.GroupSchools,
		},
	}
	if s.Config.Component != "" {
		cfg.Component = s.Config.Component
	}
	if s.Config.UnenrolThreshold != nil {
		cfg.UnenrolThreshold = *s.Config.UnenrolThreshold
	}
	if s.Config.SharedRole != "" {
		cfg.SharedRole = s.Config.SharedRole
	}
	if s.Config.GroupDefault != "" {
		cfg.Groups.DefaultKey = s.Config.GroupDefault
	}
	for _, src := range s.Sources {
		cfg.Sources = append(cfg.Sources, config.Source{
			Name:           src.Name,
			Type:           "feed",
			DisableUnenrol: src.DisableUnenrol,
			ClassifyGroups: src.ClassifyGroups,
		})
	}
	return cfg
}

// scenarioSource reports a scenario's inline facts, or fails.
type scenarioSource struct {
	name  string
	facts []ir.Fact
	fail  ir.ErrorKind
}

func (s *scenarioSource) Name() string { return s.name }

func (s *scenarioSource) DescribeSettings() []ir.Setting { return nil }

func (s *scenarioSource) Fetch(context.Context) ([]ir.Fact, error) {
	if s.fail != "" {
		return nil, &source.FetchError{Kind: s.fail, Source: s.name, Err: errSimulated}
	}
	return append([]ir.Fact(nil), s.facts...), nil
}

func buildSources(defs []SourceDef, roles map[string]int64) ([]source.Source, error) {
	out := make([]source.Source, 0, len(defs))
	for _, def := range defs {
		src := &scenarioSource{name: def.Name, fail: failKinds[def.Fail]}
		for i, f := range def.Facts {
			roleID, ok := roles[f.Role]
			if !ok {
				return nil, fmt.Errorf("source %s: facts[%d]: unknown role %q", def.Name, i, f.Role)
			}
			src.facts = append(src.facts, ir.Fact{CourseCode: f.Course, UserCode: f.User, RoleID: roleID})
		}
		out = append(out, src)
	}
	return out, nil
}

// seeder inserts seed rows and remembers their ids by name.
type seeder struct {
	ctx        context.Context
	db         *sql.DB
	roles      map[string]int64
	categories map[string]int64
	courses    map[string]int64
	users      map[string]int64
}

// seed writes the LMS starting state and returns role ids by shortname.
func seed(ctx context.Context, db *sql.DB, s Seed, component string) (map[string]int64, error) {
	sd := &seeder{
		ctx:        ctx,
		db:         db,
		roles:      map[string]int64{},
		categories: map[string]int64{},
		courses:    map[string]int64{},
		users:      map[string]int64{},
	}

	roles := s.Roles
	if len(roles) == 0 {
		roles = []RoleRow{
			{ID: testutil.RoleEditingTeacher, Shortname: "editingteacher", Archetype: "editingteacher"},
			{ID: testutil.RoleTeacher, Shortname: "teacher", Archetype: "teacher"},
			{ID: testutil.RoleStudent, Shortname: "student", Archetype: "student"},
			{ID: testutil.RoleApprover, Shortname: "approver"},
		}
	}
	for _, r := range roles {
		if _, err := sd.insert(`INSERT INTO roles (id, shortname, archetype) VALUES (?, ?, ?)`,
			r.ID, r.Shortname, r.Archetype); err != nil {
			return nil, fmt.Errorf("role %s: %w", r.Shortname, err)
		}
		sd.roles[r.Shortname] = r.ID
	}

	for _, c := range s.Categories {
		parent, err := sd.lookup(sd.categories, "category", c.Parent)
		if err != nil {
			return nil, err
		}
		id, err := sd.insert(`INSERT INTO course_categories (name, parent) VALUES (?, ?)`, c.Name, parent)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", c.Name, err)
		}
		sd.categories[c.Name] = id
	}

	for _, c := range s.Courses {
		category, err := sd.lookup(sd.categories, "category", c.Category)
		if err != nil {
			return nil, err
		}
		name := c.Name
		if name == "" {
			name = c.Code
		}
		id, err := sd.insert(`INSERT INTO courses (idnumber, fullname, category) VALUES (?, ?, ?)`,
			c.Code, name, category)
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", c.Code, err)
		}
		sd.courses[c.Code] = id
	}

	for _, u := range s.Users {
		id, err := sd.insert(`INSERT INTO users (username, idnumber) VALUES (?, ?)`, u.Username, u.Code)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.Username, err)
		}
		sd.users[u.Username] = id
	}

	for _, g := range s.Groups {
		courseID, err := sd.lookup(sd.courses, "course", g.Course)
		if err != nil {
			return nil, err
		}
		if _, err := sd.insert(`INSERT INTO course_groups (courseid, idnumber, name) VALUES (?, ?, ?)`,
			courseID, g.Key, g.Key); err != nil {
			return nil, fmt.Errorf("group %s in %s: %w", g.Key, g.Course, err)
		}
	}

	for _, e := range s.Enrolments {
		comp := e.Component
		if comp == "" {
			comp = component
		}
		if err := sd.enrolment(e, comp); err != nil {
			return nil, fmt.Errorf("enrolment of %s in %s: %w", e.User, e.Course, err)
		}
	}
	return sd.roles, nil
}

func (sd *seeder) insert(query string, args ...any) (int64, error) {
	res, err := sd.db.ExecContext(sd.ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// lookup resolves a seeded name. An empty name resolves to 0.
func (sd *seeder) lookup(ids map[string]int64, what, name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	id, ok := ids[name]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", what, name)
	}
	return id, nil
}

func (sd *seeder) enrolment(e EnrolmentRow, component string) error {
	courseID, err := sd.lookup(sd.courses, "course", e.Course)
	if err != nil {
		return err
	}
	userID, err := sd.lookup(sd.users, "user", e.User)
	if err != nil {
		return err
	}
	roleID, err := sd.lookup(sd.roles, "role", e.Role)
	if err != nil {
		return err
	}

	if _, err := sd.db.ExecContext(sd.ctx, `INSERT INTO enrol (courseid, enrol) VALUES (?, ?)
		ON CONFLICT(courseid, enrol) DO NOTHING`, courseID, component); err != nil {
		return err
	}
	var enrolID int64
	if err := sd.db.QueryRowContext(sd.ctx, `SELECT id FROM enrol WHERE courseid = ? AND enrol = ?`,
		courseID, component).Scan(&enrolID); err != nil {
		return err
	}
	if _, err := sd.db.ExecContext(sd.ctx, `INSERT INTO user_enrolments (enrolid, userid, timestart)
		VALUES (?, ?, 0) ON CONFLICT(enrolid, userid) DO NOTHING`, enrolID, userID); err != nil {
		return err
	}
	_, err = sd.db.ExecContext(sd.ctx, `INSERT INTO role_assignments
		(courseid, userid, roleid, component, itemid, source) VALUES (?, ?, ?, ?, ?, ?)`,
		courseID, userID, roleID, component, enrolID, e.Source)
	return err
}

// recordTrace flattens the run into trace events: fetches and orphans in
// source order, the governor's verdict, applied changes, group
// classification, recorded errors and sent notifications.
func recordTrace(result *Result, run *engine.Run) {
	for _, src := range run.Sources {
		if src.Failed {
			result.AddEvent(TraceEvent{Type: EventFetchFailed, Source: src.Name, Detail: sourceErrorKind(run, src.Name)})
			continue
		}
		result.AddEvent(TraceEvent{Type: EventFetch, Source: src.Name, Detail: fmt.Sprintf("facts=%d", src.Facts)})
		for _, code := range src.Orphans {
			result.AddEvent(TraceEvent{Type: EventOrphan, Source: src.Name, Course: code})
		}
	}

	if run.Withheld > 0 {
		result.AddEvent(TraceEvent{Type: EventWithheld, Detail: fmt.Sprintf("removals=%d", run.Withheld)})
	}
	if run.Blocked != nil {
		result.AddEvent(TraceEvent{Type: EventBlocked,
			Detail: fmt.Sprintf("proposed=%d threshold=%d", run.Blocked.Proposed, run.Blocked.Threshold)})
	}

	for _, events := range [][]apply.Event{run.Additions.Events, run.Removals.Events} {
		for _, ev := range events {
			result.AddEvent(TraceEvent{
				Type:   string(ev.Action),
				Source: ev.Source,
				Course: ev.CourseCode,
				User:   ev.Username,
				RoleID: ev.RoleID,
			})
		}
	}

	if run.Groups.Added > 0 {
		result.AddEvent(TraceEvent{Type: EventGroups, Detail: fmt.Sprintf("added=%d", run.Groups.Added)})
	}

	for _, se := range run.Errors {
		result.AddEvent(TraceEvent{Type: EventError, Source: se.Source, Detail: string(se.Kind)})
	}

	for _, msg := range result.Messages {
		result.AddEvent(TraceEvent{Type: EventNotify, Detail: msg.Subject, To: msg.Recipients})
	}
}

func sourceErrorKind(run *engine.Run, name string) string {
	for _, se := range run.Errors {
		if se.Source == name {
			return string(se.Kind)
		}
	}
	return ""
}
