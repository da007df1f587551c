package source

import (
	"context"
	"database/sql"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
)

const (
	defaultSISDriver   = "sqlite"
	defaultMonthsAhead = "9"
)

// Students reads student registrations from the SIS export database.
//
// The export carries one row per (offering, student) in
// student_enrolments(course_code, student_pk, start_date) and, optionally,
// the list of live offerings in current_courses(course_code). Only
// offerings starting within months_ahead of now are fetched.
type Students struct {
	cfg  config.Source
	deps Deps

	// current is the set of live offerings read by the last Fetch; nil when
	// orphan verification is off.
	current map[string]bool
}

// NewStudents is the students factory.
func NewStudents(cfg config.Source, deps Deps) (Source, error) {
	return &Students{cfg: cfg, deps: deps}, nil
}

func (s *Students) Name() string { return s.cfg.Name }

func (s *Students) DescribeSettings() []ir.Setting {
	return []ir.Setting{
		{Key: "dsn", Label: "SIS database", Help: "Data source name of the SIS export database, passed to the driver unchanged.", Default: ""},
		{Key: "driver", Label: "SIS driver", Help: "database/sql driver name for the SIS export.", Default: defaultSISDriver},
		{Key: "months_ahead", Label: "Months ahead", Help: "Fetch offerings that start within this many months.", Default: defaultMonthsAhead},
		{Key: "verify_orphans", Label: "Verify orphans", Help: "Only report missing course shells for offerings listed in current_courses.", Default: "false"},
	}
}

func (s *Students) Fetch(ctx context.Context) ([]ir.Fact, error) {
	name := s.cfg.Name
	s.current = nil

	dsn := s.cfg.Setting("dsn", "")
	if dsn == "" {
		return nil, fetchErr(ir.KindConfigurationMissing, name, "missing SIS database setting dsn")
	}
	months, err := strconv.Atoi(s.cfg.Setting("months_ahead", defaultMonthsAhead))
	if err != nil || months < 0 {
		return nil, fetchErr(ir.KindConfigurationMissing, name, "invalid months_ahead %q", s.cfg.Setting("months_ahead", ""))
	}
	verify, err := strconv.ParseBool(s.cfg.Setting("verify_orphans", "false"))
	if err != nil {
		return nil, fetchErr(ir.KindConfigurationMissing, name, "invalid verify_orphans %q", s.cfg.Setting("verify_orphans", ""))
	}

	roleID, err := s.deps.LMS.RoleIDByArchetype(ctx, "student")
	if err != nil {
		return nil, lookupErr(name, "student role", err)
	}

	db, err := sql.Open(s.cfg.Setting("driver", defaultSISDriver), dsn)
	if err != nil {
		return nil, fetchErr(ir.KindConnection, name, "open SIS database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fetchErr(ir.KindConnection, name, "connect to SIS database: %w", err)
	}
	s.deps.Logger.Debug("connected to SIS database", "source", name)

	cutoff := s.deps.Now().AddDate(0, months, 0).Format("2006-01-02")
	facts, err := s.fetchEnrolments(ctx, db, cutoff, roleID)
	if err != nil {
		return nil, err
	}

	if verify {
		current, err := s.fetchCurrentCourses(ctx, db)
		if err != nil {
			return nil, err
		}
		s.current = current
	}
	return facts, nil
}

func (s *Students) fetchEnrolments(ctx context.Context, db *sql.DB, cutoff string, roleID int64) ([]ir.Fact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT course_code, student_pk
		FROM student_enrolments
		WHERE start_date <= ?
		ORDER BY course_code ASC, student_pk ASC
	`, cutoff)
	if err != nil {
		return nil, fetchErr(ir.KindQuery, s.cfg.Name, "query student enrolments: %w", err)
	}
	defer rows.Close()

	facts := []ir.Fact{}
	for rows.Next() {
		var course, student string
		if err := rows.Scan(&course, &student); err != nil {
			return nil, fetchErr(ir.KindQuery, s.cfg.Name, "scan student enrolment: %w", err)
		}
		facts = append(facts, ir.Fact{
			CourseCode: course,
			UserCode:   student,
			RoleID:     roleID,
			Source:     s.cfg.Name,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fetchErr(ir.KindQuery, s.cfg.Name, "iterate student enrolments: %w", err)
	}
	return facts, nil
}

func (s *Students) fetchCurrentCourses(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT course_code FROM current_courses`)
	if err != nil {
		return nil, fetchErr(ir.KindQuery, s.cfg.Name, "query current courses: %w", err)
	}
	defer rows.Close()

	current := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fetchErr(ir.KindQuery, s.cfg.Name, "scan current course: %w", err)
		}
		current[ir.NormalizeCode(code)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fetchErr(ir.KindQuery, s.cfg.Name, "iterate current courses: %w", err)
	}
	return current, nil
}

// FilterOrphans keeps the codes that the SIS lists as live offerings.
// Without verification every code is kept.
func (s *Students) FilterOrphans(codes []string) []string {
	if s.current == nil {
		return codes
	}
	kept := []string{}
	for _, c := range codes {
		if s.current[ir.NormalizeCode(c)] {
			kept = append(kept, c)
		}
	}
	return kept
}
