package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/enrolsync/internal/ir"
)

// Scenario defines a reconciliation scenario: an LMS starting state, the
// facts each source reports, and assertions over the resulting run.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is an optional fixed run id. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Now is an optional fixed wall clock in RFC 3339. Defaults to
	// DefaultNow.
	Now string `yaml:"now,omitempty"`

	// Config overrides run settings. Unset fields keep their defaults.
	Config Settings `yaml:"config,omitempty"`

	// LMS is the database state before the run.
	LMS Seed `yaml:"lms"`

	// Sources are fetched in order.
	Sources []SourceDef `yaml:"sources"`

	// Assertions validate the trace, the run and the final LMS state.
	Assertions []Assertion `yaml:"assertions"`
}

// Settings are the configuration fields a scenario may override.
type Settings struct {
	Component        string            `yaml:"component,omitempty"`
	UnenrolThreshold *int              `yaml:"unenrol_threshold,omitempty"`
	SharedRole       string            `yaml:"shared_role,omitempty"`
	ErrorEmail       string            `yaml:"error_email,omitempty"`
	SyncNotification string            `yaml:"sync_notification,omitempty"`
	GroupDefault     string            `yaml:"group_default,omitempty"`
	GroupRoles       map[string]string `yaml:"group_roles,omitempty"`
	GroupSchools     map[string]string `yaml:"group_schools,omitempty"`
}

// Seed is the LMS starting state. Rows refer to each other by code,
// username or name, never by id.
type Seed struct {
	// Roles replaces the default editingteacher, teacher, student and
	// approver roles when set.
	Roles      []RoleRow      `yaml:"roles,omitempty"`
	Categories []CategoryRow  `yaml:"categories,omitempty"`
	Courses    []CourseRow    `yaml:"courses,omitempty"`
	Users      []UserRow      `yaml:"users,omitempty"`
	Groups     []GroupRow     `yaml:"groups,omitempty"`
	Enrolments []EnrolmentRow `yaml:"enrolments,omitempty"`
}

type RoleRow struct {
	ID        int64  `yaml:"id"`
	Shortname string `yaml:"shortname"`
	Archetype string `yaml:"archetype,omitempty"`
}

type CategoryRow struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"`
}

type CourseRow struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name,omitempty"`
	Category string `yaml:"category,omitempty"`
}

type UserRow struct {
	Username string `yaml:"username"`
	Code     string `yaml:"code"`
}

type GroupRow struct {
	Course string `yaml:"course"`
	Key    string `yaml:"key"`
}

// EnrolmentRow is an existing enrolment. Component defaults to the run's
// ownership tag; any other value seeds an enrolment the sync must not touch.
type EnrolmentRow struct {
	Course    string `yaml:"course"`
	User      string `yaml:"user"`
	Role      string `yaml:"role"`
	Source    string `yaml:"source,omitempty"`
	Component string `yaml:"component,omitempty"`
}

// SourceDef is one source and the facts it reports.
type SourceDef struct {
	Name           string    `yaml:"name"`
	DisableUnenrol bool      `yaml:"disable_unenrol,omitempty"`
	ClassifyGroups bool      `yaml:"classify_groups,omitempty"`
	Facts          []FactRow `yaml:"facts,omitempty"`

	// Fail makes the fetch fail with this error kind instead of
	// returning facts.
	Fail string `yaml:"fail,omitempty"`
}

// FactRow is one reported fact. User is the SIS user code.
type FactRow struct {
	Course string `yaml:"course"`
	User   string `yaml:"user"`
	Role   string `yaml:"role"`
}

// Assertion validates trace, run outcome or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is a trace event type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Course, User, Role and Source filter trace events and enrolment
	// checks. User is a username. Empty fields match anything.
	Course string `yaml:"course,omitempty"`
	User   string `yaml:"user,omitempty"`
	Role   string `yaml:"role,omitempty"`
	Source string `yaml:"source,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected event order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Codes are the expected orphan course codes (orphans).
	Codes []string `yaml:"codes,omitempty"`

	// Kinds are the expected error kinds in record order (errors).
	Kinds []string `yaml:"kinds,omitempty"`

	// Subject must be contained in a sent subject; To must be one of its
	// recipients (notified).
	Subject string `yaml:"subject,omitempty"`
	To      string `yaml:"to,omitempty"`

	// Table, Where and Expect drive final_state.
	Table  string                 `yaml:"table,omitempty"`
	Where  map[string]interface{} `yaml:"where,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEnrolled      = "enrolled"
	AssertNotEnrolled   = "not_enrolled"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertOrphans       = "orphans"
	AssertErrors        = "errors"
	AssertNotified      = "notified"
	AssertFinalState    = "final_state"
)

// DefaultNow is the wall clock of a scenario without a now field.
var DefaultNow = time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)

var failKinds = map[string]ir.ErrorKind{
	string(ir.KindConnection):           ir.KindConnection,
	string(ir.KindQuery):                ir.KindQuery,
	string(ir.KindResolutionFailure):    ir.KindResolutionFailure,
	string(ir.KindConfigurationMissing): ir.KindConfigurationMissing,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario for in-memory YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so that "assertion:" is not silently ignored.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// clock returns the scenario's fixed wall clock.
func (s *Scenario) clock() (time.Time, error) {
	if s.Now == "" {
		return DefaultNow, nil
	}
	return time.Parse(time.RFC3339, s.Now)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sources) == 0 {
		return fmt.Errorf("sources list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := s.clock(); err != nil {
		return fmt.Errorf("now: %w", err)
	}
	if s.Config.UnenrolThreshold != nil && *s.Config.UnenrolThreshold < 0 {
		return fmt.Errorf("config.unenrol_threshold must not be negative")
	}

	seen := make(map[string]bool, len(s.Sources))
	for i, src := range s.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = true

		if src.Fail != "" {
			if _, ok := failKinds[src.Fail]; !ok {
				return fmt.Errorf("sources[%d]: unknown fail kind %q", i, src.Fail)
			}
			if len(src.Facts) > 0 {
				return fmt.Errorf("sources[%d]: a failing source cannot report facts", i)
			}
		}
		for j, f := range src.Facts {
			if f.Role == "" {
				return fmt.Errorf("sources[%d].facts[%d]: role is required", i, j)
			}
		}
	}

	for i, e := range s.LMS.Enrolments {
		if e.Course == "" || e.User == "" || e.Role == "" {
			return fmt.Errorf("lms.enrolments[%d]: course, user and role are required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEnrolled, AssertNotEnrolled:
		if a.Course == "" || a.User == "" {
			return fmt.Errorf("assertions[%d]: course and user are required for %s", index, a.Type)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", index)
		}
	case AssertOrphans, AssertErrors:
	case AssertNotified:
		if a.Subject == "" {
			return fmt.Errorf("assertions[%d]: subject is required for notified", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
