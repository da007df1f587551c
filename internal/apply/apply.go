// Package apply materializes a diff against the LMS.
//
// Per (course, user) the only transitions are:
//
//	ABSENT           -> ENROLLED          addition
//	ENROLLED         -> ABSENT            full removal
//	ENROLLED(multi)  -> ENROLLED(reduced) demotion of the shared role, or
//	                                      unassigning one of several owned roles
//
// A failed row is logged, recorded in the Report and skipped; the rest of
// the batch still applies.
package apply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/store"
)

// Action names a change made (or deliberately not made) to the LMS.
type Action string

const (
	ActionCreateInstance Action = "create-instance"
	ActionEnrol          Action = "enrol"
	ActionDemote         Action = "demote"
	ActionUnassign       Action = "unassign"
	ActionUnenrol        Action = "unenrol"
	ActionSkipUnenrol    Action = "skip-unenrol"
)

// Event is one applied change.
type Event struct {
	Action     Action `json:"action"`
	CourseCode string `json:"course_code"`
	Username   string `json:"username,omitempty"`
	RoleID     int64  `json:"role_id,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Stats counts applied changes.
type Stats struct {
	InstancesCreated int `json:"instances_created"`
	Enrolled         int `json:"enrolled"`
	Demoted          int `json:"demoted"`
	Unassigned       int `json:"unassigned"`
	Unenrolled       int `json:"unenrolled"`
	SkippedDisabled  int `json:"skipped_disabled"`
	Failed           int `json:"failed"`
}

// Report is the outcome of one apply pass.
type Report struct {
	Stats  Stats
	Events []Event
	Errors []error
}

func (r *Report) fail(err error) {
	r.Stats.Failed++
	r.Errors = append(r.Errors, err)
}

// LMS is the write surface the applier needs.
type LMS interface {
	EnsureEnrolInstance(ctx context.Context, courseID int64, component string) (int64, bool, error)
	Enrol(ctx context.Context, req store.EnrolRequest) error
	CountRoleAssignments(ctx context.Context, courseID, userID int64) (int, error)
	CountOwnedRoles(ctx context.Context, courseID, userID int64, component string, enrolID int64) (int, error)
	UnassignRole(ctx context.Context, courseID, userID, roleID int64, component string, enrolID int64) error
	Unenrol(ctx context.Context, enrolID, courseID, userID int64, component string) error
}

// Options configure an Applier.
type Options struct {
	// Component is the ownership tag written on every row.
	Component string

	// SharedRoleID is the role that may be demoted instead of unenrolled.
	// Zero disables demotion.
	SharedRoleID int64

	// DisableUnenrol lists sources whose removals are never applied.
	DisableUnenrol map[string]bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Applier applies additions and removals.
type Applier struct {
	lms  LMS
	opts Options
}

// New creates an applier.
func New(lms LMS, opts Options) *Applier {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Applier{lms: lms, opts: opts}
}

// ApplyAdditions enrols every addition, creating the course's enrolment
// instance on first use. Additions are expected in course order so that
// one instance lookup serves every row of a course.
func (a *Applier) ApplyAdditions(ctx context.Context, additions []ir.Addition) Report {
	report := Report{Events: []Event{}}
	now := a.opts.Now().Unix()

	var courseID, enrolID int64
	for _, add := range additions {
		if add.CourseID != courseID || enrolID == 0 {
			courseID, enrolID = add.CourseID, add.EnrolID
			if enrolID == 0 {
				id, created, err := a.lms.EnsureEnrolInstance(ctx, add.CourseID, a.opts.Component)
				if err != nil {
					courseID = 0
					report.fail(fmt.Errorf("course %s: %w", add.CourseCode, err))
					a.opts.Logger.Error("failed to create enrolment instance",
						"course", add.CourseCode, "error", err)
					continue
				}
				enrolID = id
				if created {
					report.Stats.InstancesCreated++
					report.Events = append(report.Events, Event{Action: ActionCreateInstance, CourseCode: add.CourseCode})
					a.opts.Logger.Info("created enrolment instance", "course", add.CourseCode)
				}
			}
		}

		err := a.lms.Enrol(ctx, store.EnrolRequest{
			EnrolID:   enrolID,
			CourseID:  add.CourseID,
			UserID:    add.UserID,
			RoleID:    add.RoleID,
			Component: a.opts.Component,
			Source:    add.Source,
			TimeStart: now,
		})
		if err != nil {
			report.fail(fmt.Errorf("enrol %s in %s: %w", add.Username, add.CourseCode, err))
			a.opts.Logger.Error("failed to enrol user",
				"course", add.CourseCode, "user", add.Username, "role", add.RoleID, "error", err)
			continue
		}

		report.Stats.Enrolled++
		report.Events = append(report.Events, Event{
			Action:     ActionEnrol,
			CourseCode: add.CourseCode,
			Username:   add.Username,
			RoleID:     add.RoleID,
			Source:     add.Source,
		})
		a.opts.Logger.Info("enrolled user",
			"course", add.CourseCode, "user", add.Username, "role", add.RoleID, "source", add.Source)
	}
	return report
}

// ApplyRemovals demotes, unassigns or unenrols every removal whose source
// allows it.
//
// Removals are per role, so a user losing one of several owned roles in a
// course keeps the enrolment and only that role is unassigned. The
// enrolment goes only when every owned role the user holds through the
// course's instance is being removed in this pass; later removals for the
// same user and course are then already done.
func (a *Applier) ApplyRemovals(ctx context.Context, removals []ir.Removal) Report {
	report := Report{Events: []Event{}}

	pending := make(map[enrolmentKey]int)
	for _, r := range removals {
		if !a.opts.DisableUnenrol[r.Source] {
			pending[keyOf(r)]++
		}
	}
	unenrolled := make(map[enrolmentKey]bool)

	for _, r := range removals {
		ev := Event{CourseCode: r.CourseCode, Username: r.Username, RoleID: r.RoleID, Source: r.Source}

		if a.opts.DisableUnenrol[r.Source] {
			report.Stats.SkippedDisabled++
			ev.Action = ActionSkipUnenrol
			report.Events = append(report.Events, ev)
			a.opts.Logger.Debug("unenrolment disabled for source",
				"course", r.CourseCode, "user", r.Username, "source", r.Source)
			continue
		}

		key := keyOf(r)
		remaining := pending[key]
		pending[key]--
		if unenrolled[key] {
			a.opts.Logger.Debug("role removed with the enrolment",
				"course", r.CourseCode, "user", r.Username, "role", r.RoleID)
			continue
		}

		action, err := a.removalAction(ctx, r, remaining)
		if err != nil {
			report.fail(fmt.Errorf("remove %s from %s: %w", r.Username, r.CourseCode, err))
			a.opts.Logger.Error("failed to count role assignments",
				"course", r.CourseCode, "user", r.Username, "error", err)
			continue
		}

		if action == ActionUnenrol {
			err = a.lms.Unenrol(ctx, r.EnrolID, r.CourseID, r.UserID, a.opts.Component)
		} else {
			err = a.lms.UnassignRole(ctx, r.CourseID, r.UserID, r.RoleID, a.opts.Component, r.EnrolID)
		}
		ev.Action = action
		if err != nil {
			report.fail(fmt.Errorf("%s %s from %s: %w", ev.Action, r.Username, r.CourseCode, err))
			a.opts.Logger.Error("failed to remove enrolment",
				"action", ev.Action, "course", r.CourseCode, "user", r.Username, "error", err)
			continue
		}

		switch action {
		case ActionDemote:
			report.Stats.Demoted++
		case ActionUnassign:
			report.Stats.Unassigned++
		default:
			report.Stats.Unenrolled++
			unenrolled[key] = true
		}
		report.Events = append(report.Events, ev)
		a.opts.Logger.Info("removed enrolment",
			"action", ev.Action, "course", r.CourseCode, "user", r.Username, "role", r.RoleID, "source", r.Source)
	}
	return report
}

type enrolmentKey struct {
	courseID, userID, enrolID int64
}

func keyOf(r ir.Removal) enrolmentKey {
	return enrolmentKey{courseID: r.CourseID, userID: r.UserID, enrolID: r.EnrolID}
}

// removalAction picks the transition for one removal. remaining counts
// the removals for this user and course still to apply, this one included.
//
// The shared role is demoted when the user holds at least two roles in
// the course from any component. Any other role is unassigned when an
// owned role outside the remaining removals survives, and otherwise the
// user is unenrolled.
func (a *Applier) removalAction(ctx context.Context, r ir.Removal, remaining int) (Action, error) {
	if a.opts.SharedRoleID != 0 && r.RoleID == a.opts.SharedRoleID {
		n, err := a.lms.CountRoleAssignments(ctx, r.CourseID, r.UserID)
		if err != nil {
			return "", err
		}
		if n >= 2 {
			return ActionDemote, nil
		}
	}

	owned, err := a.lms.CountOwnedRoles(ctx, r.CourseID, r.UserID, a.opts.Component, r.EnrolID)
	if err != nil {
		return "", err
	}
	if owned > remaining {
		return ActionUnassign, nil
	}
	return ActionUnenrol, nil
}
