package source

import (
	"context"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
)

const defaultOrientationCourse = "Mastering Moodle"

// Instructors enrols everyone who holds an editing-teacher role in any
// coded course as a student of the orientation course.
type Instructors struct {
	cfg  config.Source
	deps Deps
}

// NewInstructors is the instructors factory.
func NewInstructors(cfg config.Source, deps Deps) (Source, error) {
	return &Instructors{cfg: cfg, deps: deps}, nil
}

func (i *Instructors) Name() string { return i.cfg.Name }

func (i *Instructors) DescribeSettings() []ir.Setting {
	return []ir.Setting{
		{Key: "course_fullname", Label: "Orientation course", Help: "Full name of the course instructors are enrolled into.", Default: defaultOrientationCourse},
	}
}

func (i *Instructors) Fetch(ctx context.Context) ([]ir.Fact, error) {
	name := i.cfg.Name

	teachers, err := i.deps.LMS.EditingTeacherCodes(ctx)
	if err != nil {
		return nil, fetchErr(ir.KindQuery, name, "get editing teachers: %w", err)
	}

	courseCode, err := i.deps.LMS.CourseCodeByFullname(ctx, i.cfg.Setting("course_fullname", defaultOrientationCourse))
	if err != nil {
		return nil, lookupErr(name, "orientation course", err)
	}

	roleID, err := i.deps.LMS.RoleIDByArchetype(ctx, "student")
	if err != nil {
		return nil, lookupErr(name, "student role", err)
	}

	facts := make([]ir.Fact, 0, len(teachers))
	for _, code := range teachers {
		facts = append(facts, ir.Fact{
			CourseCode: courseCode,
			UserCode:   code,
			RoleID:     roleID,
			Source:     name,
		})
	}
	return facts, nil
}
