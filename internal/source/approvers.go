package source

import (
	"context"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
)

const defaultApproverRole = "approver"

// Approvers enrols the current approver of every course, taken from the
// newest approval-workflow row for that course.
type Approvers struct {
	cfg  config.Source
	deps Deps
}

// NewApprovers is the approvers factory.
func NewApprovers(cfg config.Source, deps Deps) (Source, error) {
	return &Approvers{cfg: cfg, deps: deps}, nil
}

func (a *Approvers) Name() string { return a.cfg.Name }

func (a *Approvers) DescribeSettings() []ir.Setting {
	return []ir.Setting{
		{Key: "role", Label: "Approver role", Help: "Shortname of the role granted to approvers.", Default: defaultApproverRole},
	}
}

func (a *Approvers) Fetch(ctx context.Context) ([]ir.Fact, error) {
	roleID, err := a.deps.LMS.RoleIDByShortname(ctx, a.cfg.Setting("role", defaultApproverRole))
	if err != nil {
		return nil, lookupErr(a.cfg.Name, "approver role", err)
	}

	rows, err := a.deps.LMS.LatestApprovers(ctx)
	if err != nil {
		return nil, fetchErr(ir.KindQuery, a.cfg.Name, "get approvers: %w", err)
	}

	facts := make([]ir.Fact, 0, len(rows))
	for _, r := range rows {
		facts = append(facts, ir.Fact{
			CourseCode: r.CourseCode,
			UserCode:   r.UserCode,
			RoleID:     roleID,
			Source:     a.cfg.Name,
		})
	}
	return facts, nil
}
