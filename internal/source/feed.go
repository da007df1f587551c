package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/store"
)

// Feed reads enrolments from a YAML file exported by a flat-file SIS:
//
//	enrolments:
//	  - course_code: BIO101-F26
//	    user_code: "1004417"
//	    role: student
//
// Rows naming an unknown role are skipped and logged.
type Feed struct {
	cfg  config.Source
	deps Deps
}

type feedFile struct {
	Enrolments []feedRow `yaml:"enrolments"`
}

type feedRow struct {
	CourseCode string `yaml:"course_code"`
	UserCode   string `yaml:"user_code"`
	Role       string `yaml:"role"`
}

// NewFeed is the feed factory.
func NewFeed(cfg config.Source, deps Deps) (Source, error) {
	return &Feed{cfg: cfg, deps: deps}, nil
}

func (f *Feed) Name() string { return f.cfg.Name }

func (f *Feed) DescribeSettings() []ir.Setting {
	return []ir.Setting{
		{Key: "path", Label: "Feed file", Help: "Path of the YAML enrolment feed.", Default: ""},
		{Key: "default_role", Label: "Default role", Help: "Role shortname for rows without a role.", Default: "student"},
	}
}

func (f *Feed) Fetch(ctx context.Context) ([]ir.Fact, error) {
	name := f.cfg.Name

	path := f.cfg.Setting("path", "")
	if path == "" {
		return nil, fetchErr(ir.KindConfigurationMissing, name, "missing feed setting path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fetchErr(ir.KindConnection, name, "read feed: %w", err)
	}

	var file feedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fetchErr(ir.KindQuery, name, "parse feed: %w", err)
	}

	defaultRole := f.cfg.Setting("default_role", "student")
	roles := make(map[string]int64)
	facts := make([]ir.Fact, 0, len(file.Enrolments))
	for i, row := range file.Enrolments {
		shortname := row.Role
		if shortname == "" {
			shortname = defaultRole
		}

		roleID, ok := roles[shortname]
		if !ok {
			roleID, err = f.deps.LMS.RoleIDByShortname(ctx, shortname)
			if errors.Is(err, store.ErrNotFound) {
				f.deps.Logger.Warn("skipping feed row with unknown role",
					"source", name, "row", i, "role", shortname)
				continue
			}
			if err != nil {
				return nil, fetchErr(ir.KindQuery, name, "role %s: %w", shortname, err)
			}
			roles[shortname] = roleID
		}

		facts = append(facts, ir.Fact{
			CourseCode: row.CourseCode,
			UserCode:   row.UserCode,
			RoleID:     roleID,
			Source:     name,
		})
	}
	return facts, nil
}
