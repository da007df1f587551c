// Package groups places enrolled users into course groups.
//
// A user's group keys are the union of two lookups over the user's roles
// in other courses: the role-id table maps each role to a key, and the
// school table maps each course category (or, failing that, its parent)
// to a school code. A user matching neither table goes to the default
// group. Keys name groups by their idnumber in the target course.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/enrolsync/internal/store"
)

// DefaultKey is the fallback group for users no table classifies.
const DefaultKey = "unclassified"

// LMS is the access the classifier needs.
type LMS interface {
	OwnedMembers(ctx context.Context, courseID int64, component, source string) ([]store.Member, error)
	UserRoleIDs(ctx context.Context, userID, excludeCourseID int64) ([]int64, error)
	UserCourseCategories(ctx context.Context, userID, excludeCourseID int64) ([]store.Category, error)
	GroupID(ctx context.Context, courseID int64, key string) (int64, error)
	AddGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// Tables are the classification lookups.
type Tables struct {
	Roles      map[int64]string
	Schools    map[string]string
	DefaultKey string
}

// Stats counts one classification pass.
type Stats struct {
	Members       int `json:"members"`
	Added         int `json:"added"`
	MissingGroups int `json:"missing_groups"`
}

// Classifier assigns group memberships.
type Classifier struct {
	lms       LMS
	tables    Tables
	component string
	logger    *slog.Logger
}

// New creates a classifier for rows owned by component.
func New(lms LMS, tables Tables, component string, logger *slog.Logger) *Classifier {
	if tables.DefaultKey == "" {
		tables.DefaultKey = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{lms: lms, tables: tables, component: component, logger: logger}
}

// Keys returns the sorted group keys for a user enrolled in courseID.
func (c *Classifier) Keys(ctx context.Context, userID, courseID int64) ([]string, error) {
	set := make(map[string]bool)

	roles, err := c.lms.UserRoleIDs(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("classify user %d: %w", userID, err)
	}
	for _, id := range roles {
		if key, ok := c.tables.Roles[id]; ok {
			set[key] = true
		}
	}

	cats, err := c.lms.UserCourseCategories(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("classify user %d: %w", userID, err)
	}
	for _, cat := range cats {
		if code, ok := c.tables.Schools[cat.Name]; ok {
			set[code] = true
		} else if code, ok := c.tables.Schools[cat.ParentName]; ok && cat.ParentName != "" {
			set[code] = true
		}
	}

	if len(set) == 0 {
		return []string{c.tables.DefaultKey}, nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ClassifyCourse places every member the source enrolled in the course
// into its groups. Memberships that already exist are left alone; groups
// missing from the course are logged and skipped.
func (c *Classifier) ClassifyCourse(ctx context.Context, courseID int64, source string) (Stats, error) {
	var stats Stats

	members, err := c.lms.OwnedMembers(ctx, courseID, c.component, source)
	if err != nil {
		return stats, fmt.Errorf("classify course %d: %w", courseID, err)
	}

	groupIDs := make(map[string]int64)
	for _, m := range members {
		stats.Members++

		keys, err := c.Keys(ctx, m.UserID, courseID)
		if err != nil {
			return stats, err
		}

		for _, key := range keys {
			groupID, ok := groupIDs[key]
			if !ok {
				groupID, err = c.lms.GroupID(ctx, courseID, key)
				if errors.Is(err, store.ErrNotFound) {
					groupID = 0
				} else if err != nil {
					return stats, fmt.Errorf("classify course %d: %w", courseID, err)
				}
				groupIDs[key] = groupID
			}
			if groupID == 0 {
				stats.MissingGroups++
				c.logger.Warn("group not found, skipping membership",
					"course_id", courseID, "group", key, "user", m.Username)
				continue
			}

			added, err := c.lms.AddGroupMember(ctx, groupID, m.UserID)
			if err != nil {
				return stats, fmt.Errorf("classify course %d: %w", courseID, err)
			}
			if added {
				stats.Added++
				c.logger.Info("added group member", "course_id", courseID, "group", key, "user", m.Username)
			}
		}
	}
	return stats, nil
}
