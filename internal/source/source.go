package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/store"
)

// Source fetches enrolment facts from one feed.
type Source interface {
	// Name is the configured source name stamped on every fact.
	Name() string

	// Fetch returns the feed's current facts.
	Fetch(ctx context.Context) ([]ir.Fact, error)

	// DescribeSettings lists the settings this source type understands.
	DescribeSettings() []ir.Setting
}

// OrphanFilter is implemented by sources that can tell which missing
// course codes are real offerings, as opposed to codes the LMS is not
// expected to carry. Called after a successful Fetch.
type OrphanFilter interface {
	FilterOrphans(codes []string) []string
}

// LMS is the read access adapters need to the LMS's own tables.
type LMS interface {
	RoleIDByArchetype(ctx context.Context, archetype string) (int64, error)
	RoleIDByShortname(ctx context.Context, shortname string) (int64, error)
	CourseCodeByFullname(ctx context.Context, fullname string) (string, error)
	EditingTeacherCodes(ctx context.Context) ([]string, error)
	LatestApprovers(ctx context.Context) ([]store.ApproverRow, error)
}

// Deps are the collaborators handed to every factory.
type Deps struct {
	LMS    LMS
	Now    func() time.Time
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// FetchError is a classified adapter failure.
type FetchError struct {
	Kind   ir.ErrorKind
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: source %s: %v", e.Kind, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *FetchError in err's chain, or KindQuery
// for any other error.
func KindOf(err error) ir.ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ir.KindQuery
}

func fetchErr(kind ir.ErrorKind, source string, format string, args ...any) *FetchError {
	return &FetchError{Kind: kind, Source: source, Err: fmt.Errorf(format, args...)}
}

// lookupErr classifies an LMS lookup failure: no match is a resolution
// failure, anything else is a query failure.
func lookupErr(source, what string, err error) *FetchError {
	if errors.Is(err, store.ErrNotFound) {
		return fetchErr(ir.KindResolutionFailure, source, "%s: %w", what, err)
	}
	return fetchErr(ir.KindQuery, source, "%s: %w", what, err)
}
