package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/enrolsync/internal/apply"
	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/diff"
	"github.com/roach88/enrolsync/internal/governor"
	"github.com/roach88/enrolsync/internal/groups"
	"github.com/roach88/enrolsync/internal/ir"
	"github.com/roach88/enrolsync/internal/logging"
	"github.com/roach88/enrolsync/internal/notify"
	"github.com/roach88/enrolsync/internal/source"
	"github.com/roach88/enrolsync/internal/staging"
	"github.com/roach88/enrolsync/internal/store"
)

// LMS is everything a run reads and writes in the LMS database.
// Implemented by *store.Store.
type LMS interface {
	diff.LMS
	apply.LMS
	groups.LMS
	ReplaceStaging(ctx context.Context, facts []ir.Fact) (int, error)
	MissingCourses(ctx context.Context, codes []string) ([]string, error)
	RoleIDByShortname(ctx context.Context, shortname string) (int64, error)
}

// Engine runs the reconciliation pipeline for one configuration.
//
// Thread-safety: an Engine runs one staging run at a time. Phases must be
// called from a single goroutine.
type Engine struct {
	cfg      config.Config
	lms      LMS
	sources  []source.Source
	settings map[string]config.Source
	tables   groups.Tables
	governor *governor.Governor
	notifier notify.Notifier
	runIDs   RunIDGenerator
	clock    Clock
	logger   *slog.Logger
	progress io.Writer
	host     string
	staged   *staging.Set
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier sets the notification transport. Default: an SMTPMailer
// built from the configuration.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithProgress streams one line per step to w, for interactive runs.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

// WithHost sets the host name used in failure reports.
func WithHost(host string) Option {
	return func(e *Engine) { e.host = host }
}

// New creates an engine. sources must be in configuration order; they
// are fetched in that order.
func New(cfg config.Config, lms LMS, sources []source.Source, opts ...Option) (*Engine, error) {
	roleKeys, err := cfg.Groups.RoleKeys()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	settings := make(map[string]config.Source, len(cfg.Sources))
	for _, s := range cfg.Sources {
		settings[s.Name] = s
	}

	e := &Engine{
		cfg:      cfg,
		lms:      lms,
		sources:  append([]source.Source(nil), sources...),
		settings: settings,
		tables: groups.Tables{
			Roles:      roleKeys,
			Schools:    cfg.Groups.Schools,
			DefaultKey: cfg.Groups.DefaultKey,
		},
		governor: governor.New(cfg.UnenrolThreshold),
		runIDs:   UUIDv7Generator{},
		clock:    SystemClock{},
		logger:   slog.Default(),
		staged:   staging.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.notifier == nil {
		e.notifier = notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}
	if e.host == "" {
		e.host, _ = os.Hostname()
	}
	return e, nil
}

// Start begins a staging run.
func (e *Engine) Start() *Run {
	return newRun(e.runIDs.Generate(), e.clock.Now())
}

// Run executes a full staging run: PopulateSource, SyncEnrolments and
// ReportErrors. The returned error is non-nil only if ctx was cancelled;
// everything else is recorded on the Run.
func (e *Engine) Run(ctx context.Context) (*Run, error) {
	run := e.Start()
	e.logger.Info("starting staging run", "run_id", run.ID, "sources", len(e.sources))

	if err := e.PopulateSource(ctx, run); err != nil {
		return run, err
	}
	if err := e.SyncEnrolments(ctx, run); err != nil {
		return run, err
	}
	if err := e.ReportErrors(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Plan populates staging and computes the diff and governor verdict
// without changing enrolments or sending notifications.
func (e *Engine) Plan(ctx context.Context) (*Run, error) {
	run := e.Start()
	if err := e.PopulateSource(ctx, run); err != nil {
		return run, err
	}
	if run.Degraded {
		return run, nil
	}
	e.computeDiff(ctx, run)
	return run, nil
}

// PopulateSource fetches every source in order into the in-memory stage,
// detects orphan course codes per source, then replaces the persisted
// staging table in one transaction. A failing source is recorded and
// skipped. If nothing was staged or the table could not be replaced, the
// run is marked degraded.
func (e *Engine) PopulateSource(ctx context.Context, run *Run) error {
	e.staged.Clear()

	for _, src := range e.sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("populate staging: %w", err)
		}
		e.populateOne(ctx, run, src)
	}

	if e.staged.Len() == 0 {
		run.Degraded = true
		e.fail(run, newSyncError(ir.KindSanityThresholdExceeded, "", "no enrolment facts staged from any source", nil))
		return nil
	}

	n, err := e.lms.ReplaceStaging(ctx, e.staged.All())
	if err != nil {
		run.Degraded = true
		e.fail(run, newSyncError(ir.KindQuery, "", "persist staging", err))
		return nil
	}
	run.Staged = n

	e.logger.Info("staging populated", "run_id", run.ID, "facts", n, "orphans", len(run.Orphans))
	e.progressf("staged %d facts", n)
	return nil
}

func (e *Engine) populateOne(ctx context.Context, run *Run, src source.Source) {
	name := src.Name()
	logger := e.logger.With("run_id", run.ID, "source", name)
	result := SourceResult{Name: name, Orphans: []string{}}

	e.progressf("%s: fetching", name)
	facts, err := src.Fetch(ctx)
	if err != nil {
		result.Failed = true
		run.Sources = append(run.Sources, result)
		e.fail(run, newSyncError(source.KindOf(err), name, "fetch facts", err))
		return
	}

	codes := make([]string, 0, len(facts))
	for i := range facts {
		facts[i] = ir.Normalize(facts[i])
		facts[i].Source = name
		codes = append(codes, facts[i].CourseCode)
	}
	e.staged.Append(facts...)
	result.Facts = len(facts)

	missing, err := e.lms.MissingCourses(ctx, codes)
	if err != nil {
		e.fail(run, newSyncError(ir.KindQuery, name, "check course shells", err))
	} else {
		if f, ok := src.(source.OrphanFilter); ok {
			missing = f.FilterOrphans(missing)
		}
		if len(missing) > 0 {
			result.Orphans = missing
			run.addOrphans(missing)
			logger.Warn("courses missing from the LMS", "orphans", missing)
		}
	}

	run.Sources = append(run.Sources, result)
	logger.Info("fetched facts", "facts", result.Facts, "orphans", len(result.Orphans))
	e.progressf("%s: %d facts, %d orphans", name, result.Facts, len(result.Orphans))
}

// SyncEnrolments diffs the staging table against the LMS, applies every
// addition, applies removals unless the governor refused them, and
// classifies new members into groups. Does nothing in a degraded run.
func (e *Engine) SyncEnrolments(ctx context.Context, run *Run) error {
	logger := e.logger.With("run_id", run.ID)
	if run.Degraded {
		logger.Warn("staging not populated, skipping reconciliation")
		e.progressf("skipping reconciliation: staging not populated")
		return nil
	}

	toRemove, ok := e.computeDiff(ctx, run)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync enrolments: %w", err)
	}

	applier := apply.New(e.lms, apply.Options{
		Component:      e.cfg.Component,
		SharedRoleID:   e.sharedRoleID(ctx, run),
		DisableUnenrol: e.disableUnenrol(),
		Now:            e.clock.Now,
		Logger:         logger,
	})

	run.Additions = applier.ApplyAdditions(ctx, run.Diff.ToAdd)
	e.failAll(run, "apply addition", run.Additions.Errors)
	e.progressf("enrolled %d, created %d enrolment instances", run.Additions.Stats.Enrolled, run.Additions.Stats.InstancesCreated)

	if run.Blocked == nil {
		run.Removals = applier.ApplyRemovals(ctx, toRemove)
		e.failAll(run, "apply removal", run.Removals.Errors)
		e.progressf("unenrolled %d, demoted %d, unassigned %d, kept %d (unenrol disabled)",
			run.Removals.Stats.Unenrolled, run.Removals.Stats.Demoted,
			run.Removals.Stats.Unassigned, run.Removals.Stats.SkippedDisabled)
	}

	e.classifyGroups(ctx, run)
	run.Reconciled = true
	return nil
}

// computeDiff fills run.Diff and returns the removals that may be
// applied. Removals owned by a source that failed this run are withheld
// before the governor sees them.
func (e *Engine) computeDiff(ctx context.Context, run *Run) ([]ir.Removal, bool) {
	res, err := diff.New(e.lms, e.cfg.Component).Compute(ctx)
	if err != nil {
		e.fail(run, newSyncError(ir.KindQuery, "", "compute diff", err))
		return nil, false
	}
	run.Diff = res

	logger := e.logger.With("run_id", run.ID)
	if !res.Conserved() {
		logger.Warn("diff does not account for every staged fact",
			"resolvable", res.Resolvable, "satisfied", res.Satisfied, "to_add", len(res.ToAdd))
	}

	candidates := res.ToRemove
	if failed := run.failedSources(); len(failed) > 0 {
		candidates = make([]ir.Removal, 0, len(res.ToRemove))
		for _, r := range res.ToRemove {
			if failed[r.Source] {
				run.Withheld++
				continue
			}
			candidates = append(candidates, r)
		}
		if run.Withheld > 0 {
			logger.Warn("withholding removals of failed sources", "withheld", run.Withheld)
		}
	}

	allowed, err := e.governor.Guard(candidates)
	var blocked *governor.BlockedError
	if errors.As(err, &blocked) {
		run.Blocked = blocked
		e.fail(run, newSyncError(ir.KindSanityThresholdExceeded, "", "removal phase refused", err))
	}

	logger.Info("computed diff", "to_add", len(res.ToAdd), "to_remove", len(res.ToRemove),
		"withheld", run.Withheld, "blocked", run.Blocked != nil)
	e.progressf("diff: %d to add, %d to remove", len(res.ToAdd), len(res.ToRemove))
	return allowed, true
}

// sharedRoleID resolves the demotable role. A missing role disables
// demotion.
func (e *Engine) sharedRoleID(ctx context.Context, run *Run) int64 {
	id, err := e.lms.RoleIDByShortname(ctx, e.cfg.SharedRole)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("shared role not found, demotion disabled",
			"run_id", run.ID, "role", e.cfg.SharedRole)
		return 0
	}
	if err != nil {
		e.fail(run, newSyncError(ir.KindQuery, "", "resolve shared role", err))
		return 0
	}
	return id
}

func (e *Engine) disableUnenrol() map[string]bool {
	out := make(map[string]bool)
	for name, s := range e.settings {
		if s.DisableUnenrol {
			out[name] = true
		}
	}
	return out
}

// classifyGroups classifies the courses each group-classifying source
// added members to, in source order.
func (e *Engine) classifyGroups(ctx context.Context, run *Run) {
	courses := make(map[string][]int64)
	seen := make(map[string]map[int64]bool)
	for _, add := range run.Diff.ToAdd {
		if !e.settings[add.Source].ClassifyGroups {
			continue
		}
		if seen[add.Source] == nil {
			seen[add.Source] = make(map[int64]bool)
		}
		if !seen[add.Source][add.CourseID] {
			seen[add.Source][add.CourseID] = true
			courses[add.Source] = append(courses[add.Source], add.CourseID)
		}
	}
	if len(courses) == 0 {
		return
	}

	logger := e.logger.With("run_id", run.ID)
	classifier := groups.New(e.lms, e.tables, e.cfg.Component, logger)
	for _, src := range e.sources {
		name := src.Name()
		for _, courseID := range courses[name] {
			stats, err := classifier.ClassifyCourse(ctx, courseID, name)
			run.Groups.Members += stats.Members
			run.Groups.Added += stats.Added
			run.Groups.MissingGroups += stats.MissingGroups
			if err != nil {
				e.fail(run, newSyncError(ir.KindQuery, name, "classify groups", err))
			}
		}
	}
	e.progressf("groups: %d memberships added", run.Groups.Added)
}

// ReportErrors sends the orphan report and, if the run recorded errors,
// the failure report. Send failures are logged, never recorded.
func (e *Engine) ReportErrors(ctx context.Context, run *Run) error {
	logger := e.logger.With("run_id", run.ID)
	reporter := notify.NewReporter(e.notifier, nil, logger)

	if len(run.Orphans) > 0 {
		sent, err := reporter.ReportOrphans(ctx, e.cfg.SyncNotification, run.Orphans)
		if err != nil {
			logger.Error("failed to send orphan report", "error", err)
		}
		run.OrphansNotified = sent
	}

	if !run.HadErrors() {
		logger.Info("staging run completed",
			"enrolled", run.Additions.Stats.Enrolled,
			"unenrolled", run.Removals.Stats.Unenrolled,
			"demoted", run.Removals.Stats.Demoted,
			"unassigned", run.Removals.Stats.Unassigned)
		e.progressf("completed without errors")
		return nil
	}

	report := notify.FailureReport{
		Host:    e.host,
		RunID:   run.ID,
		Time:    run.StartedAt,
		LogPath: logging.FilePath(e.cfg.LogPath),
		Errors:  make([]string, 0, len(run.Errors)),
	}
	if run.Blocked != nil {
		report.BlockedProposed = run.Blocked.Proposed
		report.BlockedThreshold = run.Blocked.Threshold
	}
	for _, se := range run.Errors {
		report.Errors = append(report.Errors, se.Error())
	}

	sent, err := reporter.ReportFailure(ctx, e.cfg.ErrorEmail, report)
	if err != nil {
		logger.Error("failed to send failure report", "error", err)
	}
	run.FailureNotified = sent

	logger.Warn("staging run completed with errors", "errors", len(run.Errors))
	e.progressf("completed with %d errors", len(run.Errors))
	return nil
}

func (e *Engine) fail(run *Run, se *SyncError) {
	run.Errors = append(run.Errors, se)
	e.logger.Error("sync error", "run_id", run.ID, "kind", se.Kind, "source", se.Source, "error", se)
	e.progressf("error: %v", se)
}

func (e *Engine) failAll(run *Run, message string, errs []error) {
	for _, err := range errs {
		e.fail(run, newSyncError(ir.KindQuery, "", message, err))
	}
}

func (e *Engine) progressf(format string, args ...any) {
	if e.progress == nil {
		return
	}
	fmt.Fprintf(e.progress, format+"\n", args...)
}
