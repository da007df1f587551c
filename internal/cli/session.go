package cli

import (
	"io"
	"log/slog"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/engine"
	"github.com/roach88/enrolsync/internal/logging"
	"github.com/roach88/enrolsync/internal/notify"
	"github.com/roach88/enrolsync/internal/source"
	"github.com/roach88/enrolsync/internal/store"
)

// Overrides replace engine collaborators. Tests use them for
// deterministic runs; nil fields keep the defaults.
type Overrides struct {
	RunIDs   engine.RunIDGenerator
	Clock    engine.Clock
	Notifier notify.Notifier
	Host     string
}

func (o Overrides) options() []engine.Option {
	var opts []engine.Option
	if o.RunIDs != nil {
		opts = append(opts, engine.WithRunIDGenerator(o.RunIDs))
	}
	if o.Clock != nil {
		opts = append(opts, engine.WithClock(o.Clock))
	}
	if o.Notifier != nil {
		opts = append(opts, engine.WithNotifier(o.Notifier))
	}
	if o.Host != "" {
		opts = append(opts, engine.WithHost(o.Host))
	}
	return opts
}

// session is everything a run command needs, opened from the config file.
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	logClose io.Closer
	lms      *store.Store
	sources  []source.Source
}

// openSession loads the configuration, builds the logger, opens the LMS
// database and builds the configured sources. Errors are ExitErrors with
// ExitCommandError.
func openSession(opts *RootOptions, stderr io.Writer) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, logClose, err := logging.New(logging.Options{
		Verbose: opts.Verbose,
		Dir:     cfg.LogPath,
		Stderr:  stderr,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open sync log", err)
	}

	lms, err := store.Open(cfg.LMSDB)
	if err != nil {
		logClose.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open LMS database", err)
	}

	sources, err := source.DefaultRegistry().Build(cfg.Sources, source.Deps{
		LMS:    lms,
		Logger: logger,
	})
	if err != nil {
		lms.Close()
		logClose.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build sources", err)
	}

	return &session{cfg: cfg, logger: logger, logClose: logClose, lms: lms, sources: sources}, nil
}

func (r *session) newEngine(overrides Overrides, extra ...engine.Option) (*engine.Engine, error) {
	opts := append([]engine.Option{engine.WithLogger(r.logger)}, overrides.options()...)
	opts = append(opts, extra...)
	eng, err := engine.New(r.cfg, r.lms, r.sources, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return eng, nil
}

func (r *session) Close() {
	if err := r.lms.Close(); err != nil {
		r.logger.Error("error closing LMS database", "error", err)
	}
	r.logClose.Close()
}
