package notify

import (
	"context"
	"log/slog"
)

// Reporter renders reports and hands them to a Notifier.
type Reporter struct {
	notifier Notifier
	loc      Localizer
	logger   *slog.Logger
}

// NewReporter creates a reporter. A nil loc renders English.
func NewReporter(n Notifier, loc Localizer, logger *slog.Logger) *Reporter {
	if loc == nil {
		loc = NewLocalizer(defaultTag)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{notifier: n, loc: loc, logger: logger}
}

// ReportOrphans sends one orphan report listing every code to the valid
// addresses in rawRecipients. Returns whether a message was sent.
func (r *Reporter) ReportOrphans(ctx context.Context, rawRecipients string, orphans []string) (bool, error) {
	if len(orphans) == 0 {
		return false, nil
	}
	recipients := ParseRecipients(rawRecipients)
	if len(recipients) == 0 {
		r.logger.Warn("orphan report not sent: no valid notification recipients",
			"orphans", len(orphans))
		return false, nil
	}

	subject, body := RenderOrphans(r.loc, orphans)
	if err := r.notifier.Send(ctx, subject, recipients, body); err != nil {
		return false, err
	}
	r.logger.Info("sent orphan report", "orphans", len(orphans), "recipients", len(recipients))
	return true, nil
}

// ReportFailure sends the failure report to the error address. With no
// valid address escalation is disabled and an error is logged.
func (r *Reporter) ReportFailure(ctx context.Context, to string, report FailureReport) (bool, error) {
	recipients := ParseRecipients(to)
	if len(recipients) == 0 {
		r.logger.Error("failure report not sent: error email is not set")
		return false, nil
	}

	subject, body := RenderFailure(r.loc, report)
	if err := r.notifier.Send(ctx, subject, recipients, body); err != nil {
		return false, err
	}
	r.logger.Info("sent failure report", "to", recipients[0])
	return true, nil
}
