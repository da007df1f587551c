package notify

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Catalog keys.
const (
	keyOrphansSubject = "orphans.subject"
	keyOrphansHeading = "orphans.heading"
	keyOrphansBody    = "orphans.body"
	keyFailureSubject = "failure.subject"
	keyFailureHeading = "failure.heading"
	keyFailureBody    = "failure.body"
	keyFailureLog     = "failure.log"
	keyFailureBlocked = "failure.blocked"
	keyFailureErrors  = "failure.errors"
)

func init() {
	lang := language.English

	message.SetString(lang, keyOrphansSubject, "Missing course shells in the LMS")
	message.SetString(lang, keyOrphansHeading, "Enrolment sync anomalies")
	message.SetString(lang, keyOrphansBody, "The following %d courses exist in the SIS but have no corresponding course shell in the LMS.\nConsequently, enrolments in these courses have not been made:")

	message.SetString(lang, keyFailureSubject, "Enrolment sync failure - %s")
	message.SetString(lang, keyFailureHeading, "Enrolment sync errors")
	message.SetString(lang, keyFailureBody, "The enrolment sync on %s recorded errors during run %s at %s.")
	message.SetString(lang, keyFailureLog, "Details are in the sync log at %s.")
	message.SetString(lang, keyFailureBlocked, "Removals were refused: %d enrolments proposed, threshold %d.")
	message.SetString(lang, keyFailureErrors, "Recorded errors:")
}

var defaultTag = language.English

// Localizer renders catalog messages.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// NewLocalizer returns a printer for tag.
func NewLocalizer(tag language.Tag) Localizer {
	return message.NewPrinter(tag)
}

// RenderOrphans renders the orphan report.
func RenderOrphans(loc Localizer, orphans []string) (subject, body string) {
	var b strings.Builder
	b.WriteString(loc.Sprintf(keyOrphansHeading))
	b.WriteString("\n\n")
	b.WriteString(loc.Sprintf(keyOrphansBody, len(orphans)))
	b.WriteString("\n\n")
	for _, code := range orphans {
		b.WriteString("  ")
		b.WriteString(code)
		b.WriteString("\n")
	}
	return loc.Sprintf(keyOrphansSubject), b.String()
}

// FailureReport is the content of a failure notification.
type FailureReport struct {
	Host    string
	RunID   string
	Time    time.Time
	LogPath string

	// BlockedProposed and BlockedThreshold are set when the governor
	// refused the removal phase.
	BlockedProposed  int
	BlockedThreshold int

	Errors []string
}

// RenderFailure renders the failure report.
func RenderFailure(loc Localizer, r FailureReport) (subject, body string) {
	var b strings.Builder
	b.WriteString(loc.Sprintf(keyFailureHeading))
	b.WriteString("\n\n")
	b.WriteString(loc.Sprintf(keyFailureBody, r.Host, r.RunID, r.Time.Format(time.RFC3339)))
	b.WriteString("\n")
	if r.LogPath != "" {
		b.WriteString(loc.Sprintf(keyFailureLog, r.LogPath))
		b.WriteString("\n")
	}
	if r.BlockedProposed > 0 {
		b.WriteString("\n")
		b.WriteString(loc.Sprintf(keyFailureBlocked, r.BlockedProposed, r.BlockedThreshold))
		b.WriteString("\n")
	}
	if len(r.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(loc.Sprintf(keyFailureErrors))
		b.WriteString("\n")
		for _, e := range r.Errors {
			b.WriteString("  - ")
			b.WriteString(e)
			b.WriteString("\n")
		}
	}
	return loc.Sprintf(keyFailureSubject, r.Time.Format("2006-01-02")), b.String()
}
