package ir

// ErrorKind classifies a failure recorded during a sync run.
type ErrorKind string

const (
	// KindConnection: an external database could not be reached or opened.
	KindConnection ErrorKind = "CONNECTION"

	// KindQuery: a query against a reachable database failed.
	KindQuery ErrorKind = "QUERY"

	// KindSanityThresholdExceeded: the governor refused a mass unenrolment.
	KindSanityThresholdExceeded ErrorKind = "SANITY_THRESHOLD_EXCEEDED"

	// KindResolutionFailure: a code could not be mapped to an LMS id.
	KindResolutionFailure ErrorKind = "RESOLUTION_FAILURE"

	// KindConfigurationMissing: a required setting is absent.
	KindConfigurationMissing ErrorKind = "CONFIGURATION_MISSING"
)
