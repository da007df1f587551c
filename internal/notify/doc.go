// Package notify renders and delivers operator notifications.
//
// Two messages exist: the orphan report, listing SIS course codes that
// have no course shell in the LMS, and the failure report sent when a run
// recorded errors. Message text lives in an x/text message catalog so that
// subjects and bodies are rendered through a Localizer. Delivery is
// best-effort: a failed send is logged by the caller, never retried.
package notify
