// Package reflection retrospectively audits attribution results against
// injection history.
//
// After a PR review attributes confirmed findings to patterns, the detector
// compares those patterns with the issue's most recent injection log. A
// pattern that was attributed but never surfaced, and that could not have
// matched the logged task profile, means the task was tagged too narrowly
// for the selector to help. Each such gap is recorded as a TaggingMiss
// naming the concrete tags the profile lacked ("touch:caching",
// "tech:redis"), so profiles get fixed with evidence instead of guesses.
//
// Detection is read-only over the audit trail: it never re-runs the
// selector and never mutates patterns. The injection log row is the sole
// source of truth for what was surfaced.
package reflection
