// Package lifecycle drives evidence submissions through the governance
// pipeline:
//
//	rules -> materialize -> kernel -> gate
//
// Every attempt yields exactly one Outcome. Skips, rule rejections and
// kernel denials are committed as non-allow log entries and never stop the
// run; a system error (materializer failure, timeout, log failure) aborts
// only the current attempt and is not logged as a governance outcome.
//
// A Submission may carry resubmissions. After a denial the next
// resubmission is attempted with the same evidence id and the next attempt
// number, until one is allowed or they run out.
package lifecycle
