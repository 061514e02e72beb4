// Package recurrence turns event definitions into concrete occurrences.
//
// All calendar arithmetic happens in the anchor's zone. The k-th
// occurrence is always derived from the anchor itself, never by stepping
// from the previous occurrence, so month-end clamping cannot drift
// (Jan 31 + 1 month is Feb 28/29, + 2 months is Mar 31).
package recurrence
