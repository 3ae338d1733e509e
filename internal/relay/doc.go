// Package relay runs the poll-dedupe-notify cycle.
//
// For each source, in registry order, the Engine fetches the most recent page
// of items, keeps those published strictly after the stored cursor, notifies
// them oldest first and persists the advanced cursor before moving on. A
// source never seen before is bootstrapped: its cursor is set to the newest
// item and nothing is sent. Failures are isolated per source and reported in
// the Summary.
package relay
