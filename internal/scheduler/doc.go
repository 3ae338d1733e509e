// Package scheduler triggers runs on a schedule inside `tubewatch serve`.
//
// It wraps robfig/cron with SkipIfStillRunning, so a run that outlasts its
// interval delays the next trigger instead of overlapping with it.
package scheduler
