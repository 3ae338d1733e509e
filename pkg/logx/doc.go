// Package logx wraps zerolog for tubewatch.
//
// Components receive a Logger by value and tag it with a "comp" field. A
// Service owns the outputs (readable console, JSON file, operator alerts
// through the notifier) and can swap them on config reload without
// re-creating loggers.
package logx
