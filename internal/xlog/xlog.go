// Package xlog is the engine's logging facade. Call sites use a
// subject-first Printf-style API (Debugf(subject, format, args...)) rather
// than a bare message, so that log lines can always be traced back to the
// catalogue entry or layer that produced them — the same shape observed
// throughout the teacher codebase's own logging call sites
// (fs.Debugf(object, "..."), fs.Infof(object, "..."), fs.Errorf(object, "...")).
package xlog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var std = logrus.StandardLogger()

func init() {
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts the minimum level that reaches the log sink.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

func subjectField(subject any) logrus.Fields {
	if subject == nil {
		return logrus.Fields{}
	}
	return logrus.Fields{"subject": fmt.Sprint(subject)}
}

// Debugf logs a debug-level message about subject (an entry, layer, or path).
func Debugf(subject any, format string, args ...any) {
	std.WithFields(subjectField(subject)).Debugf(format, args...)
}

// Infof logs an info-level message about subject.
func Infof(subject any, format string, args ...any) {
	std.WithFields(subjectField(subject)).Infof(format, args...)
}

// Errorf logs an error-level message about subject. It does not itself
// construct a direrr.Error — callers still return one; this only records it.
func Errorf(subject any, format string, args ...any) {
	std.WithFields(subjectField(subject)).Errorf(format, args...)
}

// Logf logs at an explicit logrus level, for call sites that pick the level
// dynamically (e.g. the overwriting-policy evaluator logging its decision at
// Debug normally but Warn when an `ask` callback had to be invoked).
func Logf(level logrus.Level, subject any, format string, args ...any) {
	std.WithFields(subjectField(subject)).Logf(level, format, args...)
}
