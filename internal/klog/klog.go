// Package klog is the kernel's leveled diagnostic logger.
//
// Panicf terminates the process with a register-dump-style message:
// a fatal kernel line states a fact about hardware, not a filterable
// application event. Everything else — bootstrap phase tracing,
// scheduler decisions, pmap/vm_map tracing — goes through logrus.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		FullTimestamp:    false,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the minimum logged level (e.g. for verbose boot
// tracing under a debug build).
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Boot logs a bootstrap-phase milestone (vm_init, proc_init, ...).
func Boot(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Debugf logs fine-grained subsystem tracing (pmap walks, scheduler
// picks) at debug level, compiled in but filtered by default.
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Warnf logs a recoverable anomaly (e.g. a fallible allocation that
// failed and the caller opted in to handling it).
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Panicf logs the final diagnostic line and terminates the process.
// Used for fatal invariant violations (a removed PTE never entered,
// a buddy-misaligned free, exhaustion during bootstrap).
func Panicf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
