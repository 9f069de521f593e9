// Package debuglog holds the default logger used when the host application
// does not supply one.
package debuglog

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger logrus.FieldLogger = newDefaultLogger()
	mu     sync.RWMutex
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogger replaces the current default logger.
// This function is thread-safe and can be called concurrently.
func SetLogger(l logrus.FieldLogger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = newDefaultLogger()
	}
	logger = l
}

// GetLogger returns the current default logger.
// This function is thread-safe and can be called concurrently.
func GetLogger() logrus.FieldLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetOutput redirects the default logger. It is a no-op when the current
// logger is not a *logrus.Logger.
func SetOutput(w io.Writer) {
	if l, ok := GetLogger().(*logrus.Logger); ok {
		l.SetOutput(w)
	}
}

// SetLevel changes the level of the default logger. It is a no-op when the
// current logger is not a *logrus.Logger.
func SetLevel(level logrus.Level) {
	if l, ok := GetLogger().(*logrus.Logger); ok {
		l.SetLevel(level)
	}
}

func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}
