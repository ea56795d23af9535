package logutil

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	jsonMode atomic.Bool

	defaultOnce sync.Once
	defaultLog  *logrus.Logger
)

func init() {
	if os.Getenv("RUMORS_LOG_JSON") == "1" || os.Getenv("RUMORS_LOG_FORMAT") == "json" {
		jsonMode.Store(true)
	}
}

// SetJSON switches loggers created afterwards (and the default one) between
// JSON and text output.
func SetJSON(enabled bool) {
	jsonMode.Store(enabled)
	Default().SetFormatter(formatter())
}

func formatter() logrus.Formatter {
	if jsonMode.Load() {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

// New builds a logger configured from RUMORS_LOG_FORMAT, RUMORS_LOG_JSON and
// RUMORS_LOG_LEVEL.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(formatter())
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("RUMORS_LOG_LEVEL"))); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

// Default returns the process wide logger.
func Default() *logrus.Logger {
	defaultOnce.Do(func() { defaultLog = New() })
	return defaultLog
}

// Component tags l with the name of the worker or subsystem logging through it.
func Component(l logrus.FieldLogger, name string) logrus.FieldLogger {
	if l == nil {
		l = Default()
	}
	return l.WithField("component", name)
}
