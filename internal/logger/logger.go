// Package logger holds the process-wide logrus logger.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the shared logger. It is usable before Init with logrus defaults.
var Logger = logrus.New()

// Init configures the shared logger with the given level name
// ("debug", "info", "warn", ...). Unknown levels fall back to info.
func Init(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	Logger.SetOutput(out)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
