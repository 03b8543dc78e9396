package treq

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger returns a component-scoped structured logger.
func Logger(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// ConfigureLogging applies the daemon-wide logging setup.
func ConfigureLogging(out io.Writer, debug bool) {
	if out != nil {
		logrus.SetOutput(out)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
