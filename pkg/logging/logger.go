package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It is usable before InitLogger is called,
// in which case it logs at Info level with the text formatter.
var Log = logrus.New()

// InitLogger configures Log in place so entries derived from it earlier
// follow the new settings. Output goes to stderr, leaving stdout to bodies.
func InitLogger(debug bool) {
	Log.SetOutput(os.Stderr)

	if debug {
		Log.SetLevel(logrus.DebugLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
