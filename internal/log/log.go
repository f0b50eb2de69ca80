// Package log centralizes logrus configuration the way linkerd2's
// pkg/flags.ConfigureAndParse does for its control-plane processes:
// a single parsed level, per-component fields attached at the call
// site.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Logger is a component-scoped logger.
type Logger = logrus.Entry

// For returns a logger tagged with component=name.
func For(name string) *Logger {
	return base.WithField("component", name)
}

// SetLevel parses and applies level, mirroring
// pkg/flags.ConfigureAndParse's "-log-level" flag.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(l)
	return nil
}
