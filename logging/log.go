// Package logging configures the logrus logger shared by the launcher,
// state machine, and the minitarp command. Adapted from
// majorcontext-moat's internal/log package: an Options struct selecting
// verbosity/format plus an optional file sink, rebuilt against logrus
// rather than log/slog since logrus is the teacher's stack.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures the logger New builds.
type Options struct {
	// Verbose enables debug-level output.
	Verbose bool
	// JSONFormat switches the formatter from text to JSON.
	JSONFormat bool
	// FilePath, if non-empty, additionally writes entries to the named
	// file, with the same level and formatter as the primary writer.
	FilePath string
	// Output overrides the primary writer (defaults to os.Stderr).
	Output io.Writer
}

// New builds a logrus.Logger per opts.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	if opts.JSONFormat {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		log.SetOutput(io.MultiWriter(out, f))
	} else {
		log.SetOutput(out)
	}

	return log, nil
}
