// Package logging wraps the standard library's log.Logger with the small
// set of component prefixes this SDK's components use, matching the
// teacher's own plain-log.Printf style (internal/cli, internal/controller)
// rather than pulling in a structured-logging dependency the teacher itself
// doesn't use.
package logging

import (
	"log"
	"os"
)

// Logger is the minimal logging surface every component depends on.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Component wraps a Logger with a fixed "[name] " prefix.
type Component struct {
	name   string
	logger Logger
}

// New returns a Component logger. If logger is nil, a new *log.Logger
// writing to stderr with log.LstdFlags is used (the same settings as
// log.Default(), though not that shared instance), the fallback the
// teacher's cli.go effectively relies on via the package-level "log"
// functions.
func New(name string, logger Logger) *Component {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Component{name: name, logger: logger}
}

func (c *Component) Printf(format string, args ...interface{}) {
	c.logger.Printf("["+c.name+"] "+format, args...)
}
