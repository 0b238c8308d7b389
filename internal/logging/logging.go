// Package logging builds the process-wide zerolog.Logger used by both
// binaries. The teacher logs ambient failures through a bare PrintError
// helper wrapping fmt.Sprint; we keep its "log once at the failing
// operation, never crash the process" discipline (§7) but give every line
// structured fields instead of a free-form string.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-formatted logger. verbose enables debug-level output;
// otherwise the floor is info.
func New(verbose bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}
