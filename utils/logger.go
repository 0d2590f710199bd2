// Logging for the engine is built on zerolog. Every package obtains a
// component-tagged child of the global logger; the consumer picks the
// level once at startup.
package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func InitLogger(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
}

// GetLogger returns a child logger tagged with an engine component name.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// SetLogOutput redirects the global logger, keeping the console format.
// Tests use it to capture or silence engine logging.
func SetLogOutput(w io.Writer) {
	log.Logger = zerolog.New(consoleWriter(w)).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
}
