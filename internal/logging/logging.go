package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a component-tagged logger writing JSON to stdout.
func New(component string) zerolog.Logger {
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
