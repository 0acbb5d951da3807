package indexmap

import (
	"os"

	"github.com/rs/zerolog"
)

// baseLogger is the logger every newly constructed IndexMap derives
// its own rank-tagged logger from.
var baseLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()

// SetLogger replaces the base logger new IndexMaps derive from.
// IndexMaps already constructed keep the logger they were given.
func SetLogger(l zerolog.Logger) {
	baseLogger = l
}

func newRankLogger(rank int) zerolog.Logger {
	return baseLogger.With().Int("rank", rank).Logger()
}

// DebugChecks gates the debug-mode owner cross-check the ghosted
// constructor performs (re-running resolveGhostOwners and comparing
// against caller-supplied owners). Off by default; the extra
// collective round-trip is only worth paying in tests.
var DebugChecks = false
