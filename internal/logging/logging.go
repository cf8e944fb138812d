// Package logging centralizes zerolog setup for the engine process,
// matching the teacher CLI's debug-flag-gated init pattern: structured,
// colorized console output to a log file in debug mode, errors only to
// /dev/null otherwise (the engine has no TUI to corrupt, but the
// quiet-by-default posture still matters for a background service).
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. debug enables DebugLevel
// and console-formatted output to logPath (created if needed); in
// non-debug mode only errors are logged, to /dev/null.
func Init(debug bool, logPath string) error {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)

		if logPath == "" {
			logPath = filepath.Join(os.TempDir(), "streamcore-engine.log")
		}
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return fmt.Errorf("logging: create log dir: %w", err)
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("logging: open log file: %w", err)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
		log.Info().Msg("streamcore engine starting (debug mode)")
		return nil
	}

	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
	if err == nil {
		log.Logger = log.Output(devNull)
	}
	return nil
}
