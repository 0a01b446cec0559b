package main

import (
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
)

// setupLog configures logging. Playback output goes to stdout, so logs
// go to a file when READALOUD_LOGFILE is set and are discarded
// otherwise. READALOUD_DEBUG enables debug-level logging.
func setupLog() (func() error, error) {
	if debug, _ := strconv.ParseBool(os.Getenv("READALOUD_DEBUG")); debug {
		log.SetLevel(log.DebugLevel)
	}

	logFile := os.Getenv("READALOUD_LOGFILE")
	if logFile == "" {
		log.SetOutput(io.Discard)
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
