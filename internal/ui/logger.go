// Package ui provides terminal styling and logger setup for docchat.
package ui

import (
	"os"

	"github.com/charmbracelet/log"
)

// InitLogger initializes the charm logger with default settings.
func InitLogger() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(log.TextFormatter)
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	log.SetReportTimestamp(false)
}

// SetDebug enables debug logging.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SetFormat switches between human readable ("text") and structured
// ("json", "logfmt") output. Structured formats carry timestamps.
func SetFormat(format string) {
	switch format {
	case "json":
		log.SetFormatter(log.JSONFormatter)
		log.SetReportTimestamp(true)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
		log.SetReportTimestamp(true)
	default:
		log.SetFormatter(log.TextFormatter)
		log.SetReportTimestamp(false)
	}
}
