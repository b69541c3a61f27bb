// Package ui provides terminal UI components and styling for projectkb.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// LogLevelEnv overrides the startup log level (debug, info, warn, error).
const LogLevelEnv = "PROJECTKB_LOG_LEVEL"

// InitLogger configures the default logger. Output goes to stderr; stdout
// carries search results and the MCP protocol.
func InitLogger() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("projectkb")
	log.SetReportCaller(false)
	log.SetReportTimestamp(false)
	log.SetLevel(envLevel(log.InfoLevel))
}

// SetDebug switches debug logging on or off. Debug output also reports the
// calling file. Turning it off restores the startup level.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		return
	}
	log.SetLevel(envLevel(log.InfoLevel))
	log.SetReportCaller(false)
}

func envLevel(fallback log.Level) log.Level {
	raw := strings.TrimSpace(os.Getenv(LogLevelEnv))
	if raw == "" {
		return fallback
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return fallback
	}
	return level
}
