// Package logging provides leveled, colorized log helpers for the agent.
// Debug and verbose output are gated at runtime; everything else is always
// shown. The agent never crashes on a bad sample, so most failure paths end
// here rather than in a returned error.
package logging

import (
	"log"

	"github.com/fatih/color"
)

var (
	debugMode   bool
	verboseMode bool

	colorDebug   = color.New(color.FgCyan).SprintfFunc()
	colorVerbose = color.New(color.FgBlue).SprintfFunc()
	colorInfo    = color.New(color.FgGreen).SprintfFunc()
	colorError   = color.New(color.FgRed, color.Bold).SprintfFunc()
	colorWarning = color.New(color.FgYellow).SprintfFunc()
)

// Configure sets the gate flags. Debug implies verbose.
func Configure(debug, verbose bool) {
	debugMode = debug
	verboseMode = verbose
}

// Debugf prints debug messages if debug mode is enabled.
func Debugf(format string, args ...interface{}) {
	if debugMode {
		log.Print(colorDebug("[DEBUG] "+format, args...))
	}
}

// Verbosef prints verbose messages if verbose or debug mode is enabled.
func Verbosef(format string, args ...interface{}) {
	if verboseMode || debugMode {
		log.Print(colorVerbose("[VERBOSE] "+format, args...))
	}
}

// Infof prints info messages (always shown).
func Infof(format string, args ...interface{}) {
	log.Print(colorInfo("[INFO] "+format, args...))
}

// Errorf prints error messages (always shown).
func Errorf(format string, args ...interface{}) {
	log.Print(colorError("[ERROR] "+format, args...))
}

// Warnf prints warning messages (always shown).
func Warnf(format string, args ...interface{}) {
	log.Print(colorWarning("[WARNING] "+format, args...))
}
