package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Logger provides color-coded leveled logging on stderr
type Logger struct {
	Verbose bool
	Quiet   bool
	NoColor bool

	// Out defaults to os.Stderr
	Out io.Writer
}

// NewLogger creates a new logger
func NewLogger(verbose, quiet, noColor bool) *Logger {
	return &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
		Out:     os.Stderr,
	}
}

var (
	colorInfo    = color.New(color.FgBlue)
	colorSuccess = color.New(color.FgGreen)
	colorWarning = color.New(color.FgYellow)
	colorError   = color.New(color.FgRed, color.Bold)
	colorDebug   = color.New(color.FgCyan)
)

func (l *Logger) print(c *color.Color, prefix, format string, args ...interface{}) {
	out := l.Out
	if out == nil {
		out = os.Stderr
	}
	msg := prefix + fmt.Sprintf(format, args...)
	if l.NoColor {
		fmt.Fprintln(out, msg)
		return
	}
	c.Fprintln(out, msg)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(colorInfo, "[INFO] ", format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(colorSuccess, "[SUCCESS] ", format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(colorWarning, "[WARNING] ", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(colorError, "[ERROR] ", format, args...)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.print(colorDebug, "[DEBUG] ", format, args...)
}
