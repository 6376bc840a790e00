// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// package logging provides the application-wide logger. All packages log
// through the helpers below so the output format and level are controlled
// in one place.
package logging

import (
	"fmt"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below; L is exported for the rare case where structured fields are needed.
var L = clog.NewWithOptions(os.Stderr, clog.Options{
	ReportTimestamp: true,
})

// SetLevel adjusts the minimum level emitted by the package logger.
// Unknown level names fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		L.SetLevel(clog.DebugLevel)
	case "warn", "warning":
		L.SetLevel(clog.WarnLevel)
	case "error":
		L.SetLevel(clog.ErrorLevel)
	default:
		L.SetLevel(clog.InfoLevel)
	}
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...any) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...any) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...any) {
	L.Error(fmt.Sprintf(format, v...))
}
