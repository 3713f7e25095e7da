// Package util provides helper functions for logging events, reconnect backoff and
// virtual serial ports.
package util

import (
	"fmt"
	"log"
	"os"
	"time"
)

// SetupLogger routes the standard logger to stderr without its own timestamp;
// every line is stamped by the helpers below.
func SetupLogger() {
	log.SetOutput(os.Stderr)
	log.SetFlags(0)
}

// Info prints general system information messages with timestamp.
func Info(msg string, args ...any) {
	log.Printf("[INFO] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}

// Warn prints recoverable problems with timestamp.
func Warn(msg string, args ...any) {
	log.Printf("[WARN] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}

// Error prints error messages with timestamp.
func Error(msg string, args ...any) {
	log.Printf("[ERROR] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}
