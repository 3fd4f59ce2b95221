// Package logging provides the component loggers used across the
// module.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a stderr logger with a "[component] " prefix.
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

// NewRotating returns a logger writing to a size-rotated file, for
// long-running processes like the watch daemon. Output is mirrored to
// stderr.
func NewRotating(component, path string, maxSizeMB int) *log.Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     30,
	}
	return log.New(io.MultiWriter(os.Stderr, w), "["+component+"] ", log.LstdFlags)
}
