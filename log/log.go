// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides the minimal leveled-logging contract vertipaq needs:
// a Logger that accepts (level, keyvals...), a severity Filter, and a Helper
// with printf-style convenience methods. It intentionally mirrors the small
// surface a caller can plug any structured logger into.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level is a logging severity.
type Level int

// Severity levels, lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal logging sink implementations must satisfy.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes plain lines to an io.Writer.
type stdLogger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdLogger returns a Logger that writes to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{out: w}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintln(l.out, append([]interface{}{level.String()}, keyvals...)...)
	return err
}

// filter wraps a Logger and drops records below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// FilterOption configures a filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level a record must have to pass through.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.min = level }
}

// NewFilter wraps next with the given options.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filter{next: next, min: LevelInfo}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.min {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger.
func NewHelper(logger Logger) *Helper {
	if logger == nil {
		logger = NewStdLogger(os.Stderr)
	}
	return &Helper{logger: logger}
}

// Debug logs at LevelDebug.
func (h *Helper) Debug(args ...interface{}) {
	h.logger.Log(LevelDebug, fmt.Sprint(args...))
}

// Debugf logs a formatted message at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) {
	h.logger.Log(LevelDebug, fmt.Sprintf(format, args...))
}

// Warn logs at LevelWarn.
func (h *Helper) Warn(args ...interface{}) {
	h.logger.Log(LevelWarn, fmt.Sprint(args...))
}

// Warnf logs a formatted message at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) {
	h.logger.Log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs at LevelError.
func (h *Helper) Error(args ...interface{}) {
	h.logger.Log(LevelError, fmt.Sprint(args...))
}

// Errorf logs a formatted message at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) {
	h.logger.Log(LevelError, fmt.Sprintf(format, args...))
}
