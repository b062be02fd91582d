// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"sync"

	"k8s.io/klog/v2"
)

// Level is the log message severity level below which we suppress messages.
type Level int32

const (
	// LevelDebug corresponds to debug messages.
	LevelDebug Level = iota
	// LevelInfo corresponds to informational messages.
	LevelInfo
	// LevelWarn corresponds to warning messages.
	LevelWarn
	// LevelError corresponds to error messages.
	LevelError
)

// Logger is the interface for producing log messages for a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and exits with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message, then panics with the same.
	Panic(format string, args ...interface{})

	// EnableDebug enables or disables debug messages for this Logger,
	// returning the previous setting.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single registered source.
type logger struct {
	source string
	debug  bool
}

// log is our runtime state: all loggers by source and the active level.
var log = struct {
	sync.RWMutex
	level   Level
	loggers map[string]*logger
}{
	level:   LevelInfo,
	loggers: make(map[string]*logger),
}

// NewLogger creates a logger instance for the given source, reusing an
// already registered instance if the source is known.
func NewLogger(source string) Logger {
	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}

	l := &logger{source: source, debug: defaultDebugFlags.enabled(source)}
	log.loggers[source] = l

	return l
}

// Default returns the default logger instance.
func Default() Logger {
	return NewLogger("default")
}

// SetLevel sets the minimum severity of emitted messages.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// EnableDebug enables or disables debug messages for the given sources.
func EnableDebug(enabled bool, sources ...string) {
	for _, source := range sources {
		NewLogger(source).EnableDebug(enabled)
	}
}

// Flush flushes any pending log messages in the backend.
func Flush() {
	klog.Flush()
}

func (l *logger) format(format string, args ...interface{}) string {
	return fmt.Sprintf(l.source+": "+format, args...)
}

func (l *logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() || !emits(LevelDebug) {
		return
	}
	klog.InfoDepth(1, "D: "+l.format(format, args...))
}

func (l *logger) Info(format string, args ...interface{}) {
	if !emits(LevelInfo) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l *logger) Warn(format string, args ...interface{}) {
	if !emits(LevelWarn) {
		return
	}
	klog.WarningDepth(1, l.format(format, args...))
}

func (l *logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.format(format, args...))
}

func (l *logger) Fatal(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.format(format, args...))
	klog.Flush()
	os.Exit(1)
}

func (l *logger) Panic(format string, args ...interface{}) {
	msg := l.format(format, args...)
	klog.ErrorDepth(1, msg)
	klog.Flush()
	panic(msg)
}

func (l *logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()

	old := l.debug
	l.debug = state

	return old
}

func (l *logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()

	return l.debug
}

func (l *logger) Source() string {
	return l.source
}

// emits checks whether the given severity level is currently emitted.
func emits(level Level) bool {
	log.RLock()
	defer log.RUnlock()

	return level >= log.level
}
