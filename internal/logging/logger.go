// Package logging provides structured JSON logging for the catalog backend.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a configuration string ("debug", "INFO", ...) into a
// LogLevel. Unknown values fall back to LevelInfo.
func ParseLevel(s string) LogLevel {
	level := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRank[level]; ok {
		return level
	}
	return LevelInfo
}

// Fields is the structured context attached to a log entry.
type Fields = map[string]interface{}

// sink is shared by a logger and all of its named children so that lines
// from different components never interleave.
type sink struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel LogLevel
}

// Logger provides structured JSON logging. The zero value is not usable;
// obtain one from Get, Named or New.
type Logger struct {
	sink      *sink
	component string
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// New creates a standalone logger writing to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	return &Logger{sink: &sink{out: out, minLevel: minLevel}}
}

// Init initializes the global logger. Only the first call has an effect.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		global = New(out, minLevel)
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(os.Stdout, LevelInfo)
	}
	return global
}

// Named returns a child of the global logger tagged with a component name.
func Named(component string) *Logger {
	return Get().Named(component)
}

// Named returns a child logger that adds a "component" field to every entry.
func (l *Logger) Named(component string) *Logger {
	if l.component != "" {
		component = l.component + "." + component
	}
	return &Logger{sink: l.sink, component: component}
}

// SetLevel changes the minimum level for this logger and every logger
// sharing its output.
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// LogEntry represents a structured log entry.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (l *Logger) log(level LogLevel, message string, err error, context Fields) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelRank[level] < levelRank[l.sink.minLevel] {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Component: l.component,
		Message:   message,
		Context:   context,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		log.Printf("Failed to marshal log entry: %v\n", jsonErr)
		return
	}

	fmt.Fprintln(l.sink.out, string(data))
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...Fields) {
	l.log(LevelDebug, message, nil, mergeFields(context...))
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...Fields) {
	l.log(LevelInfo, message, nil, mergeFields(context...))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...Fields) {
	l.log(LevelWarn, message, nil, mergeFields(context...))
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...Fields) {
	l.log(LevelError, message, err, mergeFields(context...))
}

// ErrorWithCode logs an error and records its error code under "error_code".
func (l *Logger) ErrorWithCode(message, code string, err error, context ...Fields) {
	merged := mergeFields(context...)
	withCode := make(Fields, len(merged)+1)
	for k, v := range merged {
		withCode[k] = v
	}
	withCode["error_code"] = code
	l.log(LevelError, message, err, withCode)
}

// mergeFields merges multiple context maps; later maps win.
func mergeFields(context ...Fields) Fields {
	switch len(context) {
	case 0:
		return nil
	case 1:
		return context[0]
	}
	merged := make(Fields)
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// Convenience functions using global logger

func Debug(message string, context ...Fields) {
	Get().Debug(message, context...)
}

func Info(message string, context ...Fields) {
	Get().Info(message, context...)
}

func Warn(message string, context ...Fields) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...Fields) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...Fields) {
	Get().ErrorWithCode(message, code, err, context...)
}
