// Package logger provides component-tagged, leveled logging.
//
// Output goes to stderr by default because stdout may carry the stdio
// bridge transport.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	out    io.Writer
	asJSON bool
}

// LogEntry is the JSON shape written when JSON output is enabled.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

var std = &Logger{level: INFO, out: os.Stderr}

func SetLevel(level LogLevel) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

func GetLevel() LogLevel {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// ParseLevel maps a config string to a level; unknown values are INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetOutput redirects log output. Used by tests and by the CLI when a
// log file is configured.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out = w
}

// EnableJSON switches output to one JSON object per line.
func EnableJSON(on bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.asJSON = on
}

func logMessage(level LogLevel, component, message string, fields map[string]any) {
	std.mu.Lock()
	defer std.mu.Unlock()

	if level < std.level {
		return
	}

	now := time.Now().UTC()
	if std.asJSON {
		entry := LogEntry{
			Level:     levelNames[level],
			Timestamp: now.Format(time.RFC3339Nano),
			Component: component,
			Message:   message,
			Fields:    fields,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		fmt.Fprintln(std.out, string(data))
	} else {
		var b strings.Builder
		b.WriteString(now.Format("2006/01/02 15:04:05"))
		b.WriteString(" [")
		b.WriteString(levelNames[level])
		b.WriteString("]")
		if component != "" {
			b.WriteString(" ")
			b.WriteString(component)
			b.WriteString(":")
		}
		b.WriteString(" ")
		b.WriteString(message)
		if len(fields) > 0 {
			b.WriteString(" {")
			b.WriteString(formatFields(fields))
			b.WriteString("}")
		}
		fmt.Fprintln(std.out, b.String())
	}

	if level == FATAL {
		os.Exit(1)
	}
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, ", ")
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) { logMessage(INFO, "", message, nil) }

func InfoC(component, message string) { logMessage(INFO, component, message, nil) }

func InfoCF(component, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) { logMessage(WARN, "", message, nil) }

func WarnC(component, message string) { logMessage(WARN, component, message, nil) }

func WarnCF(component, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) { logMessage(ERROR, "", message, nil) }

func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }

func ErrorCF(component, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}
