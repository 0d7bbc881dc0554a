// Package logging provides the line-oriented console log every podium
// component writes to. Lines look like:
//
//	INFO  2026-01-02T15:04:05.000Z [failover] transition from=STANDBY to=ACTIVE
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return LevelInfo
}

// sink is shared by a logger and every logger derived from it so that lines
// from different components never interleave.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes leveled key=value lines.
type Logger struct {
	sink      *sink
	component string
	deviceID  string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, deviceID: l.deviceID}
}

// WithDevice returns a logger that adds device=<id> to every line.
func (l *Logger) WithDevice(deviceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, deviceID: deviceID}
}

// SetLevel sets the minimum level for this logger and all derived loggers.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer for this logger and all derived loggers.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if len(fields) > 0 {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.deviceID != "" {
		merged["device"] = l.deviceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}
	l.sink.output.Write([]byte(line))
}

// --- Domain helpers ---

// Transition logs a failover state change.
func (l *Logger) Transition(from, to, reason string) {
	l.Info("transition", map[string]interface{}{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
}

// CommandApplied logs an accepted session mutation.
func (l *Logger) CommandApplied(kind, client string, sequence uint64) {
	l.Debug("command_applied", map[string]interface{}{
		"type":     kind,
		"client":   client,
		"sequence": sequence,
	})
}

// CommandRejected logs a refused command.
func (l *Logger) CommandRejected(kind, client, code, reason string) {
	l.Info("command_rejected", map[string]interface{}{
		"type":   kind,
		"client": client,
		"code":   code,
		"reason": reason,
	})
}

// PublishFailed logs a bus publish failure. Callers retry on their next tick.
func (l *Logger) PublishFailed(subject string, err error) {
	l.Warn("publish_failed", map[string]interface{}{
		"subject": subject,
		"error":   err.Error(),
	})
}

// DeviceStatus logs a peer status change.
func (l *Logger) DeviceStatus(deviceID, role, from, to string) {
	l.Info("device_status", map[string]interface{}{
		"peer": deviceID,
		"role": role,
		"from": from,
		"to":   to,
	})
}

// ClientConnected logs a client joining.
func (l *Logger) ClientConnected(clientID, remote string, capabilities []string) {
	l.Info("client_connected", map[string]interface{}{
		"client":       clientID,
		"remote":       remote,
		"capabilities": strings.Join(capabilities, ","),
	})
}

// ClientDisconnected logs a client leaving.
func (l *Logger) ClientDisconnected(clientID string, dropped uint64) {
	l.Info("client_disconnected", map[string]interface{}{
		"client":  clientID,
		"dropped": dropped,
	})
}
