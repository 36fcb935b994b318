package stash

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value interface{}
}

// Helper functions for creating fields
func String(key, val string) Field      { return Field{Key: key, Value: val} }
func Int(key string, val int) Field     { return Field{Key: key, Value: val} }
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }
func Duration(key string, val time.Duration) Field {
	return Field{Key: key, Value: val.String()}
}
func Err(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}
func Strings(key string, vals []string) Field { return Field{Key: key, Value: vals} }

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// jsonLogger implements Logger as one JSON object per line.
type jsonLogger struct {
	logger     *log.Logger
	minLevel   LogLevel
	baseFields []Field
}

// NewLogger creates a JSON logger filtering below the given level.
func NewLogger(level LogLevel, output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}

	return &jsonLogger{
		logger:   log.New(output, "", 0),
		minLevel: level,
	}
}

// NewDefaultLogger creates a logger with INFO level writing to stdout.
func NewDefaultLogger() Logger {
	return NewLogger(INFO, os.Stdout)
}

func (l *jsonLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields) }
func (l *jsonLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields) }
func (l *jsonLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields) }
func (l *jsonLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields) }

func (l *jsonLogger) WithFields(fields ...Field) Logger {
	combined := make([]Field, 0, len(l.baseFields)+len(fields))
	combined = append(combined, l.baseFields...)
	combined = append(combined, fields...)

	return &jsonLogger{
		logger:     l.logger,
		minLevel:   l.minLevel,
		baseFields: combined,
	}
}

func (l *jsonLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.minLevel {
		return
	}

	record := make(map[string]interface{}, len(l.baseFields)+len(fields)+3)
	record["timestamp"] = time.Now().Format(time.RFC3339Nano)
	record["level"] = level.String()
	record["message"] = msg
	for _, f := range l.baseFields {
		record[f.Key] = redact(f)
	}
	for _, f := range fields {
		record[f.Key] = redact(f)
	}

	line, err := json.Marshal(record)
	if err != nil {
		l.logger.Printf(`{"level":"ERROR","message":"failed to marshal log","error":"%s"}`, err.Error())
		return
	}

	l.logger.Println(string(line))
}

// sensitiveKeys are field names whose values never reach the log: query
// parameters can carry credentials, and store configuration carries
// connection secrets.
var sensitiveKeys = map[string]bool{
	"password":          true,
	"token":             true,
	"secret":            true,
	"authorization":     true,
	"api_key":           true,
	"connection_string": true,
	"dsn":               true,
}

// redact masks the value of a sensitive field.
func redact(f Field) interface{} {
	if sensitiveKeys[strings.ToLower(f.Key)] {
		return "[REDACTED]"
	}
	return f.Value
}

// noopLogger implements Logger but does nothing.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields ...Field) {}
func (n *noopLogger) Info(msg string, fields ...Field)  {}
func (n *noopLogger) Warn(msg string, fields ...Field)  {}
func (n *noopLogger) Error(msg string, fields ...Field) {}
func (n *noopLogger) WithFields(fields ...Field) Logger { return n }

// NewNoopLogger creates a logger that discards all output.
func NewNoopLogger() Logger {
	return &noopLogger{}
}
