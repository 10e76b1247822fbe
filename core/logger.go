package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ProductionLogger is the default Logger implementation.
//
// Output format follows LoggingConfig.Format:
//   - "json": one JSON object per line, for log aggregation
//   - "text": human-readable lines for local development
//
// Child loggers created through WithComponent share the parent's writer and
// lock, so entries from all components are written without interleaving.
type ProductionLogger struct {
	shared      *loggerOutput
	level       int
	format      string
	serviceName string
	component   string
}

type loggerOutput struct {
	mu sync.Mutex
	w  io.Writer
}

var logLevels = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// NewProductionLogger creates a logger from the logging configuration.
// Output may be "stdout", "stderr" or a file path; file outputs are rotated.
func NewProductionLogger(cfg LoggingConfig, serviceName string) *ProductionLogger {
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		w = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	return newProductionLogger(w, cfg.Level, cfg.Format, serviceName)
}

// NewWriterLogger creates a logger writing to w. Mostly useful in tests.
func NewWriterLogger(w io.Writer, level, format string) *ProductionLogger {
	return newProductionLogger(w, level, format, "hitlchat")
}

func newProductionLogger(w io.Writer, level, format, serviceName string) *ProductionLogger {
	lvl, ok := logLevels[strings.ToUpper(level)]
	if !ok {
		lvl = logLevels["INFO"]
	}
	if format != "text" {
		format = "json"
	}
	return &ProductionLogger{
		shared:      &loggerOutput{w: w},
		level:       lvl,
		format:      format,
		serviceName: serviceName,
	}
}

// WithComponent returns a child logger tagging entries with component.
func (l *ProductionLogger) WithComponent(component string) Logger {
	child := *l
	child.component = component
	return &child
}

// Close releases the underlying writer when it is closable (rotated files).
func (l *ProductionLogger) Close() error {
	if c, ok := l.shared.w.(io.Closer); ok && l.shared.w != os.Stdout && l.shared.w != os.Stderr {
		return c.Close()
	}
	return nil
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(context.Background(), "INFO", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(context.Background(), "ERROR", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(context.Background(), "WARN", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(context.Background(), "DEBUG", msg, fields)
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "INFO", msg, fields)
}

func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "ERROR", msg, fields)
}

func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "WARN", msg, fields)
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "DEBUG", msg, fields)
}

func (l *ProductionLogger) log(ctx context.Context, level, msg string, fields map[string]interface{}) {
	if logLevels[level] < l.level {
		return
	}

	entry := make(map[string]interface{}, len(fields)+6)
	for k, v := range fields {
		entry[k] = v
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			entry["trace_id"] = sc.TraceID().String()
			entry["span_id"] = sc.SpanID().String()
		}
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")

	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.format == "json" {
		l.writeJSON(timestamp, level, msg, entry)
		return
	}
	l.writeText(timestamp, level, msg, entry)
}

func (l *ProductionLogger) writeJSON(timestamp, level, msg string, entry map[string]interface{}) {
	entry["timestamp"] = timestamp
	entry["level"] = level
	entry["service"] = l.serviceName
	entry["message"] = msg
	if l.component != "" {
		entry["component"] = l.component
	}
	data, err := json.Marshal(entry)
	if err != nil {
		// Unserializable field values; fall back to their string form
		for k, v := range entry {
			entry[k] = fmt.Sprintf("%v", v)
		}
		data, _ = json.Marshal(entry)
	}
	fmt.Fprintln(l.shared.w, string(data))
}

func (l *ProductionLogger) writeText(timestamp, level, msg string, entry map[string]interface{}) {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if k == "error" {
			fmt.Fprintf(&b, " %s=%q", k, fmt.Sprint(entry[k]))
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, entry[k])
	}

	component := l.serviceName
	if l.component != "" {
		component = l.component
	}
	fmt.Fprintf(l.shared.w, "%s [%s] [%s] %s%s\n", timestamp, level, component, msg, b.String())
}
