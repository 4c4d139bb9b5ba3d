package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	currentLevel atomic.Value // slog.Level
	output       io.Writer    = os.Stderr
	outputMu     sync.Mutex
)

// LevelTrace sits below debug and is used for per-request detail
const LevelTrace = slog.Level(-8)

func init() {
	level, err := parseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		level = slog.LevelInfo
	}

	currentLevel.Store(level)
	updateHandler()
}

// getenv reads NIMBUS_<key>, falling back to the bare key
func getenv(key string) string {
	if v, ok := os.LookupEnv("NIMBUS_" + key); ok {
		return v
	}
	return os.Getenv(key)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

func levelName(l slog.Level) string {
	switch l {
	case slog.LevelError:
		return "error"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelInfo:
		return "info"
	case slog.LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// replaceAttr renames the trace level and formats the timestamp. JSON output
// uses RFC 3339 under "timestamp" for log shippers.
func replaceAttr(jsonFormat bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if jsonFormat {
				return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02 15:04:05.000-07:00"))
		case slog.LevelKey:
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
		}
		return a
	}
}

func updateHandler() {
	outputMu.Lock()
	w := output
	outputMu.Unlock()

	jsonFormat := strings.EqualFold(getenv("LOG_FORMAT"), "json")
	opts := &slog.HandlerOptions{
		Level:       currentLevel.Load().(slog.Level),
		ReplaceAttr: replaceAttr(jsonFormat),
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetOutput redirects log output, mostly useful in tests
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
	updateHandler()
}

// SetLogLevel atomically updates the log level at runtime
func SetLogLevel(level string) error {
	newLevel, err := parseLevel(level)
	if err != nil {
		return err
	}

	currentLevel.Store(newLevel)
	updateHandler()

	LogInfoWithFields("logging", "Log level changed", map[string]any{
		"new_level": levelName(newLevel),
	})
	return nil
}

// GetLogLevel returns the current log level as a string
func GetLogLevel() string {
	return levelName(currentLevel.Load().(slog.Level))
}

func Logf(format string, args ...any) {
	slog.Default().Info(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	slog.Default().Error(fmt.Sprintf(format, args...))
}

func LogWarn(format string, args ...any) {
	slog.Default().Warn(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...any) {
	slog.Default().Debug(fmt.Sprintf(format, args...))
}

func logFields(level slog.Level, component, message string, fields map[string]any) {
	if currentLevel.Load().(slog.Level) > level {
		return
	}
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	slog.Default().Log(context.Background(), level, message, args...)
}

func LogInfoWithFields(component, message string, fields map[string]any) {
	logFields(slog.LevelInfo, component, message, fields)
}

func LogDebugWithFields(component, message string, fields map[string]any) {
	logFields(slog.LevelDebug, component, message, fields)
}

func LogErrorWithFields(component, message string, fields map[string]any) {
	logFields(slog.LevelError, component, message, fields)
}

func LogWarnWithFields(component, message string, fields map[string]any) {
	logFields(slog.LevelWarn, component, message, fields)
}

func LogTraceWithFields(component, message string, fields map[string]any) {
	logFields(LevelTrace, component, message, fields)
}
