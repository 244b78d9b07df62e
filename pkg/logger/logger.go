package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Logger wraps charmbracelet/log with console-wide configuration.
type Logger struct {
	*log.Logger
}

var (
	instance *Logger
	once     sync.Once
)

// GetLogger returns the shared logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		instance = &Logger{
			Logger: log.NewWithOptions(os.Stderr, log.Options{
				Level:           log.InfoLevel,
				ReportTimestamp: true,
				TimeFormat:      "15:04:05",
			}),
		}
	})
	return instance
}

// SetLogLevel sets the level from its string name; unknown names fall back
// to info.
func (l *Logger) SetLogLevel(level string) {
	parsed := parseLevel(level)
	l.SetLevel(parsed)
	log.SetLevel(parsed)
	l.Debug("Log level set", "level", level)
}

// ConfigureFromEnv applies CUSTOS_LOG_LEVEL, or debug level when ENV=dev.
func (l *Logger) ConfigureFromEnv() {
	if level := os.Getenv("CUSTOS_LOG_LEVEL"); level != "" {
		l.SetLogLevel(level)
		return
	}
	if os.Getenv("ENV") == "dev" {
		l.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
		l.Debug("Debug logging enabled from ENV=dev")
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Info logs an info message on the shared logger.
func Info(msg string, keyvals ...interface{}) {
	GetLogger().Info(msg, keyvals...)
}

// Error logs an error message on the shared logger.
func Error(msg string, keyvals ...interface{}) {
	GetLogger().Error(msg, keyvals...)
}
