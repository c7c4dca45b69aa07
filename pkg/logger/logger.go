// Package logger provides the leveled, colourised logger shared by the SDK packages.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu       sync.RWMutex
	logger   *log.Logger
	logLevel = INFO

	// plain disables colours for this logger only, leaving color.NoColor alone
	plain bool

	debugColor = color.New(color.FgCyan)
	infoColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	timeColor  = color.New(color.FgWhite)
)

// formatLog creates a pretty formatted log message
func formatLog(level LogLevel, noColor bool, format string, v ...interface{}) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, v...)

	paint := func(c *color.Color, f string, a ...interface{}) string {
		if noColor {
			return fmt.Sprintf(f, a...)
		}
		return c.Sprintf(f, a...)
	}

	timeStr := paint(timeColor, "[%s]", timestamp)

	var levelStr string
	switch level {
	case DEBUG:
		levelStr = paint(debugColor, "%-7s", "[DEBUG]")
	case INFO:
		levelStr = paint(infoColor, "%-7s", "[INFO]")
	case WARN:
		levelStr = paint(warnColor, "%-7s", "[WARN]")
	case ERROR:
		levelStr = paint(errorColor, "%-7s", "[ERROR]")
	}

	return fmt.Sprintf("%s %s [gamify] %s", timeStr, levelStr, message)
}

// Init initializes the logger on stdout with the specified log level
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(os.Stdout, "", 0)
	logLevel = ParseLevel(level)
	plain = false
}

// SetOutput redirects log lines to w. This logger stops colouring its lines
// when w is not stdout; other fatih/color users are unaffected.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", 0)
	plain = w != os.Stdout
}

// SetLevel changes the active level without touching the output.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	logLevel = ParseLevel(level)
}

// ParseLevel converts a level name to a LogLevel, defaulting to INFO.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func logf(level LogLevel, format string, v ...interface{}) {
	mu.RLock()
	l, current, noColor := logger, logLevel, plain
	mu.RUnlock()

	if level < current {
		return
	}
	if l == nil {
		mu.Lock()
		if logger == nil {
			logger = log.New(os.Stdout, "", 0)
		}
		l = logger
		mu.Unlock()
	}
	l.Println(formatLog(level, noColor, format, v...))
}

// Debugf logs debug messages
func Debugf(format string, v ...interface{}) { logf(DEBUG, format, v...) }

// Infof logs info messages
func Infof(format string, v ...interface{}) { logf(INFO, format, v...) }

// Warnf logs warning messages
func Warnf(format string, v ...interface{}) { logf(WARN, format, v...) }

// Errorf logs error messages
func Errorf(format string, v ...interface{}) { logf(ERROR, format, v...) }

// GetLevel returns the current log level as a string
func GetLevel() string {
	mu.RLock()
	defer mu.RUnlock()

	switch logLevel {
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
