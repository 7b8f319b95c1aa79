// Package log provides a global logger with configurable logging level and destination. Commands
// log to stderr by default; the PAM path switches to syslog so messages land next to the rest of
// the authentication log.

package log

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally, such as a denied device.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var (
	globalLogLevel           = LevelWarning
	output         io.Writer = os.Stderr
	sysWriter      *syslog.Writer
	logMutex       sync.Mutex
)

var labels = map[Level]string{
	LevelDebug:   "[debug]",
	LevelInfo:    "[info ]",
	LevelWarning: "[warn ]",
	LevelError:   "[error]",
}

var names = map[string]Level{
	"none":    LevelNone,
	"error":   LevelError,
	"warning": LevelWarning,
	"warn":    LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
}

// ParseLevel converts a level name (as used in configuration) into a Level.
func ParseLevel(name string) (Level, error) {
	if level, ok := names[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level, nil
	}
	return LevelNone, fmt.Errorf("unknown log level '%s'", name)
}

func (l Level) String() string {
	for name, level := range names {
		if level == l && name != "warn" {
			return name
		}
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
}

// SetOutput redirects log lines to w. It disables syslog if UseSyslog was called earlier.
func SetOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if sysWriter != nil {
		sysWriter.Close()
		sysWriter = nil
	}
	output = w
}

// UseSyslog sends log lines to the local syslog daemon under the auth facility.
func UseSyslog(tag string) error {
	w, err := syslog.New(syslog.LOG_AUTH|syslog.LOG_INFO, tag)
	if err != nil {
		return err
	}
	logMutex.Lock()
	defer logMutex.Unlock()
	if sysWriter != nil {
		sysWriter.Close()
	}
	sysWriter = w
	return nil
}

func logLevel() Level {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel
}

func log(level Level, format string, a ...interface{}) {
	if level > logLevel() {
		return
	}
	msg := fmt.Sprintf(format, a...)

	logMutex.Lock()
	defer logMutex.Unlock()
	if sysWriter != nil {
		switch level {
		case LevelError:
			sysWriter.Err(msg)
		case LevelWarning:
			sysWriter.Warning(msg)
		case LevelInfo:
			sysWriter.Info(msg)
		default:
			sysWriter.Debug(msg)
		}
		return
	}
	fmt.Fprintf(output, "%s %s %s\n", time.Now().Format(time.RFC3339), labels[level], msg)
}

func Debug(format string, a ...interface{}) {
	log(LevelDebug, format, a...)
}
func Info(format string, a ...interface{}) {
	log(LevelInfo, format, a...)
}
func Warning(format string, a ...interface{}) {
	log(LevelWarning, format, a...)
}
func Error(format string, a ...interface{}) {
	log(LevelError, format, a...)
}
