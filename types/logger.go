package types

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/kairos-io/mount-drives/constants"
	"github.com/rs/zerolog"
)

// NewLogger creates a new logger with the given name and level.
// The level is used to set the log level, defaulting to info
// The log level can be overridden by setting the environment variable $NAME_DEBUG or $NAME_TRACE to any value,
// with dashes in the name turned into underscores (mount-drives -> MOUNT_DRIVES_DEBUG).
// If quiet is true, the logger will not log to the console.
func NewLogger(name, level string, quiet bool) Logger {
	var loggers []io.Writer
	var fileLock *flock.Flock
	var logfile *os.File
	var err error

	journald := isJournaldAvailable()
	if journald {
		loggers = append(loggers, getJournaldWriter())
	} else {
		// Default to file logging
		logName := fmt.Sprintf("%s.log", name)
		_ = os.MkdirAll(constants.DefaultLogDir, os.ModeDir|os.ModePerm)
		logFileName := filepath.Join(constants.DefaultLogDir, logName)

		logfile, err = os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.FilePerm)
		if err == nil {
			loggers = append(loggers, zerolog.ConsoleWriter{Out: logfile, TimeFormat: time.RFC3339, NoColor: true})
			fileLock = flock.New(logFileName + ".lock")
		}
	}

	if !quiet {
		loggers = append(loggers, zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = time.RFC3339
		}))
	}

	// Parse the level, default to info
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}

	envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if os.Getenv(fmt.Sprintf("%s_DEBUG", envName)) != "" {
		l = zerolog.DebugLevel
	}
	if os.Getenv(fmt.Sprintf("%s_TRACE", envName)) != "" {
		l = zerolog.TraceLevel
	}

	multi := zerolog.MultiLevelWriter(loggers...)
	k := Logger{
		Logger:   zerolog.New(multi).With().Timestamp().Logger().Level(l),
		fileLock: fileLock,
		logFile:  logfile,
		journald: journald,
	}

	return k
}

// NewBufferLogger logs everything into b, used by tests to assert on output.
func NewBufferLogger(b *bytes.Buffer) Logger {
	return Logger{
		Logger:   zerolog.New(b).With().Timestamp().Logger(),
		journald: true,
	}
}

func NewNullLogger() Logger {
	return Logger{
		Logger:   zerolog.New(io.Discard).With().Timestamp().Logger(),
		journald: true,
	}
}

// Logger wraps zerolog and serializes writes to the shared log file when journald is not around.
type Logger struct {
	zerolog.Logger
	fileLock *flock.Flock
	logFile  *os.File
	journald bool // Whether we are logging to journald, to avoid the file lock
}

func (m *Logger) Cleanup() {
	if m.logFile != nil {
		m.logFile.Close()
		m.logFile = nil
	}
	if m.fileLock != nil {
		_ = m.fileLock.Close()
		m.fileLock = nil
	}
}

func (m *Logger) SetLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	m.Logger = m.Logger.Level(l)
}

func (m Logger) IsDebug() bool {
	return m.Logger.GetLevel() <= zerolog.DebugLevel
}

// lock takes the shared file lock and returns the pid prefix for file logging.
func (m Logger) lock() (prefix string, unlock func()) {
	if m.journald || m.fileLock == nil {
		return "", func() {}
	}
	_ = m.fileLock.Lock()
	return fmt.Sprintf("[%v] ", os.Getpid()), func() { _ = m.fileLock.Unlock() }
}

func (m Logger) Infof(tpl string, args ...interface{}) {
	prefix, unlock := m.lock()
	defer unlock()
	m.Logger.Info().Msg(prefix + fmt.Sprintf(tpl, args...))
}

func (m Logger) Warnf(tpl string, args ...interface{}) {
	prefix, unlock := m.lock()
	defer unlock()
	m.Logger.Warn().Msg(prefix + fmt.Sprintf(tpl, args...))
}

func (m Logger) Debugf(tpl string, args ...interface{}) {
	prefix, unlock := m.lock()
	defer unlock()
	m.Logger.Debug().Msg(prefix + fmt.Sprintf(tpl, args...))
}

func (m Logger) Errorf(tpl string, args ...interface{}) {
	prefix, unlock := m.lock()
	defer unlock()
	m.Logger.Error().Msg(prefix + fmt.Sprintf(tpl, args...))
}
