// Package logging provides the structured, session-scoped logger used by
// every shipmachine component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a root logger
type Options struct {
	// Level is debug, info, warn or error
	Level string
	// File is the rotated JSON log file; empty disables file output
	File       string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps zap with the component and session fields shipmachine attaches
// to every entry. All components created from one root share the rotated file.
type Logger struct {
	zap       *zap.Logger
	sessionID string
	component string
	logPath   string

	closer    func() error
	closeOnce *sync.Once
}

// NewLogger creates a root logger for a session. If the log file cannot be
// opened it falls back to stderr and returns the logger along with the error.
func NewLogger(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	encoder := newEncoder()

	var (
		cores   []zapcore.Core
		closer  func() error
		fileErr error
	)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			fileErr = fmt.Errorf("failed to create log directory: %w", err)
		} else {
			rotator := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
			closer = rotator.Close
		}
	}

	if opts.Console || fileErr != nil {
		consoleCfg := zap.NewProductionEncoderConfig()
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level))
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	logger := &Logger{
		zap:       zap.New(zapcore.NewTee(cores...)).With(zap.String("session_id", sessionID)),
		sessionID: sessionID,
		logPath:   opts.File,
		closer:    closer,
		closeOnce: &sync.Once{},
	}
	if fileErr != nil {
		logger.logPath = ""
		logger.Warnf("failed to initialize file logging, falling back to stderr: %v", fileErr)
	}
	return logger, fileErr
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{
		zap:       zap.NewNop(),
		sessionID: "nop",
		closeOnce: &sync.Once{},
	}
}

func newEncoder() zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderCfg)
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// Named returns a child logger for a component
func (l *Logger) Named(component string) *Logger {
	child := *l
	child.component = component
	child.zap = l.zap.Named(component)
	return &child
}

// With returns a child logger with extra fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := *l
	child.zap = l.zap.With(fields...)
	return &child
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.zap.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.zap.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.zap.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.zap.Error(fmt.Sprintf(format, v...))
}

// SessionID returns the session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Component returns the component name set by Named
func (l *Logger) Component() string {
	return l.component
}

// LogPath returns the path to the log file, empty when not logging to a file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close flushes and closes the log file. Safe to call multiple times and from
// any child logger.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.zap.Sync()
		if l.closer != nil {
			err = l.closer()
		}
	})
	return err
}
