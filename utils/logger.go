// Package utils carries the shared logging setup: a plain stdout logger for
// user-facing CLI output and a zap logger on stderr for diagnostics.
package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu             sync.Mutex
	userLogger     *log.Logger
	internalLogger *zap.SugaredLogger
)

func init() {
	userLogger = log.New(os.Stdout, "", 0)
	level := zapcore.InfoLevel
	if os.Getenv("BEEMFLOW_DEBUG") != "" {
		level = zapcore.DebugLevel
	}
	initInternal(os.Stderr, level)
}

func initInternal(w io.Writer, level zapcore.Level) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(w),
		level,
	)
	internalLogger = zap.New(core).Sugar()
}

// SetLevel switches the diagnostic log level ("debug", "warn", anything else
// means info).
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch level {
	case "debug":
		initInternal(os.Stderr, zapcore.DebugLevel)
	case "warn":
		initInternal(os.Stderr, zapcore.WarnLevel)
	default:
		initInternal(os.Stderr, zapcore.InfoLevel)
	}
}

// SetUserOutput redirects user-facing output, for tests.
func SetUserOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	userLogger = log.New(w, "", 0)
}

// SetInternalOutput redirects diagnostic output, for tests. Debug is always
// enabled on the redirected core so tests can capture everything.
func SetInternalOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	initInternal(w, zapcore.DebugLevel)
}

// User prints to the user-facing channel (stdout).
func User(format string, v ...any) {
	userLogger.Printf(format, v...)
}

func Info(format string, v ...any) {
	internalLogger.Infof(format, v...)
}

func Warn(format string, v ...any) {
	internalLogger.Warnf(format, v...)
}

func Error(format string, v ...any) {
	internalLogger.Errorf(format, v...)
}

func Debug(format string, v ...any) {
	internalLogger.Debugf(format, v...)
}

// Errorf logs the message at error level and returns it as an error value.
func Errorf(format string, v ...any) error {
	err := fmt.Errorf(format, v...)
	internalLogger.Errorf("%s", err)
	return err
}
