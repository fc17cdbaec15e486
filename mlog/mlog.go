package mlog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig is the logging section of the program config.
type LogConfig struct {
	// Level, "debug", "info", "warn", or "error". Default is "info".
	Level string `yaml:"level"`

	// File that logger will be writen into. Default is stdout.
	File string `yaml:"file"`

	// Production enables the JSON encoder. Default is the console encoder.
	Production bool `yaml:"production"`
}

// NewLogger builds a zap logger from lc.
func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	lvl, err := parseLevel(lc.Level)
	if err != nil {
		return nil, err
	}

	out := zapcore.Lock(os.Stdout)
	if len(lc.File) > 0 {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	}

	var encoder zapcore.Encoder
	if lc.Production {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(encoder, out, lvl)
	return zap.New(core), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level [%s]", s)
	}
}

var (
	l = mustNewLogger(&LogConfig{})
	s = l.Sugar()
)

func mustNewLogger(lc *LogConfig) *zap.Logger {
	lg, err := NewLogger(lc)
	if err != nil {
		panic(fmt.Sprintf("mlog: %v", err))
	}
	return lg
}

// SetLogger replaces the default logger. Call it once at startup, before
// any goroutine uses L or S.
func SetLogger(lg *zap.Logger) {
	l = lg
	s = lg.Sugar()
}

// L returns the default logger.
func L() *zap.Logger {
	return l
}

// S returns the default sugared logger.
func S() *zap.SugaredLogger {
	return s
}
