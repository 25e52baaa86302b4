package util

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls file output. An empty Path logs to stdout only.
type LogConfig struct {
	Path       string
	Verbose    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewLoggerWithFile creates a logger that writes to both console and a
// size-rotated file.
func NewLoggerWithFile(c LogConfig) (*zap.Logger, error) {
	if c.Path == "" {
		return NewLogger()
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return nil, err
	}

	level := zap.InfoLevel
	if c.Verbose {
		level = zap.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	file := &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    orDefault(c.MaxSizeMB, 100),
		MaxBackups: orDefault(c.MaxBackups, 5),
		MaxAge:     orDefault(c.MaxAgeDays, 30),
		Compress:   c.Compress,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level),
	)
	return zap.New(core), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
