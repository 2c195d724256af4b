// Package logging builds the process-wide structured logger. It maps
// the DEBUG/INFO/WARNING/ERROR/CRITICAL levels onto zap's levels and
// rotates the configured log file through lumberjack, the pairing
// expected of a daemon that runs unattended for long stretches.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a *zap.SugaredLogger that writes JSON lines to logPath
// (rotated) and, for DEBUG, also to stderr.
func New(logPath, level string) (*zap.SugaredLogger, error) {
	zapLevel, err := levelFor(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100, // MB
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	})

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), fileWriter, zapLevel)
	if zapLevel <= zapcore.DebugLevel {
		stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zapLevel)
		core = zapcore.NewTee(core, stderrCore)
	}

	logger := zap.New(core, zap.AddCaller())
	return logger.Sugar(), nil
}

// levelFor maps CRITICAL onto zap's DPanic/Fatal-free vocabulary: zap
// has no CRITICAL level, so CRITICAL maps to Error, the highest level
// zap emits without terminating the process.
func levelFor(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO", "":
		return zapcore.InfoLevel, nil
	case "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
