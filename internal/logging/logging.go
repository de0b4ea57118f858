// Package logging builds the process logger and adapts it to the ledger's operation log.
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// Config selects the log level and an optional rotating file sink.
type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a JSON logger on stdout, teed into a rotating file when FilePath is set.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)}
	if path := strings.TrimSpace(cfg.FilePath); path != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(newRotator(path, cfg)), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func newRotator(path string, cfg Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(cfg.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: positiveOr(cfg.MaxBackups, defaultMaxBackups),
		MaxAge:     positiveOr(cfg.MaxAgeDays, defaultMaxAgeDays),
		Compress:   true,
	}
}

func positiveOr(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// OperationLogger writes ledger operations as structured entries.
// Failed operations log at error level, rejected and duplicate ones at warn.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps a zap logger. A nil logger discards entries.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger.Named("ledger")}
}

func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("amount", entry.Amount),
	}
	if userID := entry.UserID.String(); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if entry.Description != "" {
		fields = append(fields, zap.String("description", entry.Description))
	}
	switch {
	case entry.Error != nil:
		operationLogger.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
	case entry.Status == "rejected" || entry.Status == "duplicate":
		operationLogger.logger.Warn("ledger operation declined", fields...)
	default:
		operationLogger.logger.Info("ledger operation", fields...)
	}
}

var _ ledger.OperationLogger = (*OperationLogger)(nil)
