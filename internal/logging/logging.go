// Package logging constructs the structured JSON logger written to
// "meta/logs/current.log" (spec.md §6 state directory layout; log
// rotation itself is external, per spec.md §1 "logging transport" being
// out of scope), using go.uber.org/zap, the pack's structured-logging
// library of choice (AKJUS-bsc-erigon's go.mod).
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger that writes JSON lines to
// "<project-dir>/meta/logs/current.log", additionally duplicating output
// to stderr when toStderr is true (cmd/meowdiffd passes true).
func New(projectDir string, toStderr bool) (*zap.Logger, error) {
	logPath := filepath.Join(projectDir, "meta", "logs", "current.log")

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zap.InfoLevel)

	core := zapcore.Core(fileCore)
	if toStderr {
		stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zap.InfoLevel)
		core = zapcore.NewTee(fileCore, stderrCore)
	}

	return zap.New(core), nil
}

// WithProject returns a child logger carrying project_id on every entry.
func WithProject(logger *zap.Logger, projectID string) *zap.Logger {
	return logger.With(zap.String("project_id", projectID))
}

// WithRecord returns a child logger carrying record_id on every entry.
func WithRecord(logger *zap.Logger, recordID string) *zap.Logger {
	return logger.With(zap.String("record_id", recordID))
}
