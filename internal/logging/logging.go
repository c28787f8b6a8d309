// Package logging sets up the two logging destinations the agent writes
// to: a structured operational logger (zap, matching the level of
// ceremony the rest of the pack uses for service logs) and a flat,
// append-only audit trail for the error taxonomy in spec.md §7, persisted
// at the `logs.txt` path named in spec.md §6.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity mirrors spec.md §7's three error classes: transient I/O,
// decode failure, numerical/logic failure. Each is logged, never
// silently swallowed; only transient I/O is eligible for retry.
type Severity string

const (
	SeverityTransient Severity = "transient_io"
	SeverityDecode    Severity = "decode_failure"
	SeverityNumerical Severity = "numerical_failure"
)

// New builds the operational zap logger. debug toggles development mode
// (console encoder, caller info, debug level) versus production mode
// (JSON encoder, info level) — matching the common zap.NewDevelopment /
// zap.NewProduction split rather than hand-rolling an encoder config.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("logging: build development logger: %w", err)
		}
		return logger, nil
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logging: build production logger: %w", err)
	}
	return logger, nil
}

// AuditSink is the durable logs.txt destination: every transient, decode,
// and numerical failure the agent encounters gets one line here
// regardless of whether the operational logger is also recording it, so
// an operator has a single append-only file to grep post-incident.
type AuditSink struct {
	logger *zap.Logger
	file   *os.File
}

// OpenAuditSink opens (creating if absent) dir/logs.txt for appending and
// wraps it with a zap core so each record is a single structured JSON
// line.
func OpenAuditSink(dir string) (*AuditSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create audit dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "logs.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open audit sink %s: %w", path, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	return &AuditSink{logger: zap.New(core), file: f}, nil
}

// Record appends one audit line: the failing component, the severity
// class, and the underlying error. It never returns an error itself —
// an audit sink that can fail to write is still better than one that
// can panic the caller.
func (s *AuditSink) Record(component string, severity Severity, err error) {
	s.logger.Error("operation failed",
		zap.String("component", component),
		zap.String("severity", string(severity)),
		zap.Error(err),
	)
}

// Close flushes and releases the underlying file.
func (s *AuditSink) Close() error {
	_ = s.logger.Sync()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("logging: close audit sink: %w", err)
	}
	return nil
}
