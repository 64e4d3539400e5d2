package logger

import (
	"github.com/adalundhe/envolve/core/filesystem"
	"go.uber.org/zap"
)

// AuditLogger records filesystem operations at debug level, and failures at
// warn.
type AuditLogger struct {
	log *zap.Logger
}

// NewAuditLogger returns a filesystem.AuditLogger backed by log.
func NewAuditLogger(log *zap.Logger) *AuditLogger {
	return &AuditLogger{log: log.Named("fs")}
}

func (a *AuditLogger) Log(entry filesystem.AuditEntry) {
	fields := []zap.Field{
		zap.String("op", string(entry.Operation)),
		zap.String("path", entry.Path),
	}
	if entry.ResolvedPath != "" && entry.ResolvedPath != entry.Path {
		fields = append(fields, zap.String("resolved", entry.ResolvedPath))
	}

	if !entry.Success {
		a.log.Warn("filesystem operation failed", append(fields, zap.String("error", entry.Error))...)
		return
	}
	a.log.Debug("filesystem operation", fields...)
}

var _ filesystem.AuditLogger = (*AuditLogger)(nil)
