package browser

import (
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/browserd/internal/logging"
)

// sensitiveOps start processes or load remote content; they are logged at
// info level, everything else at debug.
var sensitiveOps = map[string]bool{
	"open_browser": true,
	"new_browser":  true,
	"new_page":     true,
	"goto":         true,
	"crash":        true,
}

type auditLogger struct {
	logger *zap.Logger
}

func newAuditLogger() *auditLogger {
	return &auditLogger{
		logger: logging.Named("browser-audit"),
	}
}

func (l *auditLogger) log(sessionID, op string, fields ...zap.Field) {
	if l == nil {
		return
	}

	attrs := append([]zap.Field{
		zap.String("session", truncateID(sessionID)),
		zap.String("op", op),
		zap.Int64("ts", time.Now().Unix()),
	}, fields...)

	if sensitiveOps[op] {
		l.logger.Info("session_op", attrs...)
	} else {
		l.logger.Debug("session_op", attrs...)
	}
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
