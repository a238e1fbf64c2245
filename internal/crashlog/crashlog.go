// Package crashlog keeps recovered panics and background failures in the
// journal's error_logs table, next to the commands that caused them.
package crashlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/browserd/internal/db"
	"github.com/neboloop/browserd/internal/logging"
)

// Level is the error_logs.level column.
type Level string

const (
	LevelPanic Level = "panic"
	LevelError Level = "error"
	LevelWarn  Level = "warn"
)

const (
	maxStack     = 8 << 10
	writeTimeout = 5 * time.Second
)

// Sink is where entries are written. *db.Store satisfies it.
type Sink interface {
	InsertErrorLog(ctx context.Context, p db.InsertErrorLogParams) error
}

type holder struct{ sink Sink }

var active atomic.Pointer[holder]

// Init routes entries to store. A nil store detaches, after which entries
// only reach the process log.
func Init(store *db.Store) {
	if store == nil {
		active.Store(nil)
		return
	}
	active.Store(&holder{sink: store})
}

// LogPanic records a recovered value together with the current goroutine's
// stack. It always writes to the process log as well.
func LogPanic(module string, r any, fields map[string]string) {
	buf := make([]byte, maxStack)
	stack := string(buf[:runtime.Stack(buf, false)])
	msg := fmt.Sprint(r)

	logging.Named(module).Error("recovered panic",
		zap.String("panic", msg),
		zap.Any("fields", fields),
		zap.String("stack", stack))
	write(LevelPanic, module, msg, stack, fields)
}

// LogError records err. Nil errors are ignored.
func LogError(module string, err error, fields map[string]string) {
	if err == nil {
		return
	}
	if !write(LevelError, module, err.Error(), "", fields) {
		logging.Named(module).Error(err.Error(), zap.Any("fields", fields))
	}
}

func LogWarn(module, msg string, fields map[string]string) {
	if !write(LevelWarn, module, msg, "", fields) {
		logging.Named(module).Warn(msg, zap.Any("fields", fields))
	}
}

// write reports whether a sink was attached.
func write(level Level, module, msg, stack string, fields map[string]string) bool {
	h := active.Load()
	if h == nil {
		return false
	}

	p := db.InsertErrorLogParams{
		Level:      string(level),
		Module:     module,
		Message:    msg,
		Stacktrace: sql.NullString{String: stack, Valid: stack != ""},
	}
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			p.Context = sql.NullString{String: string(b), Valid: true}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := h.sink.InsertErrorLog(ctx, p); err != nil {
		logging.Named("crashlog").Warn("write failed", zap.Error(err), zap.String("module", module))
	}
	return true
}
