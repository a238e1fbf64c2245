package dispatch

import (
	"context"
	"time"

	"github.com/neboloop/browserd/internal/crashlog"
	"github.com/neboloop/browserd/internal/db"
)

// JournalRecorder writes every dispatched command to the journal database.
type JournalRecorder struct {
	store *db.Store
}

func NewJournalRecorder(store *db.Store) *JournalRecorder {
	return &JournalRecorder{store: store}
}

func (j *JournalRecorder) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c := db.Command{
		SessionID:  e.SessionID,
		Command:    e.Command,
		Payload:    string(e.Payload),
		OK:         e.Err == nil,
		Kind:       string(e.Kind),
		Log:        e.Log,
		DurationMs: e.Duration.Milliseconds(),
		CreatedAt:  e.At,
	}
	if e.Err != nil {
		c.Error = e.Err.Error()
	}
	if _, err := j.store.InsertCommand(ctx, c); err != nil {
		crashlog.LogWarn("journal", err.Error(), map[string]string{"command": e.Command})
	}
}
