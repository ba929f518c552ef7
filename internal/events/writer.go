package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Writer appends rows to the marketplace event log. Every append runs
// inside the caller's transaction so the event commits or rolls back
// together with the mutation it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if evtType == "" {
		return errors.New("event type required")
	}
	data := []byte("{}")
	if len(payload) > 0 {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, entityID, actorID, string(data))
	return err
}
