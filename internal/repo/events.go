package repo

import (
	"context"
	"database/sql"
	"strings"

	"agentmarket/internal/domain"
)

const eventColumns = `id,ts,type,entity_kind,entity_id,actor_id,payload`

// EventFilter narrows ListEvents.
type EventFilter struct {
	EntityKind string
	EntityID   string
	Type       string
	AfterID    int64
	Limit      int
}

func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	var (
		conds []string
		args  []any
	)
	if f.EntityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		conds = append(conds, "type=?")
		args = append(args, f.Type)
	}
	if f.AfterID > 0 {
		conds = append(conds, "id>?")
		args = append(args, f.AfterID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+where+` ORDER BY id LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// WebhookCursor returns the last delivered event id for a hook URL.
func (r Repo) WebhookCursor(ctx context.Context, url string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE url=?`, url).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// SetWebhookCursor records delivery progress for a hook URL.
func (r Repo) SetWebhookCursor(ctx context.Context, url string, lastEventID int64) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO webhook_cursors(url,last_event_id) VALUES (?,?) ON CONFLICT(url) DO UPDATE SET last_event_id=excluded.last_event_id`,
		url, lastEventID)
	return err
}
