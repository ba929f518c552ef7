package repo

import (
	"context"
	"database/sql"

	"agentmarket/internal/domain"
)

const messageColumns = `id,job_id,sender,recipient,content,ts,read`

func (r Repo) InsertMessageTx(ctx context.Context, tx *sql.Tx, m domain.ChatMessage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(`+messageColumns+`) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.JobID, m.Sender, m.Recipient, m.Content, m.Timestamp, m.Read)
	return err
}

func (r Repo) ListMessages(ctx context.Context, jobID int64, limit, offset int) ([]domain.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE job_id=? ORDER BY id LIMIT ? OFFSET ?`, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.JobID, &m.Sender, &m.Recipient, &m.Content, &m.Timestamp, &m.Read); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkMessagesReadTx marks all unread messages addressed to recipient on the
// job and returns how many changed.
func (r Repo) MarkMessagesReadTx(ctx context.Context, tx *sql.Tx, jobID int64, recipient string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET read=1 WHERE job_id=? AND recipient=? AND read=0`, jobID, recipient)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) CountUnreadMessages(ctx context.Context, recipient string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient=? AND read=0`, recipient).Scan(&n)
	return n, err
}
