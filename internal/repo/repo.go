package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Sequence names used by NextSeq.
const (
	SeqJobs     = "jobs"
	SeqDisputes = "disputes"
	SeqRatings  = "ratings"
	SeqMessages = "messages"
)

// NextSeq advances a named counter inside tx and returns the new value.
func (r Repo) NextSeq(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO sequences(name,value) VALUES (?,0) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET value=value+1 WHERE name=?`, name); err != nil {
		return 0, err
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM sequences WHERE name=?`, name).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return items, nil
}
