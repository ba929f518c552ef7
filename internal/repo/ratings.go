package repo

import (
	"context"
	"database/sql"

	"agentmarket/internal/domain"
)

const ratingColumns = `id,job_id,rater,rated,rating,review,ts`

func (r Repo) InsertRatingTx(ctx context.Context, tx *sql.Tx, rt domain.Rating) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ratings(`+ratingColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rt.ID, rt.JobID, rt.Rater, rt.Rated, rt.Rating, rt.Review, rt.Timestamp)
	return err
}

func (r Repo) HasRatingTx(ctx context.Context, tx *sql.Tx, jobID int64, rater string) (bool, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratings WHERE job_id=? AND rater=?`, jobID, rater).Scan(&n)
	return n > 0, err
}

func (r Repo) ListRatingsForAgent(ctx context.Context, rated string, limit, offset int) ([]domain.Rating, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE rated=? ORDER BY id DESC LIMIT ? OFFSET ?`, rated, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rating
	for rows.Next() {
		var rt domain.Rating
		if err := rows.Scan(&rt.ID, &rt.JobID, &rt.Rater, &rt.Rated, &rt.Rating, &rt.Review, &rt.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

func (r Repo) ListRatingsForJob(ctx context.Context, jobID int64) ([]domain.Rating, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE job_id=? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rating
	for rows.Next() {
		var rt domain.Rating
		if err := rows.Scan(&rt.ID, &rt.JobID, &rt.Rater, &rt.Rated, &rt.Rating, &rt.Review, &rt.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}
