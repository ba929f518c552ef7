package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"agentmarket/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const jobColumns = `id,client,title,description,payment,status,agent,category,tags,deadline,accepted_bid_amount,created_at`

// JobFilter narrows ListJobs and CountJobs.
type JobFilter struct {
	Status   *domain.JobStatus
	Client   string
	Agent    string
	Category string
	Tag      string
	Search   string
	SortBy   string // created_at or payment
	SortDir  string // asc or desc
	Limit    int
	Offset   int
}

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Client, j.Title, j.Description, j.Payment, string(j.Status), nullablePtr(j.Agent),
		j.Category, encodeList(j.Tags), nullablePtr(j.Deadline), nullDecimal(j.AcceptedBidAmount), j.CreatedAt)
	return err
}

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var (
		j        domain.Job
		status   string
		agent    sql.NullString
		tags     string
		deadline sql.NullString
		accepted decimal.NullDecimal
	)
	err := scan(&j.ID, &j.Client, &j.Title, &j.Description, &j.Payment, &status, &agent,
		&j.Category, &tags, &deadline, &accepted, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.Status = domain.JobStatus(status)
	j.Agent = optionalString(agent)
	j.Deadline = optionalString(deadline)
	if accepted.Valid {
		v := accepted.Decimal
		j.AcceptedBidAmount = &v
	}
	if j.Tags, err = decodeList(tags); err != nil {
		return j, err
	}
	return j, nil
}

func (r Repo) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	return getJob(ctx, r.DB, id)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Job, error) {
	return getJob(ctx, tx, id)
}

func getJob(ctx context.Context, q querier, id int64) (domain.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err != nil {
		return j, err
	}
	if j.Bids, err = listBids(ctx, q, id); err != nil {
		return j, err
	}
	if j.Milestones, err = listMilestones(ctx, q, id); err != nil {
		return j, err
	}
	return j, nil
}

func (r Repo) ListJobs(ctx context.Context, f JobFilter) ([]domain.Job, error) {
	where, args := jobWhere(f)
	col := "created_at"
	switch f.SortBy {
	case "", "created_at":
	case "payment":
		col = "CAST(payment AS REAL)"
	default:
		return nil, fmt.Errorf("unknown sort field %q", f.SortBy)
	}
	dir := "DESC"
	switch strings.ToLower(f.SortDir) {
	case "", "desc":
	case "asc":
		dir = "ASC"
	default:
		return nil, fmt.Errorf("unknown sort direction %q", f.SortDir)
	}
	order := fmt.Sprintf("%s %s, id %s", col, dir, dir)

	q := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY %s LIMIT ? OFFSET ?`, jobColumns, where, order)
	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) CountJobs(ctx context.Context, f JobFilter) (int64, error) {
	where, args := jobWhere(f)
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs `+where, args...).Scan(&n)
	return n, err
}

func jobWhere(f JobFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != nil {
		conds = append(conds, "status=?")
		args = append(args, string(*f.Status))
	}
	if f.Client != "" {
		conds = append(conds, "client=?")
		args = append(args, f.Client)
	}
	if f.Agent != "" {
		conds = append(conds, "agent=?")
		args = append(args, f.Agent)
	}
	if f.Category != "" {
		conds = append(conds, "category=?")
		args = append(args, f.Category)
	}
	if f.Tag != "" {
		conds = append(conds, "tags LIKE ?")
		args = append(args, `%"`+f.Tag+`"%`)
	}
	if f.Search != "" {
		conds = append(conds, "(title LIKE ? OR description LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// UpdateJobStatusGuardedTx moves a job between statuses only when the row is
// still in the expected status. Returns ErrNotFound when no row matched.
func (r Repo) UpdateJobStatusGuardedTx(ctx context.Context, tx *sql.Tx, id int64, from, to domain.JobStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status=? WHERE id=? AND status=?`, string(to), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignJobAgentTx records the accepted agent and amount. The guarded status
// transition to in_progress happens in the same statement.
func (r Repo) AssignJobAgentTx(ctx context.Context, tx *sql.Tx, id int64, agent string, amount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status='in_progress', agent=?, accepted_bid_amount=? WHERE id=? AND status='posted'`,
		agent, amount, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertBidTx(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bids(job_id,bid_id,agent,amount,proposal,estimated_days,ts) VALUES (?,?,?,?,?,?,?)`,
		b.JobID, b.BidID, b.Agent, b.Amount, b.Proposal, b.EstimatedDays, b.Timestamp)
	return err
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, jobID, bidID int64) (domain.Bid, error) {
	var b domain.Bid
	err := tx.QueryRowContext(ctx,
		`SELECT job_id,bid_id,agent,amount,proposal,estimated_days,ts FROM bids WHERE job_id=? AND bid_id=?`,
		jobID, bidID).Scan(&b.JobID, &b.BidID, &b.Agent, &b.Amount, &b.Proposal, &b.EstimatedDays, &b.Timestamp)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) HasBidTx(ctx context.Context, tx *sql.Tx, jobID int64, agent string) (bool, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE job_id=? AND agent=?`, jobID, agent).Scan(&n)
	return n > 0, err
}

func (r Repo) CountBidsTx(ctx context.Context, tx *sql.Tx, jobID int64) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE job_id=?`, jobID).Scan(&n)
	return n, err
}

func (r Repo) MaxBidIDTx(ctx context.Context, tx *sql.Tx, jobID int64) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(bid_id),0) FROM bids WHERE job_id=?`, jobID).Scan(&n)
	return n, err
}

func (r Repo) ListBids(ctx context.Context, jobID int64) ([]domain.Bid, error) {
	return listBids(ctx, r.DB, jobID)
}

func listBids(ctx context.Context, q querier, jobID int64) ([]domain.Bid, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT job_id,bid_id,agent,amount,proposal,estimated_days,ts FROM bids WHERE job_id=? ORDER BY bid_id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.JobID, &b.BidID, &b.Agent, &b.Amount, &b.Proposal, &b.EstimatedDays, &b.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListOverdueJobs returns in_progress jobs whose deadline is before now.
func (r Repo) ListOverdueJobs(ctx context.Context, now string) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status='in_progress' AND deadline IS NOT NULL AND deadline < ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}
