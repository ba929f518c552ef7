package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"agentmarket/internal/domain"
)

const agentColumns = `owner,name,service_description,skills,portfolio_urls,hourly_rate,availability,jobs_completed,total_rating_points,total_ratings,verification_level,registered_at`

// AgentFilter narrows ListAgents and CountAgents.
type AgentFilter struct {
	Skill           string
	Available       *bool
	Verification    *domain.VerificationLevel
	MinVerification *domain.VerificationLevel
	SortBy          string // registered_at, rating or jobs_completed
	SortDir         string
	Limit           int
	Offset          int
}

func (r Repo) InsertAgentTx(ctx context.Context, tx *sql.Tx, a domain.AgentProfile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.Owner, a.Name, a.ServiceDescription, encodeList(a.Skills), encodeList(a.PortfolioURLs),
		nullDecimal(a.HourlyRate), a.Availability, a.JobsCompleted, a.TotalRatingPoints, a.TotalRatings,
		string(a.VerificationLevel), a.RegisteredAt)
	return err
}

func scanAgent(scan func(dest ...any) error) (domain.AgentProfile, error) {
	var (
		a      domain.AgentProfile
		skills string
		urls   string
		rate   decimal.NullDecimal
		level  string
	)
	err := scan(&a.Owner, &a.Name, &a.ServiceDescription, &skills, &urls, &rate, &a.Availability,
		&a.JobsCompleted, &a.TotalRatingPoints, &a.TotalRatings, &level, &a.RegisteredAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if rate.Valid {
		v := rate.Decimal
		a.HourlyRate = &v
	}
	a.VerificationLevel = domain.VerificationLevel(level)
	if a.Skills, err = decodeList(skills); err != nil {
		return a, err
	}
	if a.PortfolioURLs, err = decodeList(urls); err != nil {
		return a, err
	}
	return a, nil
}

func (r Repo) GetAgent(ctx context.Context, owner string) (domain.AgentProfile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE owner=?`, owner)
	return scanAgent(row.Scan)
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, owner string) (domain.AgentProfile, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE owner=?`, owner)
	return scanAgent(row.Scan)
}

func (r Repo) ListAgents(ctx context.Context, f AgentFilter) ([]domain.AgentProfile, error) {
	where, args := agentWhere(f)
	col := "registered_at"
	switch f.SortBy {
	case "", "registered_at":
	case "jobs_completed":
		col = "jobs_completed"
	case "rating":
		col = "CASE WHEN total_ratings=0 THEN 0 ELSE CAST(total_rating_points AS REAL)/total_ratings END"
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
	q := fmt.Sprintf(`SELECT %s FROM agents %s ORDER BY %s %s, owner %s LIMIT ? OFFSET ?`, agentColumns, where, col, dir, dir)
	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentProfile
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountAgents(ctx context.Context, f AgentFilter) (int64, error) {
	where, args := agentWhere(f)
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents `+where, args...).Scan(&n)
	return n, err
}

func agentWhere(f AgentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Skill != "" {
		conds = append(conds, "skills LIKE ?")
		args = append(args, `%"`+f.Skill+`"%`)
	}
	if f.Available != nil {
		conds = append(conds, "availability=?")
		args = append(args, *f.Available)
	}
	if f.Verification != nil {
		conds = append(conds, "verification_level=?")
		args = append(args, string(*f.Verification))
	}
	if f.MinVerification != nil {
		levels := []domain.VerificationLevel{
			domain.VerificationUnverified, domain.VerificationBasic,
			domain.VerificationVerified, domain.VerificationPremium,
		}
		var (
			marks []string
			vals  []any
		)
		for _, lvl := range levels {
			if lvl.Rank() >= f.MinVerification.Rank() {
				marks = append(marks, "?")
				vals = append(vals, string(lvl))
			}
		}
		conds = append(conds, "verification_level IN ("+strings.Join(marks, ",")+")")
		args = append(args, vals...)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// AgentProfileUpdate holds optional fields for UpdateAgentTx. Nil fields are
// left unchanged.
type AgentProfileUpdate struct {
	Name               *string
	ServiceDescription *string
	Skills             []string
	PortfolioURLs      []string
	HourlyRate         *decimal.Decimal
	Availability       *bool
}

func (r Repo) UpdateAgentTx(ctx context.Context, tx *sql.Tx, owner string, upd AgentProfileUpdate) error {
	var (
		fields []string
		args   []any
	)
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.ServiceDescription != nil {
		fields = append(fields, "service_description=?")
		args = append(args, *upd.ServiceDescription)
	}
	if upd.Skills != nil {
		fields = append(fields, "skills=?")
		args = append(args, encodeList(upd.Skills))
	}
	if upd.PortfolioURLs != nil {
		fields = append(fields, "portfolio_urls=?")
		args = append(args, encodeList(upd.PortfolioURLs))
	}
	if upd.HourlyRate != nil {
		fields = append(fields, "hourly_rate=?")
		args = append(args, *upd.HourlyRate)
	}
	if upd.Availability != nil {
		fields = append(fields, "availability=?")
		args = append(args, *upd.Availability)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, owner)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE agents SET %s WHERE owner=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddAgentRatingTx(ctx context.Context, tx *sql.Tx, owner string, points int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET total_rating_points=total_rating_points+?, total_ratings=total_ratings+1 WHERE owner=?`,
		points, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) IncrementJobsCompletedTx(ctx context.Context, tx *sql.Tx, owner string) error {
	_, err := tx.ExecContext(ctx, `UPDATE agents SET jobs_completed=jobs_completed+1 WHERE owner=?`, owner)
	return err
}

func (r Repo) SetAgentVerificationTx(ctx context.Context, tx *sql.Tx, owner string, level domain.VerificationLevel) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET verification_level=? WHERE owner=?`, string(level), owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
