package repo

import (
	"context"

	"github.com/shopspring/decimal"

	"agentmarket/internal/domain"
)

// Stats aggregates marketplace-wide counters in a single snapshot.
func (r Repo) Stats(ctx context.Context) (domain.MarketplaceStats, error) {
	var s domain.MarketplaceStats
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return s, err
		}
		s.TotalJobs += n
		switch domain.JobStatus(status) {
		case domain.JobPosted:
			s.PostedJobs = n
		case domain.JobInProgress:
			s.InProgressJobs = n
		case domain.JobCompleted:
			s.CompletedJobs = n
		case domain.JobCancelled:
			s.CancelledJobs = n
		case domain.JobDisputed:
			s.DisputedJobs = n
		}
	}
	if err := rows.Err(); err != nil {
		return s, err
	}

	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&s.TotalAgents); err != nil {
		return s, err
	}
	if err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM disputes WHERE status IN ('open','responded')`).Scan(&s.OpenDisputes); err != nil {
		return s, err
	}

	locked, err := r.sumEscrow(ctx, `SELECT COALESCE(amount,'0'), COALESCE(released,'0'), COALESCE(refunded,'0') FROM escrows WHERE status IN ('locked','partially_released')`, true)
	if err != nil {
		return s, err
	}
	s.LockedVolume = locked

	released, err := r.sumEscrow(ctx, `SELECT COALESCE(released,'0'), '0', '0' FROM escrows`, false)
	if err != nil {
		return s, err
	}
	s.TotalPaymentVolume = released
	return s, nil
}

// sumEscrow adds up decimal columns. When remaining is true it sums
// amount-released-refunded per row, otherwise the first column alone.
func (r Repo) sumEscrow(ctx context.Context, query string, remaining bool) (decimal.Decimal, error) {
	total := decimal.Zero
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return total, err
	}
	defer rows.Close()
	for rows.Next() {
		var a, rel, ref decimal.Decimal
		if err := rows.Scan(&a, &rel, &ref); err != nil {
			return total, err
		}
		if remaining {
			total = total.Add(a.Sub(rel).Sub(ref))
		} else {
			total = total.Add(a)
		}
	}
	return total, rows.Err()
}
