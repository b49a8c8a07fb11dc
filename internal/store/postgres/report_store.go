package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

const reportSelect = `SELECT id::text, vault, strategy,
	gain::text, loss::text, credit::text, repaid::text,
	debt_outstanding::text, total_debt::text, fee_shares::text, price_per_share::text,
	reported_at
	FROM harvest_reports`

// Insert stores a harvest report. Re-inserting the same ID is a no-op.
func (s *ReportStore) Insert(ctx context.Context, r domain.HarvestReport) error {
	const query = `
		INSERT INTO harvest_reports (
			id, vault, strategy, gain, loss, credit, repaid,
			debt_outstanding, total_debt, fee_shares, price_per_share, reported_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12
		) ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Vault.Hex(), r.Strategy.Hex(),
		numeric(r.Gain), numeric(r.Loss), numeric(r.Credit), numeric(r.Repaid),
		numeric(r.DebtOutstanding), numeric(r.TotalDebt), numeric(r.FeeShares), numeric(r.PricePerShare),
		r.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert harvest report %s: %w", r.ID, err)
	}
	return nil
}

// List returns the reports of vault, newest first, optionally narrowed to
// one strategy.
func (s *ReportStore) List(ctx context.Context, vault common.Address, strategy *common.Address, opts domain.ListOpts) ([]domain.HarvestReport, error) {
	q := newListQuery(reportSelect, "reported_at").eq("vault", vault.Hex())
	if strategy != nil {
		q.eq("strategy", strategy.Hex())
	}
	query, args := q.build(opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list harvest reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// ListBefore returns every report older than before, oldest first.
func (s *ReportStore) ListBefore(ctx context.Context, before time.Time) ([]domain.HarvestReport, error) {
	query, args := newListQuery(reportSelect, "reported_at").before(before).ascending().build(domain.ListOpts{})
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list harvest reports before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// DeleteBefore removes reports older than before and returns how many went.
func (s *ReportStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM harvest_reports WHERE reported_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete harvest reports: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanReports(rows pgx.Rows) ([]domain.HarvestReport, error) {
	var out []domain.HarvestReport
	for rows.Next() {
		var (
			r               domain.HarvestReport
			vault, strategy string
			amounts         [8]string
		)
		if err := rows.Scan(&r.ID, &vault, &strategy,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3],
			&amounts[4], &amounts[5], &amounts[6], &amounts[7],
			&r.ReportedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan harvest report: %w", err)
		}
		r.Vault = common.HexToAddress(vault)
		r.Strategy = common.HexToAddress(strategy)

		targets := []struct {
			name string
			dst  **big.Int
		}{
			{"gain", &r.Gain}, {"loss", &r.Loss}, {"credit", &r.Credit}, {"repaid", &r.Repaid},
			{"debt_outstanding", &r.DebtOutstanding}, {"total_debt", &r.TotalDebt},
			{"fee_shares", &r.FeeShares}, {"price_per_share", &r.PricePerShare},
		}
		for i, t := range targets {
			v, err := parseNumeric(t.name, amounts[i])
			if err != nil {
				return nil, err
			}
			*t.dst = v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: harvest report rows: %w", err)
	}
	return out, nil
}

var _ domain.ReportStore = (*ReportStore)(nil)
