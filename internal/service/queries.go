package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// StrategyView joins a registered strategy with its vault record.
type StrategyView struct {
	Name            string                 `json:"name"`
	Kind            string                 `json:"kind"`
	Address         common.Address         `json:"address"`
	Attached        bool                   `json:"attached"`
	QueuePosition   int                    `json:"queue_position"`
	Record          *domain.StrategyRecord `json:"record,omitempty"`
	CreditAvailable *big.Int               `json:"credit_available,omitempty"`
	DebtOutstanding *big.Int               `json:"debt_outstanding,omitempty"`
	EstimatedAssets *big.Int               `json:"estimated_total_assets,omitempty"`
}

// Strategies lists every registered strategy. QueuePosition is -1 for
// strategies outside the withdrawal queue.
func (s *VaultService) Strategies(ctx context.Context) []StrategyView {
	snap := s.vault.Snapshot()
	pos := make(map[common.Address]int, len(snap.Queue))
	for i, addr := range snap.Queue {
		pos[addr] = i
	}

	infos := s.strategies.ListInfo()
	views := make([]StrategyView, 0, len(infos))
	for _, info := range infos {
		v := StrategyView{Name: info.Name, Kind: info.Kind, Address: info.Address, QueuePosition: -1}
		if i, ok := pos[info.Address]; ok {
			v.QueuePosition = i
		}
		if rec, ok := snap.Record(info.Address); ok {
			v.Attached = true
			v.Record = &rec
			v.CreditAvailable = s.vault.CreditAvailable(info.Address)
			v.DebtOutstanding = s.vault.DebtOutstanding(info.Address)
		}
		if strat, err := s.strategies.Get(info.Name); err == nil {
			if est, err := strat.EstimatedTotalAssets(ctx); err == nil {
				v.EstimatedAssets = est
			}
		}
		views = append(views, v)
	}
	return views
}

// Reports lists stored harvest reports, optionally for one strategy.
func (s *VaultService) Reports(ctx context.Context, strat *common.Address, opts domain.ListOpts) ([]domain.HarvestReport, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("service: reports: %w", domain.ErrNotFound)
	}
	return s.reports.List(ctx, s.vault.Address(), strat, opts)
}

// AuditLog lists audit entries.
func (s *VaultService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("service: audit log: %w", domain.ErrNotFound)
	}
	return s.audit.List(ctx, opts)
}
