package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StateStore persists the latest settled snapshot of each vault.
type StateStore interface {
	Save(ctx context.Context, state *VaultState) error
	Load(ctx context.Context, vault common.Address) (*VaultState, error)
}

// ReportStore persists harvest reports.
type ReportStore interface {
	Insert(ctx context.Context, report HarvestReport) error
	List(ctx context.Context, vault common.Address, strategy *common.Address, opts ListOpts) ([]HarvestReport, error)
	ListBefore(ctx context.Context, before time.Time) ([]HarvestReport, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records an append-only audit trail.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
